// Package storage persists application state under a single data directory:
// settings and sources in settings.json, upstream feed mirrors with their
// snapshots, fingerprinted artifacts, and per-source rescan caches.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/epgviewer/internal/models"
)

const settingsFile = "settings.json"

// SettingsStore holds the process-wide settings, sources, and mappings.
//
// Reads return defensive copies so callers never observe a torn write.
// Writes are serialized and persisted to disk before returning.
type SettingsStore struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	state models.State
}

// NewSettingsStore loads settings.json from dataDir, applying defaults when
// the file does not exist yet.
func NewSettingsStore(dataDir string, logger *slog.Logger) (*SettingsStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s := &SettingsStore{
		path:   filepath.Join(dataDir, settingsFile),
		logger: logger,
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.state = models.State{
			Settings: models.DefaultSettings(),
			Mappings: make(map[string]models.ChannelMapping),
		}
	case err != nil:
		return nil, fmt.Errorf("reading settings: %w", err)
	default:
		if err := json.Unmarshal(data, &s.state); err != nil {
			return nil, fmt.Errorf("parsing settings: %w", err)
		}
		s.state.Settings.Normalize()
		if s.state.Mappings == nil {
			s.state.Mappings = make(map[string]models.ChannelMapping)
		}
	}

	return s, nil
}

// State returns a snapshot of the full persisted state.
func (s *SettingsStore) State() models.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Settings returns the current settings.
func (s *SettingsStore) Settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Settings
}

// UpdateSettings replaces the settings and persists.
func (s *SettingsStore) UpdateSettings(settings models.Settings) error {
	settings.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state.Settings
	s.state.Settings = settings
	if err := s.persistLocked(); err != nil {
		s.state.Settings = prev
		return err
	}
	return nil
}

// Sources returns a copy of all registered sources.
func (s *SettingsStore) Sources() []models.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Source, len(s.state.Sources))
	copy(out, s.state.Sources)
	return out
}

// Source looks up one source by id.
func (s *SettingsStore) Source(id models.ULID) (models.Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, src := range s.state.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return models.Source{}, false
}

// AddSource validates the source, assigns it an id, and persists.
func (s *SettingsStore) AddSource(src *models.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	src.ID = models.NewULID()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Sources = append(s.state.Sources, *src)
	if err := s.persistLocked(); err != nil {
		s.state.Sources = s.state.Sources[:len(s.state.Sources)-1]
		return err
	}
	return nil
}

// UpdateSource replaces an existing source by id and persists.
func (s *SettingsStore) UpdateSource(src models.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Sources {
		if s.state.Sources[i].ID == src.ID {
			prev := s.state.Sources[i]
			s.state.Sources[i] = src
			if err := s.persistLocked(); err != nil {
				s.state.Sources[i] = prev
				return err
			}
			return nil
		}
	}
	return models.ErrSourceNotFound
}

// DeleteSource removes a source by id and persists.
func (s *SettingsStore) DeleteSource(id models.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Sources {
		if s.state.Sources[i].ID == id {
			prev := s.state.Sources
			s.state.Sources = append(s.state.Sources[:i:i], s.state.Sources[i+1:]...)
			if err := s.persistLocked(); err != nil {
				s.state.Sources = prev
				return err
			}
			return nil
		}
	}
	return models.ErrSourceNotFound
}

// RecordSourceScan updates a source's rescan bookkeeping and persists.
func (s *SettingsStore) RecordSourceScan(id models.ULID, at time.Time, channelCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Sources {
		if s.state.Sources[i].ID == id {
			s.state.Sources[i].LastScannedAt = &at
			s.state.Sources[i].ChannelCount = &channelCount
			return s.persistLocked()
		}
	}
	return models.ErrSourceNotFound
}

// Mappings returns a copy of all channel mappings, keyed by playlist id.
func (s *SettingsStore) Mappings() map[string]models.ChannelMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.ChannelMapping, len(s.state.Mappings))
	for k, v := range s.state.Mappings {
		out[k] = v
	}
	return out
}

// UpsertMappings validates and stores mappings, then persists once.
func (s *SettingsStore) UpsertMappings(mappings []models.ChannelMapping) error {
	for i := range mappings {
		if err := mappings[i].Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mappings {
		s.state.Mappings[m.ChannelID] = m
	}
	return s.persistLocked()
}

// persistLocked writes settings.json atomically. Caller holds the write lock.
func (s *SettingsStore) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}
