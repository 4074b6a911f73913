package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/epgviewer/internal/models"
)

// SourceCache persists rescan results under <data>/source-cache, one JSON
// file per source id.
type SourceCache struct {
	dir string
}

// NewSourceCache creates the source-cache directory.
func NewSourceCache(dataDir string) (*SourceCache, error) {
	dir := filepath.Join(dataDir, "source-cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating source cache directory: %w", err)
	}
	return &SourceCache{dir: dir}, nil
}

func (c *SourceCache) path(id models.ULID) string {
	return filepath.Join(c.dir, id.String()+".json")
}

// Put stores a rescan result atomically.
func (c *SourceCache) Put(sc models.SourceChannels) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding source channels: %w", err)
	}
	if err := renameio.WriteFile(c.path(sc.SourceID), data, 0o644); err != nil {
		return fmt.Errorf("writing source channels: %w", err)
	}
	return nil
}

// Get loads the cached rescan result for a source; ok is false when none
// has been stored.
func (c *SourceCache) Get(id models.ULID) (models.SourceChannels, bool) {
	data, err := os.ReadFile(c.path(id))
	if err != nil {
		return models.SourceChannels{}, false
	}
	var sc models.SourceChannels
	if err := json.Unmarshal(data, &sc); err != nil {
		return models.SourceChannels{}, false
	}
	return sc, true
}

// Delete removes a source's cached channel list.
func (c *SourceCache) Delete(id models.ULID) error {
	err := os.Remove(c.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
