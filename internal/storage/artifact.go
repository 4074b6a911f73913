package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/epgviewer/internal/metrics"
)

// Artifact cache TTL bounds.
const (
	DefaultArtifactTTL = 10 * time.Minute
	MinArtifactTTL     = time.Second
)

// minExportSize is the minimal plausible size for a rendered export file;
// anything smaller is treated as absent and rebuilt.
const minExportSize = 100

// diskEntry is the JSON wrapper persisted per cache key.
type diskEntry struct {
	ExpiresAt time.Time `json:"expiresAt"`
	Data      []byte    `json:"data"`
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// ArtifactCache is a two-tier (memory + disk) cache for fingerprinted
// artifacts. The memory tier answers hot lookups; the disk tier survives
// restarts and is promoted on miss. Disk writes are best-effort.
//
// Keys are content-addressed fingerprints, so the disk tier's
// last-writer-wins semantics are safe: equal keys imply equal values.
type ArtifactCache struct {
	schedulesDir string
	exportsDir   string
	logger       *slog.Logger

	// now is swapped in tests.
	now func() time.Time

	mu  sync.RWMutex
	mem map[string]memEntry
}

// NewArtifactCache creates the cache directories under <dataDir>/cache.
func NewArtifactCache(dataDir string, logger *slog.Logger) (*ArtifactCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	schedulesDir := filepath.Join(dataDir, "cache", "schedules")
	exportsDir := filepath.Join(dataDir, "cache", "exports")
	for _, dir := range []string{schedulesDir, exportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	return &ArtifactCache{
		schedulesDir: schedulesDir,
		exportsDir:   exportsDir,
		logger:       logger,
		now:          time.Now,
		mem:          make(map[string]memEntry),
	}, nil
}

// Get returns the cached bytes for key, consulting memory first and
// promoting a disk hit.
func (c *ArtifactCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		if c.now().Before(e.expiresAt) {
			metrics.RecordCacheHit()
			return e.data, true
		}
		c.mu.Lock()
		delete(c.mem, key)
		c.mu.Unlock()
	}

	raw, err := os.ReadFile(c.diskPath(key))
	if err != nil {
		metrics.RecordCacheMiss()
		return nil, false
	}
	var de diskEntry
	if err := json.Unmarshal(raw, &de); err != nil {
		metrics.RecordCacheMiss()
		return nil, false
	}
	if !c.now().Before(de.ExpiresAt) {
		_ = os.Remove(c.diskPath(key))
		metrics.RecordCacheMiss()
		return nil, false
	}

	c.mu.Lock()
	c.mem[key] = memEntry{data: de.Data, expiresAt: de.ExpiresAt}
	c.mu.Unlock()
	metrics.RecordCacheHit()
	return de.Data, true
}

// Set stores data under key in both tiers. TTL below the minimum is raised;
// zero selects the default.
func (c *ArtifactCache) Set(key string, data []byte, ttl time.Duration) {
	if ttl == 0 {
		ttl = DefaultArtifactTTL
	}
	if ttl < MinArtifactTTL {
		ttl = MinArtifactTTL
	}
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	c.mem[key] = memEntry{data: data, expiresAt: expiresAt}
	c.mu.Unlock()

	raw, err := json.Marshal(diskEntry{ExpiresAt: expiresAt, Data: data})
	if err == nil {
		err = renameio.WriteFile(c.diskPath(key), raw, 0o644)
	}
	if err != nil {
		c.logger.Warn("disk cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (c *ArtifactCache) diskPath(key string) string {
	return filepath.Join(c.schedulesDir, key+".json")
}

// ExportPath returns the file backing a rendered export fingerprint.
// Gzip exports carry the .xml.gz suffix, plain ones .xml.
func (c *ArtifactCache) ExportPath(fingerprint string, gzipped bool) string {
	if gzipped {
		return filepath.Join(c.exportsDir, fingerprint+".xml.gz")
	}
	return filepath.Join(c.exportsDir, fingerprint+".xml")
}

// ExportReady reports whether a previously rendered export exists and
// passes the minimal size validity check.
func (c *ArtifactCache) ExportReady(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > minExportSize
}
