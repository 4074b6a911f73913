package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/epgviewer/internal/metrics"
	"github.com/jmylchreest/epgviewer/pkg/httpclient"
)

// Retention defaults for mirror snapshots.
const (
	DefaultRetentionDays = 21
	DefaultKeepMax       = 40
)

// snapshotTimeLayout is the UTC second-precision timestamp embedded in
// snapshot file names.
const snapshotTimeLayout = "20060102150405"

// serverRetryDelay is the pause before the single unconditional retry that
// follows a 5xx response.
const serverRetryDelay = 2 * time.Second

// ErrNoMirror indicates no local copy exists for a URL after a failed fetch.
var ErrNoMirror = errors.New("no mirror available")

// MirrorMeta is the per-URL metadata persisted alongside the current file.
type MirrorMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
	IsGz         bool      `json:"isGz"`
	SavedAt      time.Time `json:"savedAt"`
}

// Snapshot is an immutable rotated copy of a mirror's previous current file.
type Snapshot struct {
	Path  string
	Taken time.Time
	IsGz  bool
}

// FetchResult describes the local file backing a URL after Fetch.
type FetchResult struct {
	Path string
	IsGz bool

	// NotModified is set when the upstream returned 304 and the existing
	// file was reused.
	NotModified bool

	// Stale is set when the upstream was unreachable and an older mirror
	// was served instead.
	Stale bool
}

// MirrorSignature captures the upstream identity of a mirror for cache
// fingerprinting.
type MirrorSignature struct {
	URL          string   `json:"url"`
	ETag         string   `json:"etag,omitempty"`
	LastModified string   `json:"lastModified,omitempty"`
	Size         int64    `json:"size"`
	ModTimeUnix  int64    `json:"mtime"`
	Snapshots    []string `json:"snapshots,omitempty"`
}

// MirrorStore maintains local copies of upstream XMLTV feeds under
// <data>/mirror, one current file plus timestamped snapshots per URL.
//
// Fetch serializes per URL: revalidation, rotation, write, and metadata
// update never interleave for the same upstream.
type MirrorStore struct {
	dir    string
	client *httpclient.Client
	logger *slog.Logger

	retentionDays int
	keepMax       int
	retryDelay    time.Duration

	// now is swapped in tests to control snapshot naming.
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMirrorStore creates a store rooted at <dataDir>/mirror. The client is
// used without transparent decompression so upstream bytes land verbatim.
func NewMirrorStore(dataDir string, client *httpclient.Client, logger *slog.Logger) (*MirrorStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.EnableDecompression = false
		client = httpclient.New(cfg)
	}

	dir := filepath.Join(dataDir, "mirror")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating mirror directory: %w", err)
	}

	return &MirrorStore{
		dir:           dir,
		client:        client,
		logger:        logger,
		retentionDays: DefaultRetentionDays,
		keepMax:       DefaultKeepMax,
		retryDelay:    serverRetryDelay,
		now:           time.Now,
		locks:         make(map[string]*sync.Mutex),
	}, nil
}

// SetRetention overrides the snapshot retention policy.
func (m *MirrorStore) SetRetention(days, keepMax int) {
	if days > 0 {
		m.retentionDays = days
	}
	if keepMax > 0 {
		m.keepMax = keepMax
	}
}

// SetRetryDelay overrides the pause before the unconditional retry that
// follows a 5xx response.
func (m *MirrorStore) SetRetryDelay(d time.Duration) {
	if d > 0 {
		m.retryDelay = d
	}
}

// Key returns the stable directory key for a URL.
func (m *MirrorStore) Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:16])
}

// urlLock returns the mutex serializing operations for one URL.
func (m *MirrorStore) urlLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

func (m *MirrorStore) currentPath(key string, isGz bool) string {
	if isGz {
		return filepath.Join(m.dir, key+".xmltv.gz")
	}
	return filepath.Join(m.dir, key+".xmltv")
}

func (m *MirrorStore) metaPath(key string) string {
	return filepath.Join(m.dir, key+".json")
}

// readMeta loads metadata for a key; ok is false when none exists.
func (m *MirrorStore) readMeta(key string) (MirrorMeta, bool) {
	data, err := os.ReadFile(m.metaPath(key))
	if err != nil {
		return MirrorMeta{}, false
	}
	var meta MirrorMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return MirrorMeta{}, false
	}
	return meta, true
}

func (m *MirrorStore) writeMeta(key string, meta MirrorMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(m.metaPath(key), data, 0o644)
}

// Current returns the existing mirror file for a URL, if any.
func (m *MirrorStore) Current(url string) (FetchResult, bool) {
	key := m.Key(url)
	meta, ok := m.readMeta(key)
	if !ok {
		return FetchResult{}, false
	}
	path := m.currentPath(key, meta.IsGz)
	if _, err := os.Stat(path); err != nil {
		return FetchResult{}, false
	}
	return FetchResult{Path: path, IsGz: meta.IsGz}, true
}

// Fetch revalidates the mirror for url and returns the local file to parse.
//
// Protocol: conditional GET when metadata exists; 304 reuses the current
// file (refetching unconditionally if it was rotated away); a 5xx gets one
// unconditional retry after a short delay; 2xx rotates the old current into
// a snapshot, streams the body to a temp file, atomically renames, writes
// metadata, and prunes. Network failure falls back to the existing mirror
// when one exists.
func (m *MirrorStore) Fetch(ctx context.Context, url string) (FetchResult, error) {
	key := m.Key(url)
	lock := m.urlLock(key)
	lock.Lock()
	defer lock.Unlock()

	meta, hasMeta := m.readMeta(key)

	res, err := m.fetchLocked(ctx, url, key, meta, hasMeta, true, true)
	if err == nil {
		if res.NotModified {
			metrics.RecordMirrorFetch("not_modified")
		} else {
			metrics.RecordMirrorFetch("fetched")
		}
		return res, nil
	}

	// Upstream unavailable. Serve the mirror when we have one.
	if hasMeta {
		path := m.currentPath(key, meta.IsGz)
		if _, statErr := os.Stat(path); statErr == nil {
			m.logger.Warn("upstream fetch failed, serving stale mirror",
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
			metrics.RecordMirrorFetch("stale")
			return FetchResult{Path: path, IsGz: meta.IsGz, Stale: true}, nil
		}
	}
	metrics.RecordMirrorFetch("error")
	return FetchResult{}, fmt.Errorf("%w: %v", ErrNoMirror, err)
}

func (m *MirrorStore) fetchLocked(ctx context.Context, url, key string, meta MirrorMeta, conditional, allowRefetch, retryServer bool) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("creating request: %w", err)
	}
	if conditional {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		path := m.currentPath(key, meta.IsGz)
		if _, err := os.Stat(path); err == nil {
			return FetchResult{Path: path, IsGz: meta.IsGz, NotModified: true}, nil
		}
		// Current file was rotated or removed; a 304 cannot restore it.
		if !allowRefetch {
			return FetchResult{}, fmt.Errorf("304 with missing current file for %s", url)
		}
		return m.fetchLocked(ctx, url, key, meta, false, false, retryServer)

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return m.store(key, resp, url)

	case resp.StatusCode >= 500:
		if !retryServer {
			return FetchResult{}, fmt.Errorf("upstream status %d fetching %s", resp.StatusCode, url)
		}
		// One retry, unconditional: the conditional headers are dropped so
		// a recovered upstream answers with a full body instead of a 304.
		m.logger.Warn("upstream server error, retrying once",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
		)
		select {
		case <-ctx.Done():
			return FetchResult{}, ctx.Err()
		case <-time.After(m.retryDelay):
		}
		return m.fetchLocked(ctx, url, key, meta, false, allowRefetch, false)

	default:
		return FetchResult{}, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
}

// store rotates the previous current file and streams the new body in.
func (m *MirrorStore) store(key string, resp *http.Response, url string) (FetchResult, error) {
	isGz := detectGzip(resp, url)
	target := m.currentPath(key, isGz)

	// Rotate whichever current file exists, regardless of extension.
	if prev, ok := m.Current(url); ok {
		if err := m.rotate(key, prev.Path, prev.IsGz); err != nil {
			return FetchResult{}, fmt.Errorf("rotating mirror: %w", err)
		}
	}

	pending, err := renameio.TempFile(m.dir, target)
	if err != nil {
		return FetchResult{}, fmt.Errorf("creating temp file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, resp.Body); err != nil {
		return FetchResult{}, fmt.Errorf("streaming body: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return FetchResult{}, fmt.Errorf("replacing current file: %w", err)
	}

	meta := MirrorMeta{
		URL:          url,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		IsGz:         isGz,
		SavedAt:      m.now().UTC(),
	}
	if err := m.writeMeta(key, meta); err != nil {
		return FetchResult{}, fmt.Errorf("writing metadata: %w", err)
	}

	if err := m.pruneLocked(key); err != nil {
		m.logger.Warn("snapshot prune failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
	}

	return FetchResult{Path: target, IsGz: isGz}, nil
}

// rotate renames the current file into a timestamped snapshot. A name
// collision within the same second retries with the next second.
func (m *MirrorStore) rotate(key, currentPath string, isGz bool) error {
	ts := m.now().UTC()
	for {
		name := fmt.Sprintf("%s.%s.xmltv", key, ts.Format(snapshotTimeLayout))
		if isGz {
			name += ".gz"
		}
		target := filepath.Join(m.dir, name)
		if _, err := os.Stat(target); err == nil {
			ts = ts.Add(time.Second)
			continue
		}
		if err := os.Rename(currentPath, target); err != nil {
			return err
		}
		metrics.MirrorSnapshots.Inc()
		return nil
	}
}

// ListSnapshots returns a URL's snapshots sorted newest first.
func (m *MirrorStore) ListSnapshots(url string) ([]Snapshot, error) {
	return m.listSnapshots(m.Key(url))
}

func (m *MirrorStore) listSnapshots(key string) ([]Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var snaps []Snapshot
	prefix := key + "."
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		isGz := strings.HasSuffix(rest, ".xmltv.gz")
		tsPart := strings.TrimSuffix(strings.TrimSuffix(rest, ".gz"), ".xmltv")
		taken, err := time.Parse(snapshotTimeLayout, tsPart)
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			Path:  filepath.Join(m.dir, name),
			Taken: taken.UTC(),
			IsGz:  isGz,
		})
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Taken.After(snaps[j].Taken) })
	return snaps, nil
}

// Prune applies the retention policy to one URL's snapshots.
func (m *MirrorStore) Prune(url string) error {
	key := m.Key(url)
	lock := m.urlLock(key)
	lock.Lock()
	defer lock.Unlock()
	return m.pruneLocked(key)
}

// pruneLocked deletes snapshots older than the retention window or beyond
// keepMax when sorted newest first.
func (m *MirrorStore) pruneLocked(key string) error {
	snaps, err := m.listSnapshots(key)
	if err != nil {
		return err
	}

	cutoff := m.now().UTC().AddDate(0, 0, -m.retentionDays)
	var firstErr error
	for i, s := range snaps {
		if i < m.keepMax && !s.Taken.Before(cutoff) {
			continue
		}
		if err := os.Remove(s.Path); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.MirrorSnapshots.Dec()
	}
	return firstErr
}

// PruneAll applies the retention policy to every mirrored URL.
func (m *MirrorStore) PruneAll() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	var firstErr error
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		lock := m.urlLock(key)
		lock.Lock()
		err := m.pruneLocked(key)
		lock.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Signature returns the fingerprint inputs for a URL's mirror state.
func (m *MirrorStore) Signature(url string) MirrorSignature {
	key := m.Key(url)
	sig := MirrorSignature{URL: url}

	if meta, ok := m.readMeta(key); ok {
		sig.ETag = meta.ETag
		sig.LastModified = meta.LastModified
		if info, err := os.Stat(m.currentPath(key, meta.IsGz)); err == nil {
			sig.Size = info.Size()
			sig.ModTimeUnix = info.ModTime().Unix()
		}
	}

	if snaps, err := m.listSnapshots(key); err == nil {
		for _, s := range snaps {
			sig.Snapshots = append(sig.Snapshots, s.Taken.Format(snapshotTimeLayout))
		}
	}
	return sig
}

// detectGzip decides whether the response body is gzip compressed.
func detectGzip(resp *http.Response, url string) bool {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(ct, "gzip") {
		return true
	}
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(strings.SplitN(url, "?", 2)[0]), ".gz")
}
