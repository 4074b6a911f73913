// Package handlers implements the epgviewer HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/epgviewer/internal/epg"
	"github.com/jmylchreest/epgviewer/internal/export"
	"github.com/jmylchreest/epgviewer/internal/metrics"
	"github.com/jmylchreest/epgviewer/internal/models"
	"github.com/jmylchreest/epgviewer/internal/prewarm"
	"github.com/jmylchreest/epgviewer/internal/storage"
	"github.com/jmylchreest/epgviewer/internal/urlutil"
	"github.com/jmylchreest/epgviewer/pkg/m3u"
)

// Deps carries the shared service dependencies injected into every handler.
type Deps struct {
	Settings    *storage.SettingsStore
	SourceCache *storage.SourceCache
	Mirror      *storage.MirrorStore
	Assembler   *epg.Assembler
	Renderer    *export.Renderer
	Prewarm     *prewarm.Scheduler
	Fetcher     *urlutil.ResourceFetcher
	Logger      *slog.Logger

	// Now is swapped in tests.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// RegisterAll wires every API operation and raw route onto the server.
func RegisterAll(api huma.API, router *chi.Mux, deps *Deps, version string) {
	NewChannelsHandler(deps).Register(api)
	NewEpgHandler(deps).Register(api, router)
	NewExportHandler(deps).Register(api, router)
	NewSettingsHandler(deps).Register(api)
	NewSourcesHandler(deps).Register(api)
	NewMappingsHandler(deps).Register(api)
	NewHealthHandler(deps, version).Register(api)

	router.Method(http.MethodGet, "/metrics", metrics.Handler())
}

// loadPlaylist fetches and parses an M3U playlist, returning its channels
// and any url-tvg EPG hint from the header.
func (d *Deps) loadPlaylist(ctx context.Context, url string) ([]models.PlaylistChannel, string, error) {
	rc, err := d.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, "", fmt.Errorf("fetching playlist: %w", err)
	}
	defer rc.Close()

	var (
		channels []models.PlaylistChannel
		hint     string
	)
	parser := &m3u.Parser{
		OnHeader: func(attrs map[string]string) {
			hint = m3u.EpgHint(attrs)
		},
		OnEntry: func(e *m3u.Entry) error {
			channels = append(channels, models.PlaylistChannel{
				ID:        e.ID(),
				Name:      e.Title,
				Group:     e.GroupTitle,
				LogoURL:   e.TvgLogo,
				StreamURL: e.URL,
			})
			return nil
		},
		OnError: func(lineNum int, err error) {
			d.logger().Debug("playlist parse error",
				slog.Int("line", lineNum),
				slog.String("error", err.Error()),
			)
		},
	}
	if err := parser.ParseCompressed(rc); err != nil {
		return nil, "", fmt.Errorf("parsing playlist: %w", err)
	}
	return channels, hint, nil
}

// resolveFeeds determines the effective playlist and default EPG URL for a
// request. Explicit query parameters win over stored settings; the
// playlist's url-tvg hint slots in between when usePlaylistEpg is on.
func (d *Deps) resolveFeeds(ctx context.Context, playlistParam, epgParam string) ([]models.PlaylistChannel, string, error) {
	settings := d.Settings.Settings()

	playlistURL := playlistParam
	if playlistURL == "" {
		playlistURL = settings.PlaylistURL
	}

	var (
		channels []models.PlaylistChannel
		hint     string
	)
	if playlistURL != "" {
		var err error
		channels, hint, err = d.loadPlaylist(ctx, playlistURL)
		if err != nil {
			return nil, "", err
		}
	}

	epgURL := epgParam
	if epgURL == "" && settings.UsePlaylistEpg && hint != "" {
		epgURL = hint
	}
	if epgURL == "" {
		epgURL = settings.EpgURL
	}
	return channels, epgURL, nil
}

// buildRequest assembles the full pipeline request for the given feeds and
// window. A zero from/to with full=false applies the settings window.
func (d *Deps) buildRequest(ctx context.Context, playlistParam, epgParam string, from, to time.Time, full bool) (epg.Request, error) {
	channels, epgURL, err := d.resolveFeeds(ctx, playlistParam, epgParam)
	if err != nil {
		return epg.Request{}, err
	}

	settings := d.Settings.Settings()
	if !full && from.IsZero() && to.IsZero() {
		now := d.now()
		from = now.Add(-time.Duration(settings.PastDays) * 24 * time.Hour)
		to = now.Add(time.Duration(settings.FutureDays) * 24 * time.Hour)
	}

	return epg.Request{
		Playlist:        channels,
		Mappings:        d.Settings.Mappings(),
		Sources:         d.Settings.Sources(),
		DefaultEpgURL:   epgURL,
		From:            from,
		To:              to,
		Full:            full,
		HistoryBackfill: settings.HistoryBackfill,
	}, nil
}

// BuildDefaultExport renders the full gzipped export for the configured
// feeds into the artifact cache. The scheduled prewarm job runs this so
// the first download after a feed refresh is a cache hit.
func (d *Deps) BuildDefaultExport(ctx context.Context) error {
	req, err := d.buildRequest(ctx, "", "", time.Time{}, time.Time{}, true)
	if err != nil {
		return err
	}
	schedule, _, err := d.Assembler.Assemble(ctx, req)
	if err != nil {
		return err
	}

	fingerprint := d.Assembler.Fingerprint(epg.KindExportGz, req)
	if _, ready := d.Renderer.CachedPath(fingerprint, true); ready {
		return nil
	}
	return d.Renderer.Render(ctx, io.Discard, export.Params{
		Schedule:    schedule,
		Mappings:    req.Mappings,
		Gzip:        true,
		Fingerprint: fingerprint,
	})
}

// windowFromDays converts day counts around now into a concrete window.
func (d *Deps) windowFromDays(pastDays, futureDays int) (time.Time, time.Time) {
	now := d.now()
	return now.Add(-time.Duration(pastDays) * 24 * time.Hour),
		now.Add(time.Duration(futureDays) * 24 * time.Hour)
}

// writeJSONError writes the {"error": message} wire shape on raw routes.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
