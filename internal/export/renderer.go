// Package export renders assembled schedules as XMLTV documents, plain or
// gzipped, teeing the byte stream into the artifact cache.
package export

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/epgviewer/internal/epg"
	"github.com/jmylchreest/epgviewer/internal/models"
	"github.com/jmylchreest/epgviewer/internal/storage"
	"github.com/jmylchreest/epgviewer/internal/timeshift"
	"github.com/jmylchreest/epgviewer/pkg/xmltv"
)

// gzipLevel is the single deflate level used for gzipped exports.
const gzipLevel = 6

// Params describes one render.
type Params struct {
	Schedule *epg.Schedule
	Mappings map[string]models.ChannelMapping

	// Gzip selects the compressed variant.
	Gzip bool

	// Fingerprint, when set, tees the output into the artifact cache under
	// this key. The cache file is promoted atomically on success only.
	Fingerprint string
}

// Renderer writes XMLTV export documents.
type Renderer struct {
	engine *timeshift.Engine
	cache  *storage.ArtifactCache
	logger *slog.Logger
}

// NewRenderer wires a renderer over the shift engine and artifact cache.
func NewRenderer(engine *timeshift.Engine, cache *storage.ArtifactCache, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{engine: engine, cache: cache, logger: logger}
}

// CachedPath returns the ready cache file for a fingerprint, if any.
func (r *Renderer) CachedPath(fingerprint string, gzipped bool) (string, bool) {
	path := r.cache.ExportPath(fingerprint, gzipped)
	return path, r.cache.ExportReady(path)
}

// Render streams the document to w. When Params.Fingerprint is set the
// same bytes land in the cache file; a cancelled or failed render abandons
// the temp file so no partial artifact appears at the final path.
func (r *Renderer) Render(ctx context.Context, w io.Writer, p Params) error {
	var pending *renameio.PendingFile
	out := w

	if p.Fingerprint != "" {
		target := r.cache.ExportPath(p.Fingerprint, p.Gzip)
		pf, err := renameio.TempFile("", target)
		if err != nil {
			// Cache tee failure is not fatal for the client stream.
			r.logger.Warn("export cache tee unavailable",
				slog.String("fingerprint", p.Fingerprint),
				slog.String("error", err.Error()),
			)
		} else {
			pending = pf
			defer pending.Cleanup()
			out = io.MultiWriter(w, pending)
		}
	}

	if err := r.render(ctx, out, p); err != nil {
		return err
	}

	if pending != nil {
		if err := pending.CloseAtomicallyReplace(); err != nil {
			r.logger.Warn("export cache promote failed",
				slog.String("fingerprint", p.Fingerprint),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (r *Renderer) render(ctx context.Context, out io.Writer, p Params) error {
	if p.Gzip {
		gz, err := gzip.NewWriterLevel(out, gzipLevel)
		if err != nil {
			return fmt.Errorf("creating gzip writer: %w", err)
		}
		if err := r.writeDocument(ctx, gz, p); err != nil {
			gz.Close()
			return err
		}
		return gz.Close()
	}
	return r.writeDocument(ctx, out, p)
}

func (r *Renderer) writeDocument(ctx context.Context, out io.Writer, p Params) error {
	w := xmltv.NewWriter(out)

	for _, id := range p.Schedule.Order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteChannel(r.channelHeader(id, p.Schedule)); err != nil {
			return fmt.Errorf("writing channel %s: %w", id, err)
		}
	}

	for _, id := range p.Schedule.Order {
		mapping := p.Mappings[id]
		for i := range p.Schedule.Channels[id] {
			if err := ctx.Err(); err != nil {
				return err
			}
			prog, err := r.renderProgramme(&p.Schedule.Channels[id][i], mapping)
			if err != nil {
				r.logger.Warn("skipping programme with bad timestamp",
					slog.String("channel", id),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := w.WriteProgramme(prog); err != nil {
				return fmt.Errorf("writing programme: %w", err)
			}
		}
	}

	return w.Close()
}

// channelHeader picks the display name and icon: playlist metadata first,
// then EPG metadata, then the bare id.
func (r *Renderer) channelHeader(id string, s *epg.Schedule) *xmltv.Channel {
	ch := &xmltv.Channel{ID: id}

	if pl, ok := s.Playlist[id]; ok {
		ch.DisplayName = pl.Name
		ch.Icon = pl.LogoURL
	}
	if meta, ok := s.EpgMeta[id]; ok {
		if ch.DisplayName == "" {
			ch.DisplayName = meta.DisplayName
		}
		if ch.Icon == "" {
			ch.Icon = meta.IconURL
		}
	}
	if ch.DisplayName == "" {
		ch.DisplayName = id
	}
	return ch
}

// renderProgramme formats one programme's timestamps for the wire.
//
// Per-channel offsets were already applied to the instants during
// assembly, so wall-mode formatting runs with a zero offset; offset mode
// still adjusts the numeric suffix from the raw text.
func (r *Renderer) renderProgramme(p *models.Programme, m models.ChannelMapping) (*xmltv.Programme, error) {
	out := &xmltv.Programme{
		Channel:     p.ChannelID,
		Start:       p.StartUTC,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		Icon:        p.IconURL,
	}
	if p.StopUTC != nil {
		stop := *p.StopUTC
		out.Stop = &stop
	}

	if r.engine.FastPath(m) {
		out.StartRaw = r.engine.Passthrough(p.StartRaw)
		if p.StopRaw != "" {
			out.StopRaw = r.engine.Passthrough(p.StopRaw)
		}
		return out, nil
	}

	fm := m
	if fm.EffectiveMode() == models.ShiftModeWall {
		fm.OffsetMinutes = 0
	}

	start, err := r.engine.Format(p.StartUTC, p.StartRaw, fm)
	if err != nil {
		return nil, err
	}
	out.StartRaw = start

	if p.StopUTC != nil {
		stop, err := r.engine.Format(*p.StopUTC, p.StopRaw, fm)
		if err != nil {
			return nil, err
		}
		out.StopRaw = stop
	}
	return out, nil
}
