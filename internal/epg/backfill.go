package epg

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/epgviewer/pkg/xmltv"
)

// backfill merges historical programmes from mirror snapshots into an
// assembled schedule.
//
// Snapshots are walked newest-first per group. A snapshot that contributes
// nothing new ends that group's walk, as does reaching a snapshot taken
// before the window start: anything older cannot carry in-window data.
func (a *Assembler) backfill(ctx context.Context, req Request, groups []*Group, schedule *Schedule) {
	now := a.now()

	from := req.From
	to := req.To
	if req.Full {
		from = time.Time{}
		to = now
	} else if to.After(now) {
		to = now
	}

	seen := make(map[string]map[string]struct{}, len(schedule.Channels))
	for id, progs := range schedule.Channels {
		byStart := make(map[string]struct{}, len(progs))
		for _, p := range progs {
			byStart[p.StartRaw] = struct{}{}
		}
		seen[id] = byStart
	}

	for _, g := range groups {
		snaps, err := a.mirror.ListSnapshots(g.SourceURL)
		if err != nil {
			a.logger.Warn("listing snapshots failed",
				slog.String("url", g.SourceURL),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, snap := range snaps {
			if ctx.Err() != nil {
				return
			}

			added := a.backfillSnapshot(ctx, g, snap.Path, req, from, to, schedule, seen)
			if added == 0 {
				break
			}
			if !req.Full && !from.IsZero() && snap.Taken.Before(from) {
				break
			}
		}
	}
}

// backfillSnapshot parses one snapshot and inserts programmes not already
// present. Returns the number of programmes added.
func (a *Assembler) backfillSnapshot(ctx context.Context, g *Group, path string, req Request, from, to time.Time, schedule *Schedule, seen map[string]map[string]struct{}) int {
	filter := xmltv.NewFilter()
	if !g.AllowAll {
		filter.WithAllowedIDSet(g.AllowedIDs)
	}
	if !from.IsZero() || !to.IsZero() {
		filter.WithWindow(from, to)
	}

	added := 0
	parser := &xmltv.Parser{
		Filter: filter,
		OnProgramme: func(p *xmltv.Programme) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			norm := xmltv.NormalizeID(p.Channel)
			playlistID, accepted := g.PlaylistID(norm)
			if !accepted {
				return nil
			}
			if playlistID == "" {
				playlistID = p.Channel
			}

			byStart, ok := seen[playlistID]
			if !ok {
				byStart = make(map[string]struct{})
				seen[playlistID] = byStart
			}
			if _, dup := byStart[p.StartRaw]; dup {
				return nil
			}
			byStart[p.StartRaw] = struct{}{}

			prog := toModel(p, playlistID)
			if m, ok := req.Mappings[playlistID]; ok && m.OffsetMinutes != 0 {
				prog = prog.Shifted(m.Offset())
			}
			schedule.Channels[playlistID] = append(schedule.Channels[playlistID], prog)
			added++
			return nil
		},
	}

	a.countParse()
	file, err := os.Open(path)
	if err != nil {
		a.logger.Warn("opening snapshot failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return 0
	}
	defer file.Close()

	if err := parser.ParseCompressed(file); err != nil {
		a.logger.Warn("snapshot parse failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	return added
}
