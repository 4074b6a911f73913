package epg

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/epgviewer/internal/metrics"
	"github.com/jmylchreest/epgviewer/internal/models"
	"github.com/jmylchreest/epgviewer/internal/storage"
	"github.com/jmylchreest/epgviewer/pkg/xmltv"
)

// ErrNoFeeds indicates every merge group's upstream was unreachable and no
// mirror existed to fall back on. A schedule built from nothing would be an
// empty document masquerading as a real one, so assembly refuses instead.
var ErrNoFeeds = errors.New("no feed available for any merge group")

// Request describes one schedule assembly.
type Request struct {
	Playlist      []models.PlaylistChannel
	Mappings      map[string]models.ChannelMapping
	Sources       []models.Source
	DefaultEpgURL string

	// From/To bound the half-open window [From, To). Full disables the
	// window entirely.
	From time.Time
	To   time.Time
	Full bool

	// HistoryBackfill merges programmes from mirror snapshots when the
	// window reaches into the past.
	HistoryBackfill bool
}

// Schedule is the merged, sorted assembly result. Programme instants carry
// any per-channel offset pre-applied; raw timestamps stay original.
type Schedule struct {
	// Order enumerates channel ids in output order: playlist order when a
	// playlist exists, else feed discovery order.
	Order []string `json:"order"`

	// Channels maps playlist channel id to its sorted programmes.
	Channels map[string][]models.Programme `json:"channels"`

	// EpgMeta holds merged channel metadata keyed by playlist id.
	EpgMeta map[string]models.EpgChannel `json:"epgMeta"`

	// Playlist carries the playlist channel records keyed by id.
	Playlist map[string]models.PlaylistChannel `json:"playlist"`
}

// Assembler drives the mirror fetch, parallel parse, merge, and backfill
// pipeline, caching results by fingerprint.
type Assembler struct {
	mirror *storage.MirrorStore
	cache  *storage.ArtifactCache
	logger *slog.Logger

	cacheTTL time.Duration

	// now is swapped in tests.
	now func() time.Time

	parses atomic.Int64
}

// NewAssembler wires an assembler over the mirror store and artifact cache.
func NewAssembler(mirror *storage.MirrorStore, cache *storage.ArtifactCache, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		mirror:   mirror,
		cache:    cache,
		logger:   logger,
		cacheTTL: storage.DefaultArtifactTTL,
		now:      time.Now,
	}
}

// WithCacheTTL overrides how long assembled schedules stay cached.
func (a *Assembler) WithCacheTTL(ttl time.Duration) *Assembler {
	if ttl > 0 {
		a.cacheTTL = ttl
	}
	return a
}

// ParseCount reports how many file parses have run. Cache hits do not
// increase it.
func (a *Assembler) ParseCount() int64 {
	return a.parses.Load()
}

// countParse tallies one full document parse, locally and in Prometheus.
func (a *Assembler) countParse() {
	a.parses.Add(1)
	metrics.DocumentParses.Inc()
}

// groupResult is one group's parsed contribution before the merge.
type groupResult struct {
	group      *Group
	programmes map[string][]models.Programme
	meta       map[string]models.EpgChannel
	discovered []string
}

// Assemble runs the full pipeline and returns the schedule plus the
// fingerprint it is cached under.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Schedule, string, error) {
	groups := Plan(req.Playlist, req.Mappings, req.Sources, req.DefaultEpgURL)

	// Revalidate every group's mirror up front; failures degrade the
	// affected group instead of aborting the assembly.
	fetched := make([]storage.FetchResult, len(groups))
	ok := make([]bool, len(groups))

	var fg errgroup.Group
	for i, g := range groups {
		fg.Go(func() error {
			res, err := a.mirror.Fetch(ctx, g.SourceURL)
			if err != nil {
				a.logger.Warn("merge group has no feed",
					slog.String("url", g.SourceURL),
					slog.String("error", err.Error()),
				)
				return nil
			}
			fetched[i] = res
			ok[i] = true
			return nil
		})
	}
	if err := fg.Wait(); err != nil {
		return nil, "", err
	}

	// Partial failures degrade; losing every feed at once does not. An
	// all-failed assembly would cache and serve an empty schedule as if the
	// upstreams had published one.
	if len(groups) > 0 {
		healthy := 0
		for i := range groups {
			if ok[i] {
				healthy++
			}
		}
		if healthy == 0 {
			return nil, "", ErrNoFeeds
		}
	}

	fingerprint := a.fingerprint(KindEpg, groups, req)
	if data, hit := a.cache.Get(fingerprint); hit {
		var cached Schedule
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, fingerprint, nil
		}
	}

	results := make([]*groupResult, len(groups))
	var pg errgroup.Group
	for i, g := range groups {
		if !ok[i] {
			continue
		}
		res := fetched[i]
		pg.Go(func() error {
			gr, err := a.parseGroup(ctx, g, res.Path, req)
			if err != nil {
				a.logger.Warn("merge group parse failed",
					slog.String("url", g.SourceURL),
					slog.String("error", err.Error()),
				)
				return nil
			}
			results[i] = gr
			return nil
		})
	}
	if err := pg.Wait(); err != nil {
		return nil, "", err
	}

	schedule := a.merge(req, groups, results)

	if req.HistoryBackfill && a.windowReachesPast(req) {
		a.backfill(ctx, req, groups, schedule)
	}

	for id := range schedule.Channels {
		sortProgrammes(schedule.Channels[id])
	}

	if data, err := json.Marshal(schedule); err == nil {
		a.cache.Set(fingerprint, data, a.cacheTTL)
	}

	return schedule, fingerprint, nil
}

// Fingerprint computes the cache key for a request under a given artifact
// kind without running the pipeline. Mirrors are not revalidated.
func (a *Assembler) Fingerprint(kind string, req Request) string {
	groups := Plan(req.Playlist, req.Mappings, req.Sources, req.DefaultEpgURL)
	return a.fingerprint(kind, groups, req)
}

func (a *Assembler) fingerprint(kind string, groups []*Group, req Request) string {
	sigs := make([]storage.MirrorSignature, 0, len(groups))
	for _, g := range groups {
		sigs = append(sigs, a.mirror.Signature(g.SourceURL))
	}
	ids := make([]string, 0, len(req.Playlist))
	for _, p := range req.Playlist {
		ids = append(ids, p.ID)
	}
	return NewFingerprintKey(kind, sigs, ids, req.Mappings, req.From, req.To, req.Full).Hash()
}

// parseGroup stream-parses one mirror file under the group's filter.
func (a *Assembler) parseGroup(ctx context.Context, g *Group, path string, req Request) (*groupResult, error) {
	gr := &groupResult{
		group:      g,
		programmes: make(map[string][]models.Programme),
		meta:       make(map[string]models.EpgChannel),
	}

	filter := xmltv.NewFilter()
	if !g.AllowAll {
		filter.WithAllowedIDSet(g.AllowedIDs)
	}
	if !req.Full {
		filter.WithWindow(req.From, req.To)
	}

	parser := &xmltv.Parser{
		Filter: filter,
		OnChannel: func(ch *xmltv.Channel) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			norm := xmltv.NormalizeID(ch.ID)
			playlistID, accepted := g.PlaylistID(norm)
			if !accepted {
				return nil
			}
			if playlistID == "" {
				playlistID = ch.ID
			}
			if _, seen := gr.meta[playlistID]; !seen {
				gr.discovered = append(gr.discovered, playlistID)
			}
			gr.meta[playlistID] = mergeMeta(gr.meta[playlistID], models.EpgChannel{
				ID:          playlistID,
				DisplayName: ch.DisplayName,
				IconURL:     ch.Icon,
			})
			return nil
		},
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
			gr.programmes[playlistID] = append(gr.programmes[playlistID], toModel(p, playlistID))
			return nil
		},
	}

	a.countParse()
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := parser.ParseCompressed(file); err != nil {
		return nil, err
	}
	return gr, nil
}

// merge folds group results into one schedule, applying mapping offsets and
// de-duplicating on (channel, raw start).
func (a *Assembler) merge(req Request, groups []*Group, results []*groupResult) *Schedule {
	schedule := &Schedule{
		Channels: make(map[string][]models.Programme),
		EpgMeta:  make(map[string]models.EpgChannel),
		Playlist: make(map[string]models.PlaylistChannel),
	}

	seen := make(map[string]map[string]struct{})
	insert := func(id string, p models.Programme) {
		byStart, ok := seen[id]
		if !ok {
			byStart = make(map[string]struct{})
			seen[id] = byStart
		}
		if _, dup := byStart[p.StartRaw]; dup {
			return
		}
		byStart[p.StartRaw] = struct{}{}

		if m, ok := req.Mappings[id]; ok && m.OffsetMinutes != 0 {
			p = p.Shifted(m.Offset())
		}
		schedule.Channels[id] = append(schedule.Channels[id], p)
	}

	for _, gr := range results {
		if gr == nil {
			continue
		}
		for id, progs := range gr.programmes {
			for _, p := range progs {
				insert(id, p)
			}
		}
		for id, meta := range gr.meta {
			schedule.EpgMeta[id] = mergeMeta(schedule.EpgMeta[id], meta)
		}
	}

	if len(req.Playlist) > 0 {
		for _, p := range req.Playlist {
			schedule.Order = append(schedule.Order, p.ID)
			schedule.Playlist[p.ID] = p
		}
	} else {
		dedup := make(map[string]struct{})
		for _, gr := range results {
			if gr == nil {
				continue
			}
			for _, id := range gr.discovered {
				if _, ok := dedup[id]; ok {
					continue
				}
				dedup[id] = struct{}{}
				schedule.Order = append(schedule.Order, id)
			}
		}
		// Channels that only ever appeared in programme records still get
		// a header.
		for id := range schedule.Channels {
			if _, ok := dedup[id]; !ok {
				dedup[id] = struct{}{}
				schedule.Order = append(schedule.Order, id)
			}
		}
	}

	return schedule
}

func (a *Assembler) windowReachesPast(req Request) bool {
	return req.Full || req.From.Before(a.now())
}

// ScanChannels fetches a feed and extracts its channel list only, using a
// zero programme limit to terminate early.
func (a *Assembler) ScanChannels(ctx context.Context, url string) ([]models.EpgChannel, error) {
	res, err := a.mirror.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var channels []models.EpgChannel
	parser := &xmltv.Parser{
		Filter: xmltv.NewFilter().WithProgrammeLimit(0),
		OnChannel: func(ch *xmltv.Channel) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			channels = append(channels, models.EpgChannel{
				ID:          ch.ID,
				DisplayName: ch.DisplayName,
				IconURL:     ch.Icon,
			})
			return nil
		},
	}

	a.countParse()
	file, err := os.Open(res.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := parser.ParseCompressed(file); err != nil {
		return nil, err
	}
	return channels, nil
}

// toModel converts a parsed programme into the schedule record for one
// playlist channel.
func toModel(p *xmltv.Programme, playlistID string) models.Programme {
	out := models.Programme{
		ChannelID:   playlistID,
		StartUTC:    p.Start,
		StartRaw:    p.StartRaw,
		StopRaw:     p.StopRaw,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		IconURL:     p.Icon,
	}
	if p.Stop != nil {
		stop := *p.Stop
		out.StopUTC = &stop
	}
	return out
}

// mergeMeta keeps the first non-empty value per field.
func mergeMeta(existing, next models.EpgChannel) models.EpgChannel {
	if existing.ID == "" {
		existing.ID = next.ID
	}
	if existing.DisplayName == "" {
		existing.DisplayName = next.DisplayName
	}
	if existing.IconURL == "" {
		existing.IconURL = next.IconURL
	}
	return existing
}

// sortProgrammes orders a channel's programmes by start instant.
func sortProgrammes(progs []models.Programme) {
	sort.SliceStable(progs, func(i, j int) bool {
		return progs[i].StartUTC.Before(progs[j].StartUTC)
	})
}
