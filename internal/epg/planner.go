// Package epg assembles merged programme schedules from mirrored XMLTV
// feeds: planning per-source merge groups, fingerprinting inputs, fanning
// out parses, and backfilling history from snapshots.
package epg

import (
	"github.com/jmylchreest/epgviewer/internal/models"
	"github.com/jmylchreest/epgviewer/pkg/xmltv"
)

// Group assigns a set of playlist channels to one upstream feed URL.
type Group struct {
	// SourceURL is the feed this group pulls from.
	SourceURL string

	// AllowAll accepts every channel in the feed; AllowedIDs is ignored.
	AllowAll bool

	// AllowedIDs holds normalized EPG-side ids to accept.
	AllowedIDs map[string]struct{}

	// IDMap translates normalized EPG ids to playlist ids.
	IDMap map[string]string
}

// add registers one epgID → playlistID pairing in the group.
func (g *Group) add(epgID, playlistID string) {
	norm := xmltv.NormalizeID(epgID)
	g.AllowedIDs[norm] = struct{}{}
	g.IDMap[norm] = playlistID
}

// PlaylistID resolves the playlist channel an emitted programme belongs to.
func (g *Group) PlaylistID(normEpgID string) (string, bool) {
	if id, ok := g.IDMap[normEpgID]; ok {
		return id, true
	}
	if g.AllowAll {
		return "", true
	}
	return "", false
}

// Plan computes the merge groups for one assembly.
//
// Each playlist channel routes to its mapped source when that source is
// enabled, else to the default EPG URL, else it contributes only a channel
// header. With no playlist at all, every distinct feed participates with
// all channels accepted.
func Plan(playlist []models.PlaylistChannel, mappings map[string]models.ChannelMapping, sources []models.Source, defaultEpgURL string) []*Group {
	byURL := make(map[string]*Group)
	var order []string

	group := func(url string) *Group {
		g, ok := byURL[url]
		if !ok {
			g = &Group{
				SourceURL:  url,
				AllowedIDs: make(map[string]struct{}),
				IDMap:      make(map[string]string),
			}
			byURL[url] = g
			order = append(order, url)
		}
		return g
	}

	if len(playlist) == 0 {
		if defaultEpgURL != "" {
			group(defaultEpgURL).AllowAll = true
		}
		for _, s := range sources {
			if s.Enabled {
				group(s.URL).AllowAll = true
			}
		}
	} else {
		sourceByID := make(map[models.ULID]models.Source, len(sources))
		for _, s := range sources {
			sourceByID[s.ID] = s
		}

		for _, p := range playlist {
			m := mappings[p.ID]
			if !m.SourceID.IsZero() {
				if s, ok := sourceByID[m.SourceID]; ok && s.Enabled {
					epgID := m.EpgChannelID
					if epgID == "" {
						epgID = p.ID
					}
					group(s.URL).add(epgID, p.ID)
					continue
				}
			}
			if defaultEpgURL != "" {
				epgID := m.EpgChannelID
				if epgID == "" {
					epgID = p.ID
				}
				group(defaultEpgURL).add(epgID, p.ID)
			}
			// No source and no default feed: header-only channel.
		}
	}

	out := make([]*Group, 0, len(order))
	for _, url := range order {
		out = append(out, byURL[url])
	}
	return out
}
