package epg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/epgviewer/internal/models"
)

func TestPlan_RoutesMappedChannelsToSource(t *testing.T) {
	src := models.Source{ID: models.NewULID(), URL: "http://s1/epg.xml", Enabled: true}
	playlist := []models.PlaylistChannel{
		{ID: "A", StreamURL: "http://x/a"},
		{ID: "B", StreamURL: "http://x/b"},
	}
	mappings := map[string]models.ChannelMapping{
		"A": {ChannelID: "A", SourceID: src.ID, EpgChannelID: "a.source"},
	}

	groups := Plan(playlist, mappings, []models.Source{src}, "http://default/epg.xml")
	require.Len(t, groups, 2)

	var s1, def *Group
	for _, g := range groups {
		switch g.SourceURL {
		case "http://s1/epg.xml":
			s1 = g
		case "http://default/epg.xml":
			def = g
		}
	}
	require.NotNil(t, s1)
	require.NotNil(t, def)

	id, ok := s1.PlaylistID("a.source")
	require.True(t, ok)
	assert.Equal(t, "A", id)

	id, ok = def.PlaylistID("b")
	require.True(t, ok)
	assert.Equal(t, "B", id)

	_, ok = def.PlaylistID("a.source")
	assert.False(t, ok)
}

func TestPlan_DisabledSourceFallsBackToDefault(t *testing.T) {
	src := models.Source{ID: models.NewULID(), URL: "http://s1/epg.xml", Enabled: false}
	playlist := []models.PlaylistChannel{{ID: "A", StreamURL: "http://x/a"}}
	mappings := map[string]models.ChannelMapping{
		"A": {ChannelID: "A", SourceID: src.ID},
	}

	groups := Plan(playlist, mappings, []models.Source{src}, "http://default/epg.xml")
	require.Len(t, groups, 1)
	assert.Equal(t, "http://default/epg.xml", groups[0].SourceURL)
}

func TestPlan_EpgChannelIDAppliesToDefaultFeed(t *testing.T) {
	playlist := []models.PlaylistChannel{{ID: "BBC1", StreamURL: "http://x/bbc1"}}
	mappings := map[string]models.ChannelMapping{
		"BBC1": {ChannelID: "BBC1", EpgChannelID: "bbc1"},
	}

	groups := Plan(playlist, mappings, nil, "http://default/epg.xml")
	require.Len(t, groups, 1)

	id, ok := groups[0].PlaylistID("bbc1")
	require.True(t, ok)
	assert.Equal(t, "BBC1", id)
}

func TestPlan_NoCoverageChannelJoinsNoGroup(t *testing.T) {
	playlist := []models.PlaylistChannel{{ID: "orphan", StreamURL: "http://x/o"}}

	groups := Plan(playlist, nil, nil, "")
	assert.Empty(t, groups)
}

func TestPlan_EmptyPlaylistAcceptsAll(t *testing.T) {
	sources := []models.Source{
		{ID: models.NewULID(), URL: "http://s1/epg.xml", Enabled: true},
		{ID: models.NewULID(), URL: "http://s2/epg.xml", Enabled: false},
	}

	groups := Plan(nil, nil, sources, "http://default/epg.xml")
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.True(t, g.AllowAll)
		assert.NotEqual(t, "http://s2/epg.xml", g.SourceURL)
	}
}

func TestPlan_NormalizesIDs(t *testing.T) {
	playlist := []models.PlaylistChannel{{ID: "BBC1", StreamURL: "http://x/bbc1"}}
	mappings := map[string]models.ChannelMapping{
		"BBC1": {ChannelID: "BBC1", EpgChannelID: " BBC1.Uk "},
	}

	groups := Plan(playlist, mappings, nil, "http://default/epg.xml")
	require.Len(t, groups, 1)

	id, ok := groups[0].PlaylistID("bbc1.uk")
	require.True(t, ok)
	assert.Equal(t, "BBC1", id)
}
