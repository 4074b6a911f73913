package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/epgviewer/internal/models"
)

func TestSettingsStore_DefaultsOnFreshDir(t *testing.T) {
	s, err := NewSettingsStore(t.TempDir(), nil)
	require.NoError(t, err)

	settings := s.Settings()
	assert.Equal(t, models.DefaultPastDays, settings.PastDays)
	assert.Equal(t, models.DefaultFutureDays, settings.FutureDays)
	assert.True(t, settings.HistoryBackfill)
	assert.Empty(t, s.Sources())
	assert.Empty(t, s.Mappings())
}

func TestSettingsStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewSettingsStore(dir, nil)
	require.NoError(t, err)

	settings := s.Settings()
	settings.PlaylistURL = "http://example.com/list.m3u"
	settings.PastDays = 3
	require.NoError(t, s.UpdateSettings(settings))

	src := &models.Source{Name: "primary", URL: "http://example.com/epg.xml", Enabled: true}
	require.NoError(t, s.AddSource(src))
	require.False(t, src.ID.IsZero())

	require.NoError(t, s.UpsertMappings([]models.ChannelMapping{
		{ChannelID: "BBC1", EpgChannelID: "bbc1", OffsetMinutes: 60},
	}))

	reopened, err := NewSettingsStore(dir, nil)
	require.NoError(t, err)

	assert.Equal(t, "http://example.com/list.m3u", reopened.Settings().PlaylistURL)
	assert.Equal(t, 3, reopened.Settings().PastDays)

	sources := reopened.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, src.ID, sources[0].ID)
	assert.Equal(t, "primary", sources[0].Name)

	m := reopened.Mappings()
	require.Contains(t, m, "BBC1")
	assert.Equal(t, 60, m["BBC1"].OffsetMinutes)
}

func TestSettingsStore_SourceCRUD(t *testing.T) {
	s, err := NewSettingsStore(t.TempDir(), nil)
	require.NoError(t, err)

	src := &models.Source{URL: "http://example.com/a.xml", Enabled: true, Priority: 1}
	require.NoError(t, s.AddSource(src))

	got, ok := s.Source(src.ID)
	require.True(t, ok)
	assert.Equal(t, "http://example.com/a.xml", got.URL)

	got.Priority = 5
	require.NoError(t, s.UpdateSource(got))
	got, _ = s.Source(src.ID)
	assert.Equal(t, 5, got.Priority)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.RecordSourceScan(src.ID, at, 42))
	got, _ = s.Source(src.ID)
	require.NotNil(t, got.ChannelCount)
	assert.Equal(t, 42, *got.ChannelCount)

	require.NoError(t, s.DeleteSource(src.ID))
	_, ok = s.Source(src.ID)
	assert.False(t, ok)

	assert.ErrorIs(t, s.DeleteSource(src.ID), models.ErrSourceNotFound)
}

func TestSettingsStore_ValidationErrors(t *testing.T) {
	s, err := NewSettingsStore(t.TempDir(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.AddSource(&models.Source{}), models.ErrURLRequired)
	assert.ErrorIs(t, s.AddSource(&models.Source{URL: "not a url"}), models.ErrInvalidURL)
	assert.ErrorIs(t, s.UpsertMappings([]models.ChannelMapping{{}}), models.ErrChannelIDRequired)
	assert.ErrorIs(t, s.UpsertMappings([]models.ChannelMapping{
		{ChannelID: "c1", Mode: "sideways"},
	}), models.ErrInvalidShiftMode)
}

func TestSettingsStore_SnapshotIsolation(t *testing.T) {
	s, err := NewSettingsStore(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, s.UpsertMappings([]models.ChannelMapping{{ChannelID: "c1"}}))

	snap := s.State()
	snap.Mappings["c2"] = models.ChannelMapping{ChannelID: "c2"}

	// Mutating the snapshot must not leak into the store.
	assert.NotContains(t, s.Mappings(), "c2")
}

func TestSettingsStore_CorruptFileErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, settingsFile), []byte("{not json"), 0o644))

	_, err := NewSettingsStore(dir, nil)
	assert.Error(t, err)
}
