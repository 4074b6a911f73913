package handlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/epgviewer/internal/epg"
	"github.com/jmylchreest/epgviewer/internal/export"
	"github.com/jmylchreest/epgviewer/internal/models"
	"github.com/jmylchreest/epgviewer/internal/prewarm"
	"github.com/jmylchreest/epgviewer/internal/storage"
	"github.com/jmylchreest/epgviewer/internal/timeshift"
	"github.com/jmylchreest/epgviewer/internal/urlutil"
	"github.com/jmylchreest/epgviewer/pkg/httpclient"
)

func newTestDeps(t *testing.T) *Deps {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	settings, err := storage.NewSettingsStore(dir, logger)
	require.NoError(t, err)
	sourceCache, err := storage.NewSourceCache(dir)
	require.NoError(t, err)
	mirror, err := storage.NewMirrorStore(dir, httpclient.NewWithDefaults(), logger)
	require.NoError(t, err)
	mirror.SetRetryDelay(time.Millisecond)
	artifacts, err := storage.NewArtifactCache(dir, logger)
	require.NoError(t, err)

	assembler := epg.NewAssembler(mirror, artifacts, logger)

	return &Deps{
		Settings:    settings,
		SourceCache: sourceCache,
		Mirror:      mirror,
		Assembler:   assembler,
		Renderer:    export.NewRenderer(timeshift.New(), artifacts, logger),
		Prewarm:     prewarm.NewScheduler(logger),
		Fetcher:     urlutil.NewDefaultResourceFetcher(),
		Logger:      logger,
	}
}

// testFeeds serves a one-channel playlist and a matching XMLTV feed with
// two programmes around now.
func testFeeds(t *testing.T) (playlistURL, epgURL string) {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Hour)
	layout := "20060102150405 +0000"
	doc := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="ch1"><display-name>Channel One</display-name></channel>
  <programme start=%q stop=%q channel="ch1"><title>Morning News</title></programme>
  <programme start=%q stop=%q channel="ch1"><title>Evening Film</title></programme>
</tv>`,
		now.Format(layout), now.Add(time.Hour).Format(layout),
		now.Add(time.Hour).Format(layout), now.Add(3*time.Hour).Format(layout),
	)

	// Conditional GET support keeps the mirror signature stable across
	// revalidations, like a well-behaved upstream.
	epgServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, doc)
	}))
	t.Cleanup(epgServer.Close)

	playlist := "#EXTM3U url-tvg=\"" + epgServer.URL + "\"\n" +
		"#EXTINF:-1 tvg-id=\"ch1\" tvg-logo=\"http://logo.example/1.png\" group-title=\"News\",Channel One\n" +
		"http://stream.example/1\n"
	playlistServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, playlist)
	}))
	t.Cleanup(playlistServer.Close)

	return playlistServer.URL, epgServer.URL
}

func errStatus(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	return se.GetStatus()
}

func TestHealthHandler(t *testing.T) {
	handler := NewHealthHandler(newTestDeps(t), "1.2.3")

	out, err := handler.health(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Body.Status)
	assert.Equal(t, "1.2.3", out.Body.Version)
	assert.NotEmpty(t, out.Body.Uptime)
}

func TestSettingsHandler(t *testing.T) {
	handler := NewSettingsHandler(newTestDeps(t))
	ctx := context.Background()

	out, err := handler.getSettings(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPastDays, out.Body.PastDays)

	out, err = handler.updateSettings(ctx, &updateSettingsInput{Body: models.Settings{
		PlaylistURL: "http://feeds.example/list.m3u",
		PastDays:    -5,
		FutureDays:  3,
	}})
	require.NoError(t, err)
	assert.Equal(t, "http://feeds.example/list.m3u", out.Body.PlaylistURL)
	// Negative windows are clamped, not rejected.
	assert.Equal(t, 0, out.Body.PastDays)
	assert.Equal(t, 3, out.Body.FutureDays)
}

func TestSourcesHandlerCRUD(t *testing.T) {
	handler := NewSourcesHandler(newTestDeps(t))
	ctx := context.Background()

	added, err := handler.addSource(ctx, &addSourceInput{Body: AddSourceRequest{
		Name: "main", URL: "http://feeds.example/epg.xml",
	}})
	require.NoError(t, err)
	assert.False(t, added.Body.ID.IsZero())
	assert.True(t, added.Body.Enabled)

	_, err = handler.addSource(ctx, &addSourceInput{Body: AddSourceRequest{Name: "broken"}})
	assert.Equal(t, http.StatusBadRequest, errStatus(t, err))

	list, err := handler.listSources(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list.Body.Sources, 1)

	_, err = handler.deleteSource(ctx, &sourceIDInput{ID: models.NewULID().String()})
	assert.Equal(t, http.StatusNotFound, errStatus(t, err))

	_, err = handler.deleteSource(ctx, &sourceIDInput{ID: added.Body.ID.String()})
	require.NoError(t, err)

	list, err = handler.listSources(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list.Body.Sources)
}

func TestSourcesHandlerRescan(t *testing.T) {
	deps := newTestDeps(t)
	handler := NewSourcesHandler(deps)
	ctx := context.Background()
	_, epgURL := testFeeds(t)

	added, err := handler.addSource(ctx, &addSourceInput{Body: AddSourceRequest{URL: epgURL}})
	require.NoError(t, err)

	scanned, err := handler.rescanSource(ctx, &sourceIDInput{ID: added.Body.ID.String()})
	require.NoError(t, err)
	require.Len(t, scanned.Body.Channels, 1)
	assert.Equal(t, "ch1", scanned.Body.Channels[0].ID)

	// The scan result lands in the channel cache and on the source record.
	src, ok := deps.Settings.Source(added.Body.ID)
	require.True(t, ok)
	require.NotNil(t, src.ChannelCount)
	assert.Equal(t, 1, *src.ChannelCount)

	cached, err := handler.listSourceChannels(ctx, &sourceIDInput{ID: added.Body.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, scanned.Body.Channels, cached.Body.Channels)
}

func TestMappingsHandler(t *testing.T) {
	handler := NewMappingsHandler(newTestDeps(t))
	ctx := context.Background()

	t.Run("single object", func(t *testing.T) {
		out, err := handler.upsertMappings(ctx, &upsertMappingsInput{
			RawBody: []byte(`{"channel_id":"ch1","offset_minutes":60}`),
		})
		require.NoError(t, err)
		assert.Equal(t, 60, out.Body.Mappings["ch1"].OffsetMinutes)
	})

	t.Run("bulk array", func(t *testing.T) {
		out, err := handler.upsertMappings(ctx, &upsertMappingsInput{
			RawBody: []byte(`[{"channel_id":"ch1","offset_minutes":-30},{"channel_id":"ch2","epg_channel_id":"two.example"}]`),
		})
		require.NoError(t, err)
		assert.Equal(t, -30, out.Body.Mappings["ch1"].OffsetMinutes)
		assert.Equal(t, "two.example", out.Body.Mappings["ch2"].EpgChannelID)
	})

	t.Run("missing channel id", func(t *testing.T) {
		_, err := handler.upsertMappings(ctx, &upsertMappingsInput{
			RawBody: []byte(`{"offset_minutes":60}`),
		})
		assert.Equal(t, http.StatusBadRequest, errStatus(t, err))
	})

	t.Run("unknown source reference", func(t *testing.T) {
		_, err := handler.upsertMappings(ctx, &upsertMappingsInput{
			RawBody: []byte(`{"channel_id":"ch3","source_id":"` + models.NewULID().String() + `"}`),
		})
		assert.Equal(t, http.StatusBadRequest, errStatus(t, err))
	})
}

func TestChannelsHandler(t *testing.T) {
	deps := newTestDeps(t)
	handler := NewChannelsHandler(deps)
	ctx := context.Background()
	playlistURL, epgURL := testFeeds(t)

	t.Run("no playlist configured", func(t *testing.T) {
		_, err := handler.listChannels(ctx, &listChannelsInput{})
		assert.Equal(t, http.StatusBadRequest, errStatus(t, err))
	})

	t.Run("explicit playlist", func(t *testing.T) {
		out, err := handler.listChannels(ctx, &listChannelsInput{Playlist: playlistURL})
		require.NoError(t, err)
		require.Len(t, out.Body.Channels, 1)
		assert.Equal(t, "ch1", out.Body.Channels[0].ID)
		assert.Equal(t, "Channel One", out.Body.Channels[0].Name)
		assert.Equal(t, epgURL, out.Body.EpgURL)
	})
}

func TestEpgHandlerGetEpg(t *testing.T) {
	handler := NewEpgHandler(newTestDeps(t))
	playlistURL, epgURL := testFeeds(t)

	out, err := handler.getEpg(context.Background(), &getEpgInput{
		Playlist: playlistURL,
		Epg:      epgURL,
		Debug:    true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"ch1"}, out.Body.Order)
	require.Len(t, out.Body.Channels["ch1"], 2)
	assert.Equal(t, "Morning News", out.Body.Channels["ch1"][0].Title)

	require.NotNil(t, out.Body.Debug)
	assert.NotEmpty(t, out.Body.Debug.Fingerprint)
	assert.Equal(t, 1, out.Body.Debug.ChannelCount)
	assert.Equal(t, 2, out.Body.Debug.ProgrammeCount)
}

func TestChannelScheduleETag(t *testing.T) {
	handler := NewEpgHandler(newTestDeps(t))
	playlistURL, epgURL := testFeeds(t)
	url := "/api/epg/channel?id=ch1&playlist=" + playlistURL + "&epg=" + epgURL

	rec := httptest.NewRecorder()
	handler.getChannelSchedule(rec, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var resp ChannelScheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ch1", resp.ID)
	assert.Len(t, resp.Programmes, 2)

	// Unchanged sources produce the same fingerprint.
	req := httptest.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	handler.getChannelSchedule(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestChannelScheduleErrors(t *testing.T) {
	handler := NewEpgHandler(newTestDeps(t))
	playlistURL, epgURL := testFeeds(t)

	rec := httptest.NewRecorder()
	handler.getChannelSchedule(rec, httptest.NewRequest(http.MethodGet, "/api/epg/channel", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)

	rec = httptest.NewRecorder()
	handler.getChannelSchedule(rec, httptest.NewRequest(http.MethodGet,
		"/api/epg/channel?id=ch1&from=notatime", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.getChannelSchedule(rec, httptest.NewRequest(http.MethodGet,
		"/api/epg/channel?id=ghost&playlist="+playlistURL+"&epg="+epgURL, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportDownload(t *testing.T) {
	handler := NewExportHandler(newTestDeps(t))
	playlistURL, epgURL := testFeeds(t)

	url := "/epg.xml.gz?full=1&playlist=" + playlistURL + "&epg=" + epgURL
	rec := httptest.NewRecorder()
	handler.serveGzip(rec, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "epg.xml.gz")
	assert.NotEmpty(t, rec.Header().Get("ETag"))

	gz, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	doc, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "Channel One")
	assert.Contains(t, string(doc), "Morning News")

	// A second download serves the identical document, cached or not.
	rec2 := httptest.NewRecorder()
	handler.serveGzip(rec2, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec2.Code)

	gz2, err := gzip.NewReader(bytes.NewReader(rec2.Body.Bytes()))
	require.NoError(t, err)
	doc2, err := io.ReadAll(gz2)
	require.NoError(t, err)
	assert.Equal(t, string(doc), string(doc2))
}

func TestExportPlainAndFilename(t *testing.T) {
	handler := NewExportHandler(newTestDeps(t))
	playlistURL, epgURL := testFeeds(t)

	rec := httptest.NewRecorder()
	handler.servePlain(rec, httptest.NewRequest(http.MethodGet,
		"/epg.xml?pastDays=1&futureDays=1&filename=guide.xml&playlist="+playlistURL+"&epg="+epgURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "guide.xml")
	assert.Contains(t, rec.Body.String(), "Morning News")
}

func TestExportAllFeedsDownReturns500(t *testing.T) {
	handler := NewExportHandler(newTestDeps(t))

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(dead.Close)

	// A dead upstream with an empty mirror must not produce a syntactically
	// valid but empty guide document.
	url := "/epg.xml.gz?full=1&epg=" + dead.URL + "/guide.xml"
	rec := httptest.NewRecorder()
	handler.serveGzip(rec, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
	assert.Contains(t, rec.Body.String(), "no feed")

	// Nothing may have been promoted into the export cache either.
	rec2 := httptest.NewRecorder()
	handler.serveGzip(rec2, httptest.NewRequest(http.MethodGet, url, nil))
	assert.Equal(t, http.StatusInternalServerError, rec2.Code)
}

func TestExportWindowValidation(t *testing.T) {
	handler := NewExportHandler(newTestDeps(t))

	rec := httptest.NewRecorder()
	handler.serveGzip(rec, httptest.NewRequest(http.MethodGet, "/epg.xml.gz?pastDays=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "pastDays")
}

func TestPrewarmFlow(t *testing.T) {
	deps := newTestDeps(t)
	handler := NewExportHandler(deps)
	ctx := context.Background()
	playlistURL, epgURL := testFeeds(t)

	out, err := handler.prewarmExport(ctx, &prewarmInput{Body: PrewarmRequest{
		Full:     true,
		Playlist: playlistURL,
		Epg:      epgURL,
	}})
	require.NoError(t, err)
	assert.True(t, out.Body.Started)
	assert.Contains(t, out.Body.ExportURL, "full=1")

	var record prewarm.Record
	require.Eventually(t, func() bool {
		st, err := handler.exportStatus(ctx, &exportStatusInput{Key: out.Body.Key})
		if err != nil {
			return false
		}
		record = st.Body
		return record.Status == prewarm.StatusDone
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 100, record.Percent)
	require.NotEmpty(t, record.AliasKey)
	_, ready := deps.Renderer.CachedPath(record.AliasKey, true)
	assert.True(t, ready)
}

func TestExportStatusUnknownKey(t *testing.T) {
	handler := NewExportHandler(newTestDeps(t))

	_, err := handler.exportStatus(context.Background(), &exportStatusInput{Key: "nope"})
	assert.Equal(t, http.StatusNotFound, errStatus(t, err))
}
