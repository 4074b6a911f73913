package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("failed to get metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(body)
}

func TestMetricsEndpoint(t *testing.T) {
	RecordMirrorFetch("fetched")
	RecordMirrorFetch("not_modified")
	DocumentParses.Inc()
	RecordCacheHit()
	RecordCacheMiss()
	RecordExport(true, false)
	RecordExport(false, true)
	RecordPrewarm("done")
	MirrorSnapshots.Set(4)

	output := scrape(t)

	expected := []string{
		"epgviewer_mirror_fetches_total",
		"epgviewer_mirror_snapshots 4",
		"epgviewer_document_parses_total",
		"epgviewer_cache_requests_total",
		"epgviewer_exports_total",
		"epgviewer_prewarm_jobs_total",
	}
	for _, metric := range expected {
		if !strings.Contains(output, metric) {
			t.Errorf("expected metric %s not found in output", metric)
		}
	}
}

func TestExportLabels(t *testing.T) {
	RecordExport(true, true)
	RecordExport(false, false)

	output := scrape(t)

	// Prometheus sorts label names alphabetically in output.
	expected := []string{
		`origin="cache",variant="gz"`,
		`origin="live",variant="xml"`,
	}
	for _, label := range expected {
		if !strings.Contains(output, label) {
			t.Errorf("expected to find labels %s in output", label)
		}
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	server := httptest.NewServer(handler)
	defer server.Close()

	if _, err := http.Get(server.URL + "/api/epg"); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	output := scrape(t)
	if !strings.Contains(output, `path="/api/epg"`) {
		t.Error("expected request path label in output")
	}
	if !strings.Contains(output, `status="404"`) {
		t.Error("expected status label in output")
	}
}
