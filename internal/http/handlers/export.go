package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/epgviewer/internal/epg"
	"github.com/jmylchreest/epgviewer/internal/export"
	"github.com/jmylchreest/epgviewer/internal/metrics"
	"github.com/jmylchreest/epgviewer/internal/prewarm"
)

// ExportHandler serves XMLTV export downloads and prewarm jobs.
type ExportHandler struct {
	deps *Deps
}

// NewExportHandler creates a new export handler.
func NewExportHandler(deps *Deps) *ExportHandler {
	return &ExportHandler{deps: deps}
}

// Register registers export operations with the API and the raw router.
// Downloads are raw chi routes so the gzip stream goes straight to the
// wire without a serialization layer in between.
func (h *ExportHandler) Register(api huma.API, router *chi.Mux) {
	router.Get("/epg.xml.gz", h.serveGzip)
	router.Get("/epg.xml", h.servePlain)
	router.Get("/api/export/epg.xml.gz", h.serveGzip)
	router.Get("/api/export/epg.xml", h.servePlain)

	huma.Register(api, huma.Operation{
		OperationID:   "prewarm-export",
		Method:        http.MethodPost,
		Path:          "/api/export/prewarm",
		Summary:       "Prewarm an export",
		Description:   "Builds the gzipped export in the background so a later download is a cache hit.",
		Tags:          []string{"Export"},
		DefaultStatus: http.StatusAccepted,
	}, h.prewarmExport)

	huma.Register(api, huma.Operation{
		OperationID: "export-status",
		Method:      http.MethodGet,
		Path:        "/api/export/status",
		Summary:     "Get prewarm job status",
		Tags:        []string{"Export"},
	}, h.exportStatus)
}

func (h *ExportHandler) serveGzip(w http.ResponseWriter, r *http.Request) {
	h.serveExport(w, r, true)
}

func (h *ExportHandler) servePlain(w http.ResponseWriter, r *http.Request) {
	h.serveExport(w, r, false)
}

// exportWindow reads the window parameters. Absent window parameters mean
// a full export, same as full=1.
func (h *ExportHandler) exportWindow(q url.Values) (from, to time.Time, full bool, err error) {
	hasPast := q.Has("pastDays")
	hasFuture := q.Has("futureDays")
	full = q.Get("full") == "1" || (!hasPast && !hasFuture)
	if full {
		return time.Time{}, time.Time{}, true, nil
	}

	settings := h.deps.Settings.Settings()
	pastDays := settings.PastDays
	futureDays := settings.FutureDays
	if hasPast {
		pastDays, err = strconv.Atoi(q.Get("pastDays"))
		if err != nil || pastDays < 0 {
			return from, to, false, fmt.Errorf("invalid pastDays: %q", q.Get("pastDays"))
		}
	}
	if hasFuture {
		futureDays, err = strconv.Atoi(q.Get("futureDays"))
		if err != nil || futureDays < 0 {
			return from, to, false, fmt.Errorf("invalid futureDays: %q", q.Get("futureDays"))
		}
	}

	from, to = h.deps.windowFromDays(pastDays, futureDays)
	return from, to, false, nil
}

func (h *ExportHandler) serveExport(w http.ResponseWriter, r *http.Request, gzipped bool) {
	q := r.URL.Query()

	from, to, full, err := h.exportWindow(q)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.deps.buildRequest(r.Context(), q.Get("playlist"), q.Get("epg"), from, to, full)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	schedule, _, err := h.deps.Assembler.Assemble(r.Context(), req)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	kind := epg.KindExportXml
	contentType := "application/xml"
	filename := "epg.xml"
	if gzipped {
		kind = epg.KindExportGz
		contentType = "application/gzip"
		filename = "epg.xml.gz"
	}
	if v := q.Get("filename"); v != "" {
		filename = v
	}
	fingerprint := h.deps.Assembler.Fingerprint(kind, req)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("ETag", `"`+fingerprint+`"`)

	if path, ready := h.deps.Renderer.CachedPath(fingerprint, gzipped); ready {
		metrics.RecordExport(gzipped, true)
		http.ServeFile(w, r, path)
		return
	}

	metrics.RecordExport(gzipped, false)
	err = h.deps.Renderer.Render(r.Context(), w, export.Params{
		Schedule:    schedule,
		Mappings:    req.Mappings,
		Gzip:        gzipped,
		Fingerprint: fingerprint,
	})
	if err != nil {
		// Headers are long gone; all we can do is log and cut the stream.
		h.deps.logger().Error("export render failed",
			slog.String("fingerprint", fingerprint),
			slog.String("error", err.Error()),
		)
	}
}

// PrewarmRequest selects the export to build ahead of time.
type PrewarmRequest struct {
	PastDays   *int   `json:"pastDays,omitempty"`
	FutureDays *int   `json:"futureDays,omitempty"`
	Playlist   string `json:"playlist,omitempty"`
	Epg        string `json:"epg,omitempty"`
	Full       bool   `json:"full,omitempty"`
}

// PrewarmResponse acknowledges a submitted prewarm job.
type PrewarmResponse struct {
	Key       string `json:"key"`
	Started   bool   `json:"started"`
	ExportURL string `json:"exportUrl"`
}

type prewarmInput struct {
	Body PrewarmRequest
}

type prewarmOutput struct {
	Body PrewarmResponse
}

func (h *ExportHandler) prewarmExport(ctx context.Context, input *prewarmInput) (*prewarmOutput, error) {
	body := input.Body

	settings := h.deps.Settings.Settings()
	full := body.Full || (body.PastDays == nil && body.FutureDays == nil)

	pastDays := settings.PastDays
	if body.PastDays != nil {
		if *body.PastDays < 0 {
			return nil, huma.Error400BadRequest("pastDays must not be negative")
		}
		pastDays = *body.PastDays
	}
	futureDays := settings.FutureDays
	if body.FutureDays != nil {
		if *body.FutureDays < 0 {
			return nil, huma.Error400BadRequest("futureDays must not be negative")
		}
		futureDays = *body.FutureDays
	}

	exportURL := buildExportURL(body.Playlist, body.Epg, pastDays, futureDays, full)

	// Shared between the fingerprint and build phases of the job.
	var schedule *epg.Schedule
	var req epg.Request

	// The build outlives the HTTP request; detach cancellation but keep
	// request-scoped values for logging.
	key := h.deps.Prewarm.Prewarm(context.WithoutCancel(ctx), prewarm.BuildRequest{
		ExportURL: exportURL,
		Fingerprint: func(ctx context.Context) (string, error) {
			var from, to time.Time
			if !full {
				from, to = h.deps.windowFromDays(pastDays, futureDays)
			}
			var err error
			req, err = h.deps.buildRequest(ctx, body.Playlist, body.Epg, from, to, full)
			if err != nil {
				return "", err
			}
			schedule, _, err = h.deps.Assembler.Assemble(ctx, req)
			if err != nil {
				return "", err
			}
			return h.deps.Assembler.Fingerprint(epg.KindExportGz, req), nil
		},
		Ready: func(fingerprint string) bool {
			_, ready := h.deps.Renderer.CachedPath(fingerprint, true)
			return ready
		},
		Build: func(ctx context.Context, fingerprint string, progress func(int, string)) error {
			progress(60, "rendering export")
			return h.deps.Renderer.Render(ctx, io.Discard, export.Params{
				Schedule:    schedule,
				Mappings:    req.Mappings,
				Gzip:        true,
				Fingerprint: fingerprint,
			})
		},
	})

	metrics.RecordPrewarm("submitted")

	return &prewarmOutput{Body: PrewarmResponse{
		Key:       key,
		Started:   true,
		ExportURL: exportURL,
	}}, nil
}

func buildExportURL(playlist, epgURL string, pastDays, futureDays int, full bool) string {
	q := url.Values{}
	if full {
		q.Set("full", "1")
	} else {
		q.Set("pastDays", strconv.Itoa(pastDays))
		q.Set("futureDays", strconv.Itoa(futureDays))
	}
	if playlist != "" {
		q.Set("playlist", playlist)
	}
	if epgURL != "" {
		q.Set("epg", epgURL)
	}
	return "/epg.xml.gz?" + q.Encode()
}

type exportStatusInput struct {
	Key string `query:"key" required:"true" doc:"Job key returned by the prewarm operation"`
}

type exportStatusOutput struct {
	Body prewarm.Record
}

func (h *ExportHandler) exportStatus(ctx context.Context, input *exportStatusInput) (*exportStatusOutput, error) {
	record, ok := h.deps.Prewarm.Status(input.Key)
	if !ok {
		return nil, huma.Error404NotFound("unknown prewarm key: " + input.Key)
	}
	return &exportStatusOutput{Body: record}, nil
}
