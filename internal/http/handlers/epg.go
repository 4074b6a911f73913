package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/epgviewer/internal/epg"
	"github.com/jmylchreest/epgviewer/internal/models"
)

// EpgHandler serves assembled schedule views.
type EpgHandler struct {
	deps *Deps
}

// NewEpgHandler creates a new EPG handler.
func NewEpgHandler(deps *Deps) *EpgHandler {
	return &EpgHandler{deps: deps}
}

// EpgResponse is the merged schedule for the requested window.
type EpgResponse struct {
	Order    []string                      `json:"order"`
	Channels map[string][]models.Programme `json:"channels"`
	EpgMeta  map[string]models.EpgChannel  `json:"epgMeta"`
	Debug    *EpgDebug                     `json:"debug,omitempty"`
}

// EpgDebug carries assembly diagnostics when debug is requested.
type EpgDebug struct {
	Fingerprint    string    `json:"fingerprint"`
	SourceCount    int       `json:"sourceCount"`
	ChannelCount   int       `json:"channelCount"`
	ProgrammeCount int       `json:"programmeCount"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
}

type getEpgInput struct {
	Playlist string `query:"playlist" doc:"Playlist URL override"`
	Epg      string `query:"epg" doc:"Default EPG feed URL override"`
	Debug    bool   `query:"debug" doc:"Include assembly diagnostics"`
}

type getEpgOutput struct {
	Body EpgResponse
}

// Register registers EPG operations with the API and the raw router.
func (h *EpgHandler) Register(api huma.API, router *chi.Mux) {
	huma.Register(api, huma.Operation{
		OperationID: "get-epg",
		Method:      http.MethodGet,
		Path:        "/api/epg",
		Summary:     "Get the merged EPG",
		Description: "Assembles the merged schedule over the default window for all playlist channels.",
		Tags:        []string{"EPG"},
	}, h.getEpg)

	router.Get("/api/epg/channel", h.getChannelSchedule)
}

func (h *EpgHandler) getEpg(ctx context.Context, input *getEpgInput) (*getEpgOutput, error) {
	req, err := h.deps.buildRequest(ctx, input.Playlist, input.Epg, time.Time{}, time.Time{}, false)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}

	schedule, fingerprint, err := h.deps.Assembler.Assemble(ctx, req)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}

	resp := EpgResponse{
		Order:    schedule.Order,
		Channels: schedule.Channels,
		EpgMeta:  schedule.EpgMeta,
	}
	if resp.Order == nil {
		resp.Order = []string{}
	}

	if input.Debug {
		programmes := 0
		for _, ps := range schedule.Channels {
			programmes += len(ps)
		}
		resp.Debug = &EpgDebug{
			Fingerprint:    fingerprint,
			SourceCount:    len(req.Sources),
			ChannelCount:   len(schedule.Order),
			ProgrammeCount: programmes,
			From:           req.From,
			To:             req.To,
		}
	}
	return &getEpgOutput{Body: resp}, nil
}

// ChannelScheduleResponse is the programme list for a single channel.
type ChannelScheduleResponse struct {
	ID         string             `json:"id"`
	Meta       models.EpgChannel  `json:"meta"`
	Programmes []models.Programme `json:"programmes"`
}

// getChannelSchedule serves one channel's programmes with fingerprint
// ETags. Registered as a raw route so If-None-Match can short-circuit to
// 304 before any body is produced.
func (h *EpgHandler) getChannelSchedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id query parameter is required")
		return
	}

	var from, to time.Time
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid from timestamp: "+err.Error())
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid to timestamp: "+err.Error())
			return
		}
		to = t
	}

	req, err := h.deps.buildRequest(r.Context(), q.Get("playlist"), q.Get("epg"), from, to, false)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	schedule, _, err := h.deps.Assembler.Assemble(r.Context(), req)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	programmes, ok := schedule.Channels[id]
	if !ok {
		if _, listed := schedule.Playlist[id]; !listed {
			writeJSONError(w, http.StatusNotFound, "unknown channel: "+id)
			return
		}
		programmes = []models.Programme{}
	}

	etag := `"` + h.deps.Assembler.Fingerprint(epg.KindChannel, req) + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChannelScheduleResponse{
		ID:         id,
		Meta:       schedule.EpgMeta[id],
		Programmes: programmes,
	})
}
