package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/epgviewer/internal/models"
)

// SourcesHandler manages registered XMLTV sources.
type SourcesHandler struct {
	deps *Deps
}

// NewSourcesHandler creates a new sources handler.
func NewSourcesHandler(deps *Deps) *SourcesHandler {
	return &SourcesHandler{deps: deps}
}

// SourcesResponse lists the registered sources.
type SourcesResponse struct {
	Sources []models.Source `json:"sources"`
}

type listSourcesOutput struct {
	Body SourcesResponse
}

// AddSourceRequest registers a new XMLTV source.
type AddSourceRequest struct {
	Name     string `json:"name,omitempty"`
	URL      string `json:"url"`
	Enabled  *bool  `json:"enabled,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

type addSourceInput struct {
	Body AddSourceRequest
}

type sourceOutput struct {
	Body models.Source
}

type sourceIDInput struct {
	ID string `path:"id" doc:"Source ULID"`
}

// SourceChannelsResponse lists the channels discovered in one source.
type SourceChannelsResponse struct {
	SourceID  models.ULID         `json:"source_id"`
	ScannedAt string              `json:"scanned_at"`
	Channels  []models.EpgChannel `json:"channels"`
}

type sourceChannelsOutput struct {
	Body SourceChannelsResponse
}

// Register registers source operations with the API.
func (h *SourcesHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sources",
		Method:      http.MethodGet,
		Path:        "/api/sources",
		Summary:     "List sources",
		Tags:        []string{"Sources"},
	}, h.listSources)

	huma.Register(api, huma.Operation{
		OperationID:   "add-source",
		Method:        http.MethodPost,
		Path:          "/api/sources",
		Summary:       "Add a source",
		Tags:          []string{"Sources"},
		DefaultStatus: http.StatusCreated,
	}, h.addSource)

	huma.Register(api, huma.Operation{
		OperationID: "delete-source",
		Method:      http.MethodDelete,
		Path:        "/api/sources/{id}",
		Summary:     "Delete a source",
		Tags:        []string{"Sources"},
	}, h.deleteSource)

	huma.Register(api, huma.Operation{
		OperationID: "rescan-source",
		Method:      http.MethodPost,
		Path:        "/api/sources/{id}/rescan",
		Summary:     "Rescan a source",
		Description: "Refreshes the source mirror and rebuilds its channel list.",
		Tags:        []string{"Sources"},
	}, h.rescanSource)

	huma.Register(api, huma.Operation{
		OperationID: "list-source-channels",
		Method:      http.MethodGet,
		Path:        "/api/sources/{id}/channels",
		Summary:     "List a source's channels",
		Description: "Returns the cached channel list, scanning on demand when no scan has run yet.",
		Tags:        []string{"Sources"},
	}, h.listSourceChannels)
}

func (h *SourcesHandler) listSources(ctx context.Context, _ *struct{}) (*listSourcesOutput, error) {
	sources := h.deps.Settings.Sources()
	if sources == nil {
		sources = []models.Source{}
	}
	return &listSourcesOutput{Body: SourcesResponse{Sources: sources}}, nil
}

func (h *SourcesHandler) addSource(ctx context.Context, input *addSourceInput) (*sourceOutput, error) {
	enabled := true
	if input.Body.Enabled != nil {
		enabled = *input.Body.Enabled
	}

	src := models.Source{
		ID:       models.NewULID(),
		Name:     input.Body.Name,
		URL:      input.Body.URL,
		Enabled:  enabled,
		Priority: input.Body.Priority,
	}
	if err := src.Validate(); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	if err := h.deps.Settings.AddSource(&src); err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	return &sourceOutput{Body: src}, nil
}

func (h *SourcesHandler) deleteSource(ctx context.Context, input *sourceIDInput) (*struct{}, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid source id: " + input.ID)
	}

	if err := h.deps.Settings.DeleteSource(id); err != nil {
		if errors.Is(err, models.ErrSourceNotFound) {
			return nil, huma.Error404NotFound("source not found: " + input.ID)
		}
		return nil, huma.Error500InternalServerError(err.Error())
	}

	if err := h.deps.SourceCache.Delete(id); err != nil {
		h.deps.logger().Warn("deleting source channel cache",
			"source_id", input.ID, "error", err)
	}
	return nil, nil
}

func (h *SourcesHandler) rescanSource(ctx context.Context, input *sourceIDInput) (*sourceChannelsOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid source id: " + input.ID)
	}

	src, ok := h.deps.Settings.Source(id)
	if !ok {
		return nil, huma.Error404NotFound("source not found: " + input.ID)
	}

	return h.scan(ctx, src)
}

func (h *SourcesHandler) listSourceChannels(ctx context.Context, input *sourceIDInput) (*sourceChannelsOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid source id: " + input.ID)
	}

	src, ok := h.deps.Settings.Source(id)
	if !ok {
		return nil, huma.Error404NotFound("source not found: " + input.ID)
	}

	if cached, ok := h.deps.SourceCache.Get(id); ok {
		return channelsResponse(cached), nil
	}
	return h.scan(ctx, src)
}

// scan refreshes the mirror, records the scan result, and caches the
// channel list.
func (h *SourcesHandler) scan(ctx context.Context, src models.Source) (*sourceChannelsOutput, error) {
	channels, err := h.deps.Assembler.ScanChannels(ctx, src.URL)
	if err != nil {
		return nil, huma.Error500InternalServerError("scanning source: " + err.Error())
	}

	sc := models.SourceChannels{
		SourceID:  src.ID,
		ScannedAt: h.deps.now().UTC(),
		Channels:  channels,
	}
	if err := h.deps.SourceCache.Put(sc); err != nil {
		h.deps.logger().Warn("caching source channels",
			"source_id", src.ID.String(), "error", err)
	}
	if err := h.deps.Settings.RecordSourceScan(src.ID, sc.ScannedAt, len(channels)); err != nil {
		h.deps.logger().Warn("recording source scan",
			"source_id", src.ID.String(), "error", err)
	}

	return channelsResponse(sc), nil
}

func channelsResponse(sc models.SourceChannels) *sourceChannelsOutput {
	channels := sc.Channels
	if channels == nil {
		channels = []models.EpgChannel{}
	}
	return &sourceChannelsOutput{Body: SourceChannelsResponse{
		SourceID:  sc.SourceID,
		ScannedAt: sc.ScannedAt.UTC().Format(time.RFC3339),
		Channels:  channels,
	}}
}
