package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/epgviewer/internal/models"
)

// MappingsHandler manages per-channel mapping overrides.
type MappingsHandler struct {
	deps *Deps
}

// NewMappingsHandler creates a new mappings handler.
func NewMappingsHandler(deps *Deps) *MappingsHandler {
	return &MappingsHandler{deps: deps}
}

// MappingsResponse lists every stored mapping keyed by channel id.
type MappingsResponse struct {
	Mappings map[string]models.ChannelMapping `json:"mappings"`
}

type listMappingsOutput struct {
	Body MappingsResponse
}

// upsertMappingsInput accepts either a single mapping object or an array
// of mappings as the request body.
type upsertMappingsInput struct {
	RawBody []byte `contentType:"application/json"`
}

// Register registers mapping operations with the API.
func (h *MappingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-mappings",
		Method:      http.MethodGet,
		Path:        "/api/mappings",
		Summary:     "List channel mappings",
		Tags:        []string{"Mappings"},
	}, h.listMappings)

	huma.Register(api, huma.Operation{
		OperationID: "upsert-mappings",
		Method:      http.MethodPost,
		Path:        "/api/mappings",
		Summary:     "Create or update channel mappings",
		Description: "Accepts a single mapping object or an array of mappings. Existing mappings for the same channel are replaced.",
		Tags:        []string{"Mappings"},
	}, h.upsertMappings)
}

func (h *MappingsHandler) listMappings(ctx context.Context, _ *struct{}) (*listMappingsOutput, error) {
	mappings := h.deps.Settings.Mappings()
	if mappings == nil {
		mappings = map[string]models.ChannelMapping{}
	}
	return &listMappingsOutput{Body: MappingsResponse{Mappings: mappings}}, nil
}

func (h *MappingsHandler) upsertMappings(ctx context.Context, input *upsertMappingsInput) (*listMappingsOutput, error) {
	mappings, err := decodeMappings(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	for i := range mappings {
		if err := mappings[i].Validate(); err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		if !mappings[i].SourceID.IsZero() {
			if _, ok := h.deps.Settings.Source(mappings[i].SourceID); !ok {
				return nil, huma.Error400BadRequest(
					"mapping references unknown source: " + mappings[i].SourceID.String())
			}
		}
	}

	if err := h.deps.Settings.UpsertMappings(mappings); err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	return h.listMappings(ctx, nil)
}

// decodeMappings parses the body as an array, falling back to a single
// object.
func decodeMappings(body []byte) ([]models.ChannelMapping, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var mappings []models.ChannelMapping
		if err := json.Unmarshal(trimmed, &mappings); err != nil {
			return nil, err
		}
		return mappings, nil
	}

	var mapping models.ChannelMapping
	if err := json.Unmarshal(trimmed, &mapping); err != nil {
		return nil, err
	}
	return []models.ChannelMapping{mapping}, nil
}
