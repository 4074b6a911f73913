package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/epgviewer/internal/models"
)

// SettingsHandler serves the persisted service settings.
type SettingsHandler struct {
	deps *Deps
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(deps *Deps) *SettingsHandler {
	return &SettingsHandler{deps: deps}
}

type settingsOutput struct {
	Body models.Settings
}

type updateSettingsInput struct {
	Body models.Settings
}

// Register registers settings operations with the API.
func (h *SettingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-settings",
		Method:      http.MethodGet,
		Path:        "/api/settings",
		Summary:     "Get settings",
		Tags:        []string{"Settings"},
	}, h.getSettings)

	huma.Register(api, huma.Operation{
		OperationID: "update-settings",
		Method:      http.MethodPost,
		Path:        "/api/settings",
		Summary:     "Update settings",
		Description: "Replaces the stored settings. Out-of-range window values are clamped.",
		Tags:        []string{"Settings"},
	}, h.updateSettings)
}

func (h *SettingsHandler) getSettings(ctx context.Context, _ *struct{}) (*settingsOutput, error) {
	return &settingsOutput{Body: h.deps.Settings.Settings()}, nil
}

func (h *SettingsHandler) updateSettings(ctx context.Context, input *updateSettingsInput) (*settingsOutput, error) {
	settings := input.Body
	settings.Normalize()

	if err := h.deps.Settings.UpdateSettings(settings); err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	return &settingsOutput{Body: h.deps.Settings.Settings()}, nil
}
