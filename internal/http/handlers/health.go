package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// HealthHandler serves liveness and build information.
type HealthHandler struct {
	deps    *Deps
	version string
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps *Deps, version string) *HealthHandler {
	return &HealthHandler{deps: deps, version: version, started: time.Now()}
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

type healthOutput struct {
	Body HealthResponse
}

// Register registers the health operation with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
		Tags:        []string{"Health"},
	}, h.health)
}

func (h *HealthHandler) health(ctx context.Context, _ *struct{}) (*healthOutput, error) {
	return &healthOutput{Body: HealthResponse{
		Status:  "ok",
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}}, nil
}
