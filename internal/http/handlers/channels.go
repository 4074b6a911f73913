package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/epgviewer/internal/models"
)

// ChannelsHandler serves playlist channel listings.
type ChannelsHandler struct {
	deps *Deps
}

// NewChannelsHandler creates a new channels handler.
func NewChannelsHandler(deps *Deps) *ChannelsHandler {
	return &ChannelsHandler{deps: deps}
}

// ChannelsResponse is the playlist listing plus the detected EPG URL.
type ChannelsResponse struct {
	Channels []models.PlaylistChannel `json:"channels"`
	EpgURL   string                   `json:"epgUrl,omitempty"`
}

type listChannelsInput struct {
	Playlist string `query:"playlist" doc:"Playlist URL; defaults to the configured playlist"`
}

type listChannelsOutput struct {
	Body ChannelsResponse
}

// Register registers channel operations with the API.
func (h *ChannelsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-channels",
		Method:      http.MethodGet,
		Path:        "/api/channels",
		Summary:     "List playlist channels",
		Description: "Fetches and parses the M3U playlist, returning its channels and any url-tvg EPG hint.",
		Tags:        []string{"Channels"},
	}, h.listChannels)
}

func (h *ChannelsHandler) listChannels(ctx context.Context, input *listChannelsInput) (*listChannelsOutput, error) {
	settings := h.deps.Settings.Settings()

	playlistURL := input.Playlist
	if playlistURL == "" {
		playlistURL = settings.PlaylistURL
	}
	if playlistURL == "" {
		return nil, huma.Error400BadRequest("no playlist URL configured or provided")
	}

	channels, hint, err := h.deps.loadPlaylist(ctx, playlistURL)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}

	if channels == nil {
		channels = []models.PlaylistChannel{}
	}
	return &listChannelsOutput{Body: ChannelsResponse{
		Channels: channels,
		EpgURL:   hint,
	}}, nil
}
