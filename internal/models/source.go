package models

import (
	"net/url"
	"strings"
	"time"
)

// Source is an upstream XMLTV feed registered by the user.
type Source struct {
	// ID is an opaque, stable identifier (ULID).
	ID ULID `json:"id"`

	// Name is an optional user-friendly label.
	Name string `json:"name,omitempty"`

	// URL is the XMLTV feed URL.
	URL string `json:"url"`

	// Enabled indicates whether this source participates in merges.
	Enabled bool `json:"enabled"`

	// Priority orders sources when several could serve a channel.
	Priority int `json:"priority"`

	// LastScannedAt is the timestamp of the last channel rescan.
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`

	// ChannelCount is the number of channels found by the last rescan.
	ChannelCount *int `json:"channel_count,omitempty"`
}

// Sanitize trims whitespace from user-provided fields.
func (s *Source) Sanitize() {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
}

// Validate performs basic validation on the source.
func (s *Source) Validate() error {
	s.Sanitize()

	if s.URL == "" {
		return ErrURLRequired
	}
	u, err := url.Parse(s.URL)
	if err != nil || u.Scheme == "" {
		return ErrInvalidURL
	}
	return nil
}

// SourceChannels is the cached result of a source rescan, persisted under
// source-cache/<sourceId>.json.
type SourceChannels struct {
	SourceID  ULID         `json:"source_id"`
	ScannedAt time.Time    `json:"scanned_at"`
	Channels  []EpgChannel `json:"channels"`
}
