package models

import "time"

// ShiftMode selects how a per-channel time shift is applied on export.
type ShiftMode string

const (
	// ShiftModeWall shifts the wall clock in a zone, honoring DST at the
	// shifted instant.
	ShiftModeWall ShiftMode = "wall"
	// ShiftModeOffset keeps the wall digits and adjusts the numeric offset.
	ShiftModeOffset ShiftMode = "offset"
)

// ChannelMapping overrides how one playlist channel is resolved against the
// EPG sources. Keyed by playlist channel id.
type ChannelMapping struct {
	// ChannelID is the playlist channel id this mapping applies to.
	ChannelID string `json:"channel_id"`

	// SourceID selects a specific source; empty means the default EPG URL.
	SourceID ULID `json:"source_id,omitempty"`

	// EpgChannelID is the id to pull from that source. Defaults to the
	// playlist id when empty.
	EpgChannelID string `json:"epg_channel_id,omitempty"`

	// OffsetMinutes shifts programme times; may be negative.
	OffsetMinutes int `json:"offset_minutes,omitempty"`

	// ZoneID is an optional IANA zone for wall-clock shifting.
	ZoneID string `json:"zone_id,omitempty"`

	// Mode selects wall or offset shifting. Defaults to wall.
	Mode ShiftMode `json:"shift_mode,omitempty"`
}

// EffectiveMode returns the shift mode, applying the wall default.
func (m ChannelMapping) EffectiveMode() ShiftMode {
	if m.Mode == ShiftModeOffset {
		return ShiftModeOffset
	}
	return ShiftModeWall
}

// Offset returns the configured shift as a duration.
func (m ChannelMapping) Offset() time.Duration {
	return time.Duration(m.OffsetMinutes) * time.Minute
}

// Validate performs basic validation on the mapping.
func (m *ChannelMapping) Validate() error {
	if m.ChannelID == "" {
		return ErrChannelIDRequired
	}
	switch m.Mode {
	case "", ShiftModeWall, ShiftModeOffset:
	default:
		return ErrInvalidShiftMode
	}
	return nil
}
