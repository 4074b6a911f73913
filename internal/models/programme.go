package models

import "time"

// Programme is the atomic schedule record for one channel.
//
// StartRaw and StopRaw preserve the original XMLTV timestamp strings verbatim,
// including their numeric offset, so the export fast path can pass them
// through bit-exact. A Programme is immutable once parsed.
type Programme struct {
	ChannelID   string     `json:"channel_id"`
	StartUTC    time.Time  `json:"start_utc"`
	StopUTC     *time.Time `json:"stop_utc,omitempty"`
	StartRaw    string     `json:"start_raw"`
	StopRaw     string     `json:"stop_raw,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	IconURL     string     `json:"icon_url,omitempty"`
}

// Shifted returns a copy with both instants moved by the given offset.
// Raw timestamps are left untouched; the renderer re-derives formatted
// output from the shifted instants.
func (p Programme) Shifted(offset time.Duration) Programme {
	p.StartUTC = p.StartUTC.Add(offset)
	if p.StopUTC != nil {
		stop := p.StopUTC.Add(offset)
		p.StopUTC = &stop
	}
	return p
}

// EpgChannel is channel metadata discovered in an XMLTV feed.
// When multiple sources supply the same channel, the first non-empty
// value wins for each field.
type EpgChannel struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	IconURL     string `json:"icon_url,omitempty"`
}

// PlaylistChannel is a channel record yielded by the M3U playlist parser.
// It is consumed by the planner and never mutated.
type PlaylistChannel struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Group     string `json:"group,omitempty"`
	LogoURL   string `json:"logo_url,omitempty"`
	StreamURL string `json:"stream_url"`
}
