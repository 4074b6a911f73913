package models

// Default window and retention values.
const (
	DefaultPastDays             = 7
	DefaultFutureDays           = 7
	DefaultHistoryRetentionDays = 21
)

// Settings holds the user-facing defaults for playlist, EPG, window, and
// history behavior. Persisted in settings.json together with sources and
// mappings.
type Settings struct {
	// PlaylistURL is the default M3U playlist.
	PlaylistURL string `json:"playlistUrl,omitempty"`

	// EpgURL is the default XMLTV feed used for channels without an
	// explicit source mapping.
	EpgURL string `json:"epgUrl,omitempty"`

	// UsePlaylistEpg prefers the playlist's url-tvg hint over EpgURL.
	UsePlaylistEpg bool `json:"usePlaylistEpg"`

	// PastDays and FutureDays bound the default export window.
	PastDays   int `json:"pastDays"`
	FutureDays int `json:"futureDays"`

	// HistoryBackfill enables reconstructing past days from snapshots.
	HistoryBackfill bool `json:"historyBackfill"`

	// HistoryRetentionDays bounds how long mirror snapshots are kept.
	HistoryRetentionDays int `json:"historyRetentionDays"`
}

// DefaultSettings returns the settings applied to a fresh data directory.
func DefaultSettings() Settings {
	return Settings{
		UsePlaylistEpg:       true,
		PastDays:             DefaultPastDays,
		FutureDays:           DefaultFutureDays,
		HistoryBackfill:      true,
		HistoryRetentionDays: DefaultHistoryRetentionDays,
	}
}

// Normalize clamps nonsensical values back to defaults.
func (s *Settings) Normalize() {
	if s.PastDays < 0 {
		s.PastDays = 0
	}
	if s.FutureDays < 0 {
		s.FutureDays = 0
	}
	if s.HistoryRetentionDays <= 0 {
		s.HistoryRetentionDays = DefaultHistoryRetentionDays
	}
}

// State is the full persisted document: settings plus sources and mappings.
type State struct {
	Settings Settings                  `json:"settings"`
	Sources  []Source                  `json:"sources"`
	Mappings map[string]ChannelMapping `json:"mappings"`
}

// Clone returns a deep copy so readers never observe torn writes.
func (st State) Clone() State {
	out := State{Settings: st.Settings}
	out.Sources = make([]Source, len(st.Sources))
	copy(out.Sources, st.Sources)
	out.Mappings = make(map[string]ChannelMapping, len(st.Mappings))
	for k, v := range st.Mappings {
		out.Mappings[k] = v
	}
	return out
}
