// Package timeshift converts programme instants into formatted XMLTV
// timestamps under wall-clock or numeric-offset shifting.
package timeshift

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmylchreest/epgviewer/internal/models"
	"github.com/jmylchreest/epgviewer/pkg/xmltv"
)

// Offset clamp in minutes, matching the XMLTV ±14:00 bound.
const maxOffsetMinutes = 840

// wallLayout formats the digit portion of an XMLTV timestamp.
const wallLayout = "20060102150405"

// Engine formats XMLTV timestamps for export, applying per-channel shifts.
//
// When ForceZeroOffset is set the emitted numeric offset is rewritten to
// +0000 after all shift math, leaving the wall digits untouched. IPTV
// clients that re-apply device offsets then render correct local times.
type Engine struct {
	ForceZeroOffset bool

	mu    sync.RWMutex
	zones map[string]*time.Location
}

// New creates an engine with zero-offset normalization enabled.
func New() *Engine {
	return &Engine{ForceZeroOffset: true}
}

// location resolves and caches an IANA zone.
func (e *Engine) location(zoneID string) (*time.Location, error) {
	e.mu.RLock()
	loc, ok := e.zones[zoneID]
	e.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(zoneID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidZone, zoneID)
	}

	e.mu.Lock()
	if e.zones == nil {
		e.zones = make(map[string]*time.Location)
	}
	e.zones[zoneID] = loc
	e.mu.Unlock()
	return loc, nil
}

// FastPath reports whether a mapping allows verbatim raw-timestamp
// pass-through, modulo zero-offset normalization.
func (e *Engine) FastPath(m models.ChannelMapping) bool {
	if m.OffsetMinutes != 0 {
		return false
	}
	return m.ZoneID == "" || m.EffectiveMode() == models.ShiftModeOffset
}

// Passthrough returns the raw timestamp for the fast path, applying only
// the zero-offset normalization.
func (e *Engine) Passthrough(original string) string {
	if !e.ForceZeroOffset {
		return original
	}
	return zeroOffset(original)
}

// Format renders the export timestamp for one instant.
//
// utc is the parsed instant; original is the raw XMLTV text it was parsed
// from (may be empty when the instant was derived, e.g. by backfill).
func (e *Engine) Format(utc time.Time, original string, m models.ChannelMapping) (string, error) {
	var out string
	var err error

	switch m.EffectiveMode() {
	case models.ShiftModeOffset:
		out, err = e.formatOffsetMode(utc, original, m)
	default:
		out, err = e.formatWallMode(utc, original, m)
	}
	if err != nil {
		return "", err
	}

	if e.ForceZeroOffset {
		out = zeroOffset(out)
	}
	return out, nil
}

// formatWallMode shifts the absolute instant and renders wall digits in the
// best available zone, honoring DST at the shifted instant.
func (e *Engine) formatWallMode(utc time.Time, original string, m models.ChannelMapping) (string, error) {
	shifted := utc.Add(m.Offset())

	if m.ZoneID != "" {
		loc, err := e.location(m.ZoneID)
		if err != nil {
			return "", err
		}
		local := shifted.In(loc)
		_, secs := local.Zone()
		return local.Format(wallLayout) + " " + formatNumericOffset(secs/60), nil
	}

	// No zone configured. A fixed offset carried by the original timestamp
	// stands in for the local zone.
	if raw := xmltv.RawOffset(original); raw != "" {
		mins, err := parseNumericOffset(raw)
		if err == nil {
			local := shifted.In(time.FixedZone("", mins*60))
			return local.Format(wallLayout) + " " + formatNumericOffset(mins), nil
		}
	}

	return shifted.UTC().Format(wallLayout) + " +0000", nil
}

// formatOffsetMode keeps the wall digits and adjusts only the numeric
// offset, clamped to ±14:00.
func (e *Engine) formatOffsetMode(utc time.Time, original string, m models.ChannelMapping) (string, error) {
	var digits string
	base := 0

	switch {
	case len(original) >= 14:
		digits = original[:14]
		if raw := xmltv.RawOffset(original); raw != "" {
			if mins, err := parseNumericOffset(raw); err == nil {
				base = mins
			}
		}
	case m.ZoneID != "":
		loc, err := e.location(m.ZoneID)
		if err != nil {
			return "", err
		}
		local := utc.In(loc)
		digits = local.Format(wallLayout)
		_, secs := local.Zone()
		base = secs / 60
	default:
		digits = utc.UTC().Format(wallLayout)
	}

	return digits + " " + formatNumericOffset(clampOffset(base+m.OffsetMinutes)), nil
}

// zeroOffset rewrites the offset portion of a formatted timestamp to +0000
// without touching the wall digits.
func zeroOffset(ts string) string {
	if len(ts) < 14 {
		return ts
	}
	return ts[:14] + " +0000"
}

// clampOffset bounds an offset to [-840, +840] minutes.
func clampOffset(mins int) int {
	if mins > maxOffsetMinutes {
		return maxOffsetMinutes
	}
	if mins < -maxOffsetMinutes {
		return -maxOffsetMinutes
	}
	return mins
}

// formatNumericOffset renders minutes as ±HHMM.
func formatNumericOffset(mins int) string {
	sign := "+"
	if mins < 0 {
		sign = "-"
		mins = -mins
	}
	return fmt.Sprintf("%s%02d%02d", sign, mins/60, mins%60)
}

// parseNumericOffset parses ±HHMM into minutes.
func parseNumericOffset(s string) (int, error) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	var hh, mm int
	if _, err := fmt.Sscanf(s[1:], "%2d%2d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	mins := hh*60 + mm
	if s[0] == '-' {
		mins = -mins
	}
	return mins, nil
}
