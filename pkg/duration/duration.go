// Package duration parses human-readable durations, extending Go's
// time.ParseDuration with day and week units for retention settings.
package duration

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

// extUnit matches a leading number with a day or week suffix, allowing an
// optional space, e.g. "21d", "3w", "2 weeks".
var extUnit = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(weeks?|wk?|days?|d)`)

var unitHours = map[string]int64{
	"w": 7 * 24, "wk": 7 * 24, "week": 7 * 24, "weeks": 7 * 24,
	"d": 24, "day": 24, "days": 24,
}

// Parse parses a duration string. Day and week units are folded into hours
// before the remainder is handed to time.ParseDuration, so compound values
// like "1w2d12h" work.
func Parse(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(strings.ToLower(s))
	if trimmed == "" {
		return 0, fmt.Errorf("empty duration")
	}

	negative := strings.HasPrefix(trimmed, "-")
	trimmed = strings.TrimPrefix(trimmed, "-")

	var total time.Duration
	for {
		m := extUnit.FindStringSubmatch(trimmed)
		if m == nil {
			break
		}
		var value float64
		if _, err := fmt.Sscanf(m[1], "%g", &value); err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += time.Duration(value * float64(unitHours[m[2]]) * float64(time.Hour))
		trimmed = strings.TrimSpace(trimmed[len(m[0]):])
	}

	if trimmed != "" {
		rest, err := time.ParseDuration(trimmed)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += rest
	}

	if negative {
		total = -total
	}
	return total, nil
}

// Format renders a duration using the largest whole units first, e.g.
// "3w", "21d", "1w2d12h". Sub-day remainders fall back to the standard
// Go formatting.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var sb strings.Builder
	if d < 0 {
		sb.WriteByte('-')
		d = -d
	}

	if weeks := d / Week; weeks > 0 {
		fmt.Fprintf(&sb, "%dw", weeks)
		d -= weeks * Week
	}
	if days := d / Day; days > 0 {
		fmt.Fprintf(&sb, "%dd", days)
		d -= days * Day
	}
	if d > 0 {
		sb.WriteString(d.String())
	}
	return sb.String()
}
