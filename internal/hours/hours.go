// Package hours evaluates per-profile business hours. The schedule is a JSON
// map keyed by lowercase weekday, each entry holding "start" and "end" in
// HH:MM profile-local time.
package hours

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DayWindow is one weekday's opening window.
type DayWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Schedule maps lowercase weekday names to opening windows.
type Schedule map[string]DayWindow

// Parse decodes a stored business-hours JSON document. Empty input yields a
// nil schedule, which is always open.
func Parse(raw []byte) (Schedule, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var schedule Schedule
	if err := json.Unmarshal(raw, &schedule); err != nil {
		return nil, fmt.Errorf("hours: parse schedule: %w", err)
	}
	return schedule, nil
}

// Within reports whether now falls inside the schedule, evaluated in the
// given timezone. No schedule means always open; a weekday absent from the
// schedule is closed; malformed times fail open so a typo never silences a
// profile.
func Within(schedule Schedule, timezone string, now time.Time) bool {
	if len(schedule) == 0 {
		return true
	}

	loc, errLoad := time.LoadLocation(strings.TrimSpace(timezone))
	if errLoad != nil || timezone == "" {
		loc = time.UTC
	}
	local := now.In(loc)

	day := strings.ToLower(local.Weekday().String())
	window, ok := schedule[day]
	if !ok {
		return false
	}

	startMin, errStart := parseClock(window.Start, 0)
	endMin, errEnd := parseClock(window.End, 23*60+59)
	if errStart != nil || errEnd != nil {
		return true
	}

	nowMin := local.Hour()*60 + local.Minute()
	if endMin < startMin {
		// Window spans midnight, e.g. 20:00-02:00.
		return nowMin >= startMin || nowMin <= endMin
	}
	return nowMin >= startMin && nowMin <= endMin
}

// parseClock parses an HH:MM string into minutes past midnight.
func parseClock(value string, fallbackMin int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallbackMin, nil
	}
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("hours: parse clock %q: %w", value, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
