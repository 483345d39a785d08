// Package logicalday maps instants onto per-user date buckets. A user's
// "day" may end at a configured wall-clock time instead of midnight, so
// a late-night meal can still count toward the previous date.
package logicalday

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultDayEnd keeps the logical day aligned with the calendar day.
	DefaultDayEnd = "00:00"
	// DefaultTimezone is the UTC offset assumed for users who never set one.
	DefaultTimezone = 3
)

// ParseDayEnd parses an "HH:MM" wall-clock boundary.
func ParseDayEnd(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid day-end time %q (expected HH:MM)", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid day-end time %q (expected HH:MM)", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid day-end time %q (expected HH:MM)", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("day-end time %q out of range", s)
	}
	return hour, minute, nil
}

// Resolve returns the ISO date of the logical day the instant belongs
// to. The instant is shifted into the user's timezone first; local
// wall-clock times strictly before the day-end boundary still belong to
// the previous date. A malformed day-end value falls back to midnight.
func Resolve(now time.Time, tzOffsetHours int, dayEnd string) string {
	hour, minute, err := ParseDayEnd(dayEnd)
	if err != nil {
		hour, minute = 0, 0
	}
	local := now.UTC().Add(time.Duration(tzOffsetHours) * time.Hour)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, time.UTC)
	day := local
	if local.Before(boundary) {
		day = local.AddDate(0, 0, -1)
	}
	return day.Format("2006-01-02")
}
