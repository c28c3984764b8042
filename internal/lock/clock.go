package lock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"channelwarden/internal/models"
)

// ParseTimeOfDay validates a 24h "HH:MM" string.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time of day must be HH:MM, got %q", models.ErrConfigInvalid, s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", models.ErrConfigInvalid, s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", models.ErrConfigInvalid, s)
	}
	return hour, minute, nil
}

// NextOccurrence resolves a time of day to the next concrete instant in
// loc: today if still ahead, otherwise tomorrow. The delay from now is
// therefore always positive and under 24 hours.
func NextOccurrence(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !target.After(now) {
		target = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return target
}
