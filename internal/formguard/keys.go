package formguard

import (
	"strconv"
	"strings"
	"time"
)

// Stored key names. These are read back on later visits, do not rename.
const (
	DayKeyPrefix      = "submissions_"
	KeyLastSubmission = "lastFormSubmission"
	KeyFormStart      = "formStartTime"
	KeyFallbackMode   = "vpnCompatibilityMode"

	fallbackOn = "true"
)

// dateStringLayout renders dates like Date.prototype.toDateString
const dateStringLayout = "Mon Jan 02 2006"

// maxClockSkew is how far in the future a stored timestamp may be before it
// is treated as impossible rather than as a slightly fast clock.
const maxClockSkew = time.Minute

// DayKeyFunc maps an instant to the key of that calendar day's counter.
type DayKeyFunc func(time.Time) string

// DayKey returns a DayKeyFunc that derives the calendar day in loc.
func DayKey(loc *time.Location) DayKeyFunc {
	if loc == nil {
		loc = time.Local
	}
	return func(t time.Time) string {
		return DayKeyPrefix + t.In(loc).Format(dateStringLayout)
	}
}

// parseCount parses a stored counter. Negative values are an error, a
// counter is never below zero.
func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// parseMillis parses a stored epoch millisecond timestamp.
func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// nextMidnight returns the start of the calendar day after t in loc.
func nextMidnight(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	y, m, d := lt.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
