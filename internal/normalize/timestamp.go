package normalize

import (
	"math"
	"strings"
	"time"

	"fleet-monitor/tracking/internal/domain"
)

const (
	// ClockSkewTolerance is how far in the future a timestamp may be.
	ClockSkewTolerance = 5 * time.Minute

	epochSecondsCeil = 1e11 // seconds until year 5138
	epochMillisCeil  = 1e14
	epochMicrosCeil  = 1e17
)

// minPlausible is the earliest timestamp accepted from a device.
var minPlausible = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04",
}

// EpochToTime interprets an epoch number as seconds, milliseconds or
// microseconds depending on its order of magnitude.
func EpochToTime(v float64) (time.Time, bool) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	switch {
	case v < epochSecondsCeil:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case v < epochMillisCeil:
		return time.UnixMilli(int64(v)).UTC(), true
	case v < epochMicrosCeil:
		return time.UnixMicro(int64(v)).UTC(), true
	default:
		return time.Time{}, false
	}
}

// ParseTimestamp reads an epoch number or an ISO-like string and rejects
// anything before 2000 or beyond the clock-skew tolerance.
func ParseTimestamp(f *domain.Flex, now time.Time) (time.Time, bool) {
	if !f.Present() {
		return time.Time{}, false
	}

	var (
		t  time.Time
		ok bool
	)
	if n, isNum := f.Float(); isNum {
		t, ok = EpochToTime(n)
	} else if s, isStr := f.Text(); isStr {
		t, ok = parseTimeString(s)
	}
	if !ok || !Plausible(t, now) {
		return time.Time{}, false
	}
	return t, true
}

// Plausible reports whether t is after 2000 and not too far in the future.
func Plausible(t time.Time, now time.Time) bool {
	if t.Before(minPlausible) {
		return false
	}
	return !t.After(now.Add(ClockSkewTolerance))
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
