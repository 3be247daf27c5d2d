package clock

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned when a string is not an ISO-8601 timestamp.
var ErrInvalidTimestamp = errors.New("invalid ISO-8601 timestamp")

// Clock supplies the current time. Components take a Clock instead of calling
// time.Now directly so tests can pin "now".
type Clock interface {
	Now() time.Time
}

// Func adapts a plain function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// System returns the wall clock in UTC.
func System() Clock {
	return Func(func() time.Time { return time.Now().UTC() })
}

// Fixed returns a clock frozen at t.
func Fixed(t time.Time) Clock {
	t = t.UTC()
	return Func(func() time.Time { return t })
}

// Layouts accepted by ParseISO8601UTC, most specific first. Timestamps without
// an offset are read as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISO8601UTC parses s and returns the instant in UTC.
func ParseISO8601UTC(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTimestamp)
	}
	// Lower-case "z" is legal ISO-8601 but rejected by time.RFC3339.
	if strings.HasSuffix(trimmed, "z") {
		trimmed = strings.TrimSuffix(trimmed, "z") + "Z"
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q (expected e.g. 2025-08-23T00:00:00Z)", ErrInvalidTimestamp, s)
}

// FormatISO8601UTC renders t with second precision and a Z suffix.
func FormatISO8601UTC(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

// DaysAgo returns the ISO-8601 UTC timestamp days before c.Now().
func DaysAgo(c Clock, days int) string {
	return FormatISO8601UTC(c.Now().AddDate(0, 0, -days))
}

// IsFuture reports whether t is strictly after the clock's current time.
func IsFuture(c Clock, t time.Time) bool {
	return t.After(c.Now())
}

// AgeInDays returns the number of whole days elapsed between t and now.
// Negative ages (future instants) are reported as zero.
func AgeInDays(c Clock, t time.Time) int {
	d := c.Now().Sub(t)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// StartOfDay truncates t to midnight of its UTC calendar date.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
