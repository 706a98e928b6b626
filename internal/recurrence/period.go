// Package recurrence computes the cadence periods goals are evaluated over.
package recurrence

import (
	"fmt"
	"strings"
	"time"
)

type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
	Yearly
)

var freqNames = map[Freq]string{
	Daily:   "daily",
	Weekly:  "weekly",
	Monthly: "monthly",
	Yearly:  "yearly",
}

var freqFromName = map[string]Freq{
	"daily":   Daily,
	"weekly":  Weekly,
	"monthly": Monthly,
	"yearly":  Yearly,
}

// ParseFreq parses a goal cadence such as "daily" or "WEEKLY".
func ParseFreq(s string) (Freq, error) {
	f, ok := freqFromName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return Daily, fmt.Errorf("unknown cadence: %q", s)
	}
	return f, nil
}

func (f Freq) String() string {
	return freqNames[f]
}

// Describe returns the phrase used in notification copy, e.g. "today".
func (f Freq) Describe() string {
	switch f {
	case Weekly:
		return "this week"
	case Monthly:
		return "this month"
	case Yearly:
		return "this year"
	}
	return "today"
}

// Period returns the half-open period [start, end) of the given cadence that
// contains t, computed in t's location. Weeks start on Monday.
func Period(f Freq, t time.Time) (start, end time.Time) {
	day := StartOfDay(t)
	switch f {
	case Weekly:
		offset := (int(day.Weekday()) + 6) % 7
		start = day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case Monthly:
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
		return start, start.AddDate(0, 1, 0)
	case Yearly:
		start = time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
		return start, start.AddDate(1, 0, 0)
	}
	return day, day.AddDate(0, 0, 1)
}

// StartOfDay truncates t to local midnight, DST-safe.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// AtHour returns the instant hour:00 on t's local calendar day.
func AtHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}
