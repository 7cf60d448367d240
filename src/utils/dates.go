package utils

import (
	"math"
	"time"
)

// DateLayout is the calendar-date key format used throughout the store.
// Dates in this format compare correctly as strings.
const DateLayout = "2006-01-02"

// -----------------------------------------------------------------------------

// DateString formats a time as a calendar-date key.
func DateString(t time.Time) string {
	return t.Format(DateLayout)
}

// -----------------------------------------------------------------------------

// ParseDate parses a calendar-date key. Returns the zero time on failure.
func ParseDate(date string) time.Time {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// -----------------------------------------------------------------------------

// NextDay returns the calendar date one day after the given date key.
func NextDay(date string) string {
	return DateString(ParseDate(date).AddDate(0, 0, 1))
}

// -----------------------------------------------------------------------------

// IsWeekday reports whether t falls on Monday through Friday.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// -----------------------------------------------------------------------------

// Round2 rounds to 2 decimal places (index points).
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round4 rounds to 4 decimal places (weights, percent changes).
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
