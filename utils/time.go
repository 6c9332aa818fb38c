// Package utils provides utility functions for the application.
package utils

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// UTCNowPtr returns a pointer to the current time in UTC
func UTCNowPtr() *time.Time {
	now := UTCNow()
	return &now
}

// TimeToUTCPtr converts a time pointer to UTC if it's not already
func TimeToUTCPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// IsExpired checks if the given time is in the past (expired)
func IsExpired(t time.Time) bool {
	return UTCNow().After(t)
}

// ParseMonth parses a "YYYY-MM" string into year and month
func ParseMonth(s string) (int, time.Month, error) {
	if !monthPattern.MatchString(s) {
		return 0, 0, fmt.Errorf("invalid month format %q, expected YYYY-MM", s)
	}
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return 0, 0, err
	}
	return t.Year(), t.Month(), nil
}

// MonthBounds returns the first instant of the month and the last millisecond of its last day, both UTC
func MonthBounds(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return start, end
}

// MonthBoundsFor parses s and returns its bounds
func MonthBoundsFor(s string) (time.Time, time.Time, error) {
	y, m, err := ParseMonth(s)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, end := MonthBounds(y, m)
	return start, end, nil
}

// DayBounds returns the half-open UTC day window containing t
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// FormatMonth renders t as "YYYY-MM" in UTC
func FormatMonth(t time.Time) string {
	return t.UTC().Format(MonthLayout)
}

// CurrentMonth returns the current UTC month as "YYYY-MM"
func CurrentMonth() string {
	return FormatMonth(UTCNow())
}

// PreviousMonth returns the month before s as "YYYY-MM"
func PreviousMonth(s string) (string, error) {
	y, m, err := ParseMonth(s)
	if err != nil {
		return "", err
	}
	return FormatMonth(time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)), nil
}

// RecentMonths returns n months ending with the month of now, newest first
func RecentMonths(now time.Time, n int) []string {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	months := make([]string, 0, n)
	for i := 0; i < n; i++ {
		months = append(months, FormatMonth(first.AddDate(0, -i, 0)))
	}
	return months
}

// Round2 rounds to two decimals
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Percentage returns part/total*100 rounded to two decimals, 0 when total is 0
func Percentage(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return Round2(float64(part) / float64(total) * 100)
}
