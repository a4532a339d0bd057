// Package guarantee computes warranty end dates and normalizes the textual
// purchase dates stored in the catalogue.
package guarantee

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout is the canonical textual date form, e.g. 2026-Feb-15.
const Layout = "2006-Jan-02"

// NotApplicable is stored instead of an end date when no guarantee is tracked.
const NotApplicable = "N/A"

// Unit is the unit of a guarantee duration
type Unit string

const (
	Days   Unit = "days"
	Months Unit = "months"
	Years  Unit = "years"
)

var (
	// ErrInvalidDate is returned when a purchase date matches none of the accepted layouts.
	ErrInvalidDate = errors.New("invalid date")
	// ErrInvalidUnit is returned for units other than days, months or years.
	ErrInvalidUnit = errors.New("invalid guarantee unit")
	// ErrNegativeDuration is returned for durations below zero.
	ErrNegativeDuration = errors.New("negative guarantee duration")
	// ErrDurationTooLong is returned for durations beyond MaxDuration.
	ErrDurationTooLong = errors.New("guarantee duration too long")
)

// maxYears caps every guarantee so end dates stay within four-digit years.
const maxYears = 100

// MaxDuration is the longest accepted duration in the given unit, 0 for unknown units
func MaxDuration(unit Unit) int {
	switch unit {
	case Days:
		return maxYears * 366
	case Months:
		return maxYears * 12
	case Years:
		return maxYears
	default:
		return 0
	}
}

// inputLayouts are tried in order; the canonical form comes first.
var inputLayouts = []string{
	Layout,
	"2006-01-02",
	"2006/01/02",
	"02-Jan-2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"2006Jan02",
}

// ParseUnit validates a unit string
func ParseUnit(s string) (Unit, error) {
	switch u := Unit(strings.ToLower(strings.TrimSpace(s))); u {
	case Days, Months, Years:
		return u, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, s)
	}
}

// Parse parses a purchase date in any accepted layout
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// Format renders t in the canonical layout
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Normalize rewrites a purchase date into the canonical layout
func Normalize(s string) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}

// Compact strips separators from a date for use in file names (2026-Feb-15 -> 2026Feb15).
// Unparseable input has its hyphens removed instead.
func Compact(s string) string {
	t, err := Parse(s)
	if err != nil {
		return strings.ReplaceAll(strings.TrimSpace(s), "-", "")
	}
	return t.Format("2006Jan02")
}

// EndDate computes the guarantee end date for a purchase date.
// A zero duration yields NotApplicable whatever the unit.
func EndDate(purchaseDate string, duration int, unit Unit) (string, error) {
	if duration == 0 {
		return NotApplicable, nil
	}
	if duration < 0 {
		return "", fmt.Errorf("%w: %d", ErrNegativeDuration, duration)
	}

	if limit := MaxDuration(unit); limit > 0 && duration > limit {
		return "", fmt.Errorf("%w: %d %s", ErrDurationTooLong, duration, unit)
	}

	start, err := Parse(purchaseDate)
	if err != nil {
		return "", err
	}

	var end time.Time
	switch unit {
	case Days:
		end = start.AddDate(0, 0, duration)
	case Months:
		end = AddMonths(start, duration)
	case Years:
		end = AddMonths(start, duration*12)
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}
	return Format(end), nil
}

// AddMonths adds n months to t, clamping the day to the last day of the
// target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	months := int(t.Month()) - 1 + n
	year := t.Year() + months/12
	months %= 12
	if months < 0 {
		months += 12
		year--
	}
	month := time.Month(months + 1)

	day := t.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
