package event

import (
	"strconv"
	"strings"
	"time"
)

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// ResolveRange parses a free-form period expression into a half-open
// [start, end) interval. Recognized forms: "this month", "last month",
// a month name or abbreviation, "<Month> <Year>", and "YYYY-MM".
// Anything else returns ok=false, which means "no date filter" rather
// than an error.
func ResolveRange(period string, now time.Time) (start, end time.Time, ok bool) {
	expr := strings.ToLower(strings.TrimSpace(period))
	if expr == "" {
		return time.Time{}, time.Time{}, false
	}

	switch expr {
	case "this_month", "this month", "current month":
		start = monthStart(now.Year(), now.Month(), now.Location())
		return start, nextMonth(start), true
	case "last_month", "last month", "previous month":
		end = monthStart(now.Year(), now.Month(), now.Location())
		return end.AddDate(0, -1, 0), end, true
	}

	if m, found := monthNames[expr]; found {
		start = monthStart(now.Year(), m, now.Location())
		return start, nextMonth(start), true
	}

	if fields := strings.Fields(expr); len(fields) > 1 {
		m, known := monthNames[fields[0]]
		if !known {
			return time.Time{}, time.Time{}, false
		}
		// the year is the second token when it is a plain number;
		// trailing words are ignored
		y := now.Year()
		if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
			y = n
		}
		start = monthStart(y, m, now.Location())
		return start, nextMonth(start), true
	}

	if ys, ms, found := strings.Cut(expr, "-"); found {
		y, errY := strconv.Atoi(ys)
		m, errM := strconv.Atoi(ms)
		if errY != nil || errM != nil || m < 1 || m > 12 {
			return time.Time{}, time.Time{}, false
		}
		start = monthStart(y, time.Month(m), now.Location())
		return start, nextMonth(start), true
	}

	return time.Time{}, time.Time{}, false
}

func monthStart(year int, month time.Month, loc *time.Location) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, loc)
}

// nextMonth rolls December over to January of the following year.
func nextMonth(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}
