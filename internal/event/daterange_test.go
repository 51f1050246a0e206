package event_test

import (
	"testing"
	"time"

	"github.com/amirsdream/mcp-agentic-workflow/internal/event"
)

var refNow = time.Date(2024, time.June, 15, 10, 30, 0, 0, time.UTC)

func TestResolveRangeRelative(t *testing.T) {
	tests := []struct {
		expr  string
		start time.Time
		end   time.Time
	}{
		{"this month", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"current month", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"last month", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"previous month", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		start, end, ok := event.ResolveRange(tt.expr, refNow)
		if !ok {
			t.Fatalf("ResolveRange(%q) not ok", tt.expr)
		}
		if !start.Equal(tt.start) || !end.Equal(tt.end) {
			t.Errorf("ResolveRange(%q) = [%v, %v), want [%v, %v)", tt.expr, start, end, tt.start, tt.end)
		}
	}
}

func TestResolveRangeLastMonthAcrossYear(t *testing.T) {
	january := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	start, end, ok := event.ResolveRange("last month", january)
	if !ok {
		t.Fatal("expected ok")
	}
	if start.Year() != 2023 || start.Month() != time.December || start.Day() != 1 {
		t.Errorf("start = %v, want 2023-12-01", start)
	}
	if end.Year() != 2024 || end.Month() != time.January {
		t.Errorf("end = %v, want 2024-01-01", end)
	}
}

func TestResolveRangeNamedMonths(t *testing.T) {
	tests := []struct {
		expr  string
		month time.Month
	}{
		{"january", time.January},
		{"jan", time.January},
		{"JANUARY", time.January},
		{"sep", time.September},
		{"sept", time.September},
		{"  december  ", time.December},
	}

	for _, tt := range tests {
		start, end, ok := event.ResolveRange(tt.expr, refNow)
		if !ok {
			t.Fatalf("ResolveRange(%q) not ok", tt.expr)
		}
		if start.Month() != tt.month || start.Day() != 1 || start.Year() != 2024 {
			t.Errorf("ResolveRange(%q) start = %v", tt.expr, start)
		}
		if !end.After(start) {
			t.Errorf("ResolveRange(%q): end %v not after start %v", tt.expr, end, start)
		}
	}
}

func TestResolveRangeMonthYear(t *testing.T) {
	start, end, ok := event.ResolveRange("march 2023", refNow)
	if !ok {
		t.Fatal("expected ok")
	}
	if start.Year() != 2023 || start.Month() != time.March {
		t.Errorf("start = %v, want 2023-03-01", start)
	}
	if end.Year() != 2023 || end.Month() != time.April {
		t.Errorf("end = %v, want 2023-04-01", end)
	}

	// non-numeric second token falls back to the current year
	start, _, ok = event.ResolveRange("march foo", refNow)
	if !ok {
		t.Fatal("expected ok for month with junk year")
	}
	if start.Year() != 2024 {
		t.Errorf("start year = %d, want current year 2024", start.Year())
	}

	// words after the year are ignored, the year still counts
	start, _, ok = event.ResolveRange("jan 2024 report", refNow)
	if !ok {
		t.Fatal("expected ok for month year with trailing words")
	}
	if start.Year() != 2024 || start.Month() != time.January {
		t.Errorf("start = %v, want 2024-01-01", start)
	}

	// extra whitespace between tokens is tolerated
	start, _, ok = event.ResolveRange("march   2023", refNow)
	if !ok {
		t.Fatal("expected ok for double-spaced month year")
	}
	if start.Year() != 2023 {
		t.Errorf("start year = %d, want 2023", start.Year())
	}
}

func TestResolveRangeISO(t *testing.T) {
	start, end, ok := event.ResolveRange("2024-12", refNow)
	if !ok {
		t.Fatal("expected ok")
	}
	if start.Year() != 2024 || start.Month() != time.December || start.Day() != 1 {
		t.Errorf("start = %v, want 2024-12-01", start)
	}
	// December rolls the end over to January of the next year
	if end.Year() != 2025 || end.Month() != time.January || end.Day() != 1 {
		t.Errorf("end = %v, want 2025-01-01", end)
	}
}

func TestResolveRangeInvalid(t *testing.T) {
	for _, expr := range []string{"", "not-a-month", "2024-13", "2024-xx", "soon", "13"} {
		if _, _, ok := event.ResolveRange(expr, refNow); ok {
			t.Errorf("ResolveRange(%q) = ok, want no filter", expr)
		}
	}
}

func TestResolveRangeAlwaysHalfOpenFromDayOne(t *testing.T) {
	valid := []string{"this month", "last month", "january", "jul", "march 2023", "2024-02", "2024-12"}
	for _, expr := range valid {
		start, end, ok := event.ResolveRange(expr, refNow)
		if !ok {
			t.Fatalf("ResolveRange(%q) not ok", expr)
		}
		if !start.Before(end) {
			t.Errorf("ResolveRange(%q): start %v not before end %v", expr, start, end)
		}
		if start.Day() != 1 || end.Day() != 1 {
			t.Errorf("ResolveRange(%q): bounds not on day 1: [%v, %v)", expr, start, end)
		}
	}
}
