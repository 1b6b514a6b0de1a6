package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDateRangeHalfOpen(t *testing.T) {
	a := MustRange("2024-06-01", "2024-06-05")
	b := MustRange("2024-06-05", "2024-06-07")
	if a.Overlaps(b) || b.Overlaps(a) {
		t.Fatalf("adjacent ranges must not overlap: %s %s", a, b)
	}
	c := MustRange("2024-06-04", "2024-06-06")
	if !a.Overlaps(c) || !c.Overlaps(a) {
		t.Fatalf("expected overlap between %s and %s", a, c)
	}
	if a.Nights() != 4 {
		t.Fatalf("expected 4 nights, got %d", a.Nights())
	}
}

func TestParseDateRangeRejectsInverted(t *testing.T) {
	_, err := ParseDateRange("2024-06-05", "2024-06-05")
	var rangeErr InvalidRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected InvalidRangeError, got %v", err)
	}
	if _, err := ParseDateRange("2024-13-01", "2024-06-05"); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for bad date, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses {
		got, err := ParseStatus(string(s))
		if err != nil || got != s {
			t.Fatalf("parse %s: %v %v", s, got, err)
		}
	}
	if _, err := ParseStatus("checked_in"); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if StatusCancelled.Occupies() || StatusCompleted.Occupies() || !StatusPending.Occupies() {
		t.Fatalf("unexpected occupancy flags")
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("create: %w", RoomUnavailableError{RoomID: "r1", Conflicts: []string{"x"}})
	if KindOf(err) != KindConflict || CodeOf(err) != "room_unavailable" {
		t.Fatalf("unexpected classification %s %s", KindOf(err), CodeOf(err))
	}
	if KindOf(errors.New("disk full")) != KindInternal {
		t.Fatalf("plain errors must be internal")
	}
}
