package lifecycle

import (
	"errors"
	"testing"

	"innkeep/internal/domain"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to domain.Status
		ok       bool
	}{
		{domain.StatusPending, domain.StatusConfirmed, true},
		{domain.StatusPending, domain.StatusCancelled, true},
		{domain.StatusPending, domain.StatusCompleted, false},
		{domain.StatusPending, domain.StatusPending, false},
		{domain.StatusConfirmed, domain.StatusCompleted, true},
		{domain.StatusConfirmed, domain.StatusCancelled, true},
		{domain.StatusConfirmed, domain.StatusPending, false},
		{domain.StatusCancelled, domain.StatusConfirmed, false},
		{domain.StatusCancelled, domain.StatusPending, false},
		{domain.StatusCompleted, domain.StatusCancelled, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Fatalf("%s -> %s: expected %v got %v", c.from, c.to, c.ok, got)
		}
	}
	if !Terminal(domain.StatusCancelled) || !Terminal(domain.StatusCompleted) || Terminal(domain.StatusPending) {
		t.Fatalf("unexpected terminal flags")
	}
}

func TestCheckCompletionGuard(t *testing.T) {
	res := domain.Reservation{ID: "r1", Status: domain.StatusConfirmed, Range: domain.MustRange("2024-06-10", "2024-06-12")}

	today, _ := domain.ParseDate("2024-06-11")
	err := Check(res, domain.StatusCompleted, today)
	var premature domain.PrematureCompletionError
	if !errors.As(err, &premature) {
		t.Fatalf("expected PrematureCompletionError, got %v", err)
	}

	checkout, _ := domain.ParseDate("2024-06-12")
	if err := Check(res, domain.StatusCompleted, checkout); err != nil {
		t.Fatalf("completion on check-out day: %v", err)
	}

	cancelled := res
	cancelled.Status = domain.StatusCancelled
	var invalid domain.InvalidTransitionError
	if err := Check(cancelled, domain.StatusConfirmed, checkout); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestNextReturnsCopy(t *testing.T) {
	next := Next(domain.StatusPending)
	if len(next) != 2 {
		t.Fatalf("expected 2 targets, got %v", next)
	}
	next[0] = domain.StatusCompleted
	if CanTransition(domain.StatusPending, domain.StatusCompleted) {
		t.Fatalf("Next must not expose the table")
	}
}
