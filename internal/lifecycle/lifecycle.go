// Package lifecycle holds the reservation status transition table.
package lifecycle

import (
	"time"

	"innkeep/internal/domain"
)

// Initial is the status every reservation is created with.
const Initial = domain.StatusPending

var transitions = map[domain.Status][]domain.Status{
	domain.StatusPending:   {domain.StatusConfirmed, domain.StatusCancelled},
	domain.StatusConfirmed: {domain.StatusCompleted, domain.StatusCancelled},
	domain.StatusCancelled: nil,
	domain.StatusCompleted: nil,
}

// CanTransition is a pure table lookup; same-status moves are not transitions.
func CanTransition(from, to domain.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next lists the legal targets from a status.
func Next(from domain.Status) []domain.Status {
	out := make([]domain.Status, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// Terminal reports whether no transition leaves s.
func Terminal(s domain.Status) bool {
	return len(transitions[s]) == 0
}

// Check validates moving res to the target status as of today (a calendar date).
func Check(res domain.Reservation, to domain.Status, today time.Time) error {
	if !CanTransition(res.Status, to) {
		return domain.InvalidTransitionError{From: res.Status, To: to}
	}
	if to == domain.StatusCompleted && today.Before(res.Range.CheckOut) {
		return domain.PrematureCompletionError{
			ID:       res.ID,
			CheckOut: domain.FormatDate(res.Range.CheckOut),
			Today:    domain.FormatDate(today),
		}
	}
	return nil
}

// ReleasesRoom reports whether entering s frees the reserved range.
func ReleasesRoom(s domain.Status) bool {
	return !s.Occupies()
}
