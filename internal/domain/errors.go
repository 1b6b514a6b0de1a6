package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups domain errors for callers that map them to transport codes.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

type kinded interface {
	Kind() Kind
}

type coded interface {
	Code() string
}

// KindOf classifies err. Anything that is not a domain error is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// CodeOf returns the machine-readable code of a domain error, or "" for infrastructure errors.
func CodeOf(err error) string {
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
func (ValidationError) Kind() Kind   { return KindValidation }
func (ValidationError) Code() string { return "validation_failed" }

// InvalidRangeError means check-in is not strictly before check-out.
type InvalidRangeError struct {
	CheckIn  string
	CheckOut string
}

func (e InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid date range: check-in %s must be before check-out %s", e.CheckIn, e.CheckOut)
}
func (InvalidRangeError) Kind() Kind   { return KindValidation }
func (InvalidRangeError) Code() string { return "invalid_range" }

type CapacityExceededError struct {
	RoomID    string
	Capacity  int
	Requested int
}

func (e CapacityExceededError) Error() string {
	return fmt.Sprintf("room %s holds %d guests, %d requested", e.RoomID, e.Capacity, e.Requested)
}
func (CapacityExceededError) Kind() Kind   { return KindValidation }
func (CapacityExceededError) Code() string { return "capacity_exceeded" }

type RoomNotFoundError struct {
	RoomID string
}

func (e RoomNotFoundError) Error() string { return fmt.Sprintf("room %s not found", e.RoomID) }
func (RoomNotFoundError) Kind() Kind      { return KindNotFound }
func (RoomNotFoundError) Code() string    { return "room_not_found" }

type ReservationNotFoundError struct {
	ID string
}

func (e ReservationNotFoundError) Error() string {
	return fmt.Sprintf("reservation %s not found", e.ID)
}
func (ReservationNotFoundError) Kind() Kind   { return KindNotFound }
func (ReservationNotFoundError) Code() string { return "reservation_not_found" }

type RoomInactiveError struct {
	RoomID string
}

func (e RoomInactiveError) Error() string { return fmt.Sprintf("room %s is not bookable", e.RoomID) }
func (RoomInactiveError) Kind() Kind      { return KindConflict }
func (RoomInactiveError) Code() string    { return "room_inactive" }

// RoomUnavailableError lists the occupying reservations that overlap the requested range.
// Conflicts may be empty when the overlap was detected by storage.
type RoomUnavailableError struct {
	RoomID    string
	Range     DateRange
	Conflicts []string
}

func (e RoomUnavailableError) Error() string {
	msg := fmt.Sprintf("room %s is not available for %s", e.RoomID, e.Range)
	if len(e.Conflicts) > 0 {
		msg += " (conflicts: " + strings.Join(e.Conflicts, ", ") + ")"
	}
	return msg
}
func (RoomUnavailableError) Kind() Kind   { return KindConflict }
func (RoomUnavailableError) Code() string { return "room_unavailable" }

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid reservation transition %s -> %s", e.From, e.To)
}
func (InvalidTransitionError) Kind() Kind   { return KindConflict }
func (InvalidTransitionError) Code() string { return "invalid_transition" }

type PrematureCompletionError struct {
	ID       string
	CheckOut string
	Today    string
}

func (e PrematureCompletionError) Error() string {
	return fmt.Sprintf("reservation %s cannot complete before check-out %s (today %s)", e.ID, e.CheckOut, e.Today)
}
func (PrematureCompletionError) Kind() Kind   { return KindConflict }
func (PrematureCompletionError) Code() string { return "premature_completion" }

// VersionConflictError means the row changed between read and write.
type VersionConflictError struct {
	ID       string
	Expected int
}

func (e VersionConflictError) Error() string {
	return fmt.Sprintf("reservation %s was modified concurrently (expected version %d)", e.ID, e.Expected)
}
func (VersionConflictError) Kind() Kind   { return KindConflict }
func (VersionConflictError) Code() string { return "version_conflict" }

// RoomBusyError is returned when the room lock could not be acquired in time.
type RoomBusyError struct {
	RoomID string
}

func (e RoomBusyError) Error() string { return fmt.Sprintf("room %s is busy, retry later", e.RoomID) }
func (RoomBusyError) Kind() Kind      { return KindConflict }
func (RoomBusyError) Code() string    { return "room_busy" }
