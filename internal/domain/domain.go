package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Room is a bookable unit. The engine only reads rooms; admin writes go through inventory.
type Room struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	NightlyRate decimal.Decimal `json:"nightly_rate"`
	Capacity    int             `json:"capacity"`
	Active      bool            `json:"active"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
}

// Status is the booking lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted}

// ParseStatus rejects anything outside the closed set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return Status(s), nil
	}
	return "", ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// Occupies reports whether a reservation in this status blocks its room.
func (s Status) Occupies() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) String() string { return string(s) }

type Reservation struct {
	ID         string          `json:"id"`
	RoomID     string          `json:"room_id"`
	GuestID    string          `json:"guest_id"`
	GuestName  string          `json:"guest_name,omitempty"`
	Range      DateRange       `json:"range"`
	GuestCount int             `json:"guest_count"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     Status          `json:"status"`
	Notes      string          `json:"notes,omitempty"`
	Version    int             `json:"version"`
	CreatedAt  string          `json:"created_at" format:"date-time"`
	UpdatedAt  string          `json:"updated_at" format:"date-time"`
}

// TimestampLayout is fixed width so stored timestamps sort lexically.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders audit timestamps the way they are stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// APIKey lets staff tooling call the HTTP API without a JWT.
type APIKey struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
