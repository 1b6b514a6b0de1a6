// Package inventory owns the bookable room list.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"innkeep/internal/domain"
	"innkeep/internal/repo"
)

// Inventory reads rooms for the engine and applies admin edits.
type Inventory struct {
	Repo     repo.Repo
	Now      func() time.Time
	validate *validator.Validate
}

func New(r repo.Repo) *Inventory {
	return &Inventory{Repo: r, Now: time.Now, validate: validator.New()}
}

func (inv *Inventory) now() time.Time {
	if inv.Now != nil {
		return inv.Now()
	}
	return time.Now()
}

// Get returns a room or RoomNotFoundError. Inactive rooms are returned as-is.
func (inv *Inventory) Get(ctx context.Context, id string) (domain.Room, error) {
	room, err := inv.Repo.GetRoom(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Room{}, domain.RoomNotFoundError{RoomID: id}
	}
	return room, err
}

func (inv *Inventory) List(ctx context.Context, includeInactive bool) ([]domain.Room, error) {
	return inv.Repo.ListRooms(ctx, includeInactive)
}

// RoomInput is the admin payload for creating or editing a room.
type RoomInput struct {
	ID          string `validate:"required,max=64,printascii,excludesall=/?#"`
	Name        string `validate:"required,max=120"`
	NightlyRate string `validate:"required,numeric"`
	Capacity    int    `validate:"required,min=1,max=64"`
	Active      *bool
}

func (inv *Inventory) check(in RoomInput) (decimal.Decimal, error) {
	if err := inv.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return decimal.Zero, domain.ValidationError{Field: strings.ToLower(fe.Field()), Reason: fmt.Sprintf("failed %s", fe.Tag())}
		}
		return decimal.Zero, domain.ValidationError{Reason: err.Error()}
	}
	if strings.ContainsAny(in.ID, " \t\r\n") {
		return decimal.Zero, domain.ValidationError{Field: "id", Reason: "must not contain whitespace"}
	}
	rate, err := decimal.NewFromString(in.NightlyRate)
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, domain.ValidationError{Field: "nightly_rate", Reason: "must be a positive amount"}
	}
	return rate, nil
}

// Create adds a room; rooms start active unless told otherwise.
func (inv *Inventory) Create(ctx context.Context, in RoomInput) (domain.Room, error) {
	rate, err := inv.check(in)
	if err != nil {
		return domain.Room{}, err
	}
	now := domain.FormatTimestamp(inv.now())
	room := domain.Room{
		ID:          in.ID,
		Name:        in.Name,
		NightlyRate: rate,
		Capacity:    in.Capacity,
		Active:      in.Active == nil || *in.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := inv.Repo.InsertRoom(ctx, room); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Room{}, domain.ValidationError{Field: "id", Reason: fmt.Sprintf("room %s already exists", in.ID)}
		}
		return domain.Room{}, fmt.Errorf("insert room: %w", err)
	}
	return room, nil
}

// RoomPatch carries optional edits; nil fields are left unchanged.
type RoomPatch struct {
	Name        *string
	NightlyRate *string
	Capacity    *int
	Active      *bool
}

// Update edits a room. Existing reservations keep their price and guest count.
func (inv *Inventory) Update(ctx context.Context, id string, patch RoomPatch) (domain.Room, error) {
	room, err := inv.Get(ctx, id)
	if err != nil {
		return domain.Room{}, err
	}
	in := RoomInput{ID: room.ID, Name: room.Name, NightlyRate: room.NightlyRate.String(), Capacity: room.Capacity, Active: &room.Active}
	if patch.Name != nil {
		in.Name = *patch.Name
	}
	if patch.NightlyRate != nil {
		in.NightlyRate = *patch.NightlyRate
	}
	if patch.Capacity != nil {
		in.Capacity = *patch.Capacity
	}
	if patch.Active != nil {
		in.Active = patch.Active
	}
	rate, err := inv.check(in)
	if err != nil {
		return domain.Room{}, err
	}
	room.Name = in.Name
	room.NightlyRate = rate
	room.Capacity = in.Capacity
	room.Active = *in.Active
	room.UpdatedAt = domain.FormatTimestamp(inv.now())
	if err := inv.Repo.UpdateRoom(ctx, room); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Room{}, domain.RoomNotFoundError{RoomID: id}
		}
		return domain.Room{}, fmt.Errorf("update room: %w", err)
	}
	return room, nil
}

// Deactivate stops new bookings for a room without touching existing reservations.
func (inv *Inventory) Deactivate(ctx context.Context, id string) (domain.Room, error) {
	off := false
	return inv.Update(ctx, id, RoomPatch{Active: &off})
}
