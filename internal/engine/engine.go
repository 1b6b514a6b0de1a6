package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"innkeep/internal/availability"
	"innkeep/internal/config"
	"innkeep/internal/domain"
	"innkeep/internal/inventory"
	"innkeep/internal/lifecycle"
	"innkeep/internal/lock"
	"innkeep/internal/pricing"
	"innkeep/internal/repo"
)

const (
	defaultLockTimeout      = 2 * time.Second
	defaultOperationTimeout = 10 * time.Second
)

// Engine orchestrates reservations: inventory lookup, availability, pricing,
// storage and the in-memory index.
type Engine struct {
	Repo     repo.Repo
	Rooms    *inventory.Inventory
	Index    *availability.Index
	Locks    lock.RoomLocker
	Pricing  pricing.Calculator
	Config   *config.Config
	Log      logrus.FieldLogger
	Now      func() time.Time
	Location *time.Location
	// ReadThrough answers availability reads from storage instead of the
	// local index. Set it when other instances write to the same database.
	ReadThrough bool
	validate    *validator.Validate
}

// New wires an engine with an in-process locker and an empty index.
// Callers rebuild the index before serving traffic.
func New(r repo.Repo, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return Engine{}, fmt.Errorf("timezone: %w", err)
	}
	seasons, err := cfg.Seasons()
	if err != nil {
		return Engine{}, err
	}
	rate := pricing.RateFunc(pricing.FlatRate)
	if len(seasons) > 0 {
		rate = pricing.SeasonalRates(seasons)
	}
	return Engine{
		Repo:     r,
		Rooms:    inventory.New(r),
		Index:    availability.NewIndex(),
		Locks:    lock.NewMemoryLocker(),
		Pricing:  pricing.New(rate),
		Config:   cfg,
		Log:      logrus.StandardLogger(),
		Now:      time.Now,
		Location: loc,
		validate: validator.New(),
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Today is the current calendar date in the hotel's time zone.
func (e Engine) Today() time.Time {
	return domain.Day(e.now(), e.Location)
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e Engine) lockTimeout() time.Duration {
	if e.Config != nil && e.Config.Engine.LockTimeout > 0 {
		return e.Config.Engine.LockTimeout
	}
	return defaultLockTimeout
}

func (e Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := defaultOperationTimeout
	if e.Config != nil && e.Config.Engine.OperationTimeout > 0 {
		d = e.Config.Engine.OperationTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (e Engine) createAttempts() int {
	if e.Config != nil {
		return 1 + e.Config.Engine.CreateRetries
	}
	return 2
}

// lockRoom takes the per-room lock, turning a wait timeout into RoomBusyError.
func (e Engine) lockRoom(ctx context.Context, roomID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lctx, cancel := context.WithTimeout(ctx, e.lockTimeout())
	defer cancel()
	unlock, err := e.Locks.Lock(lctx, roomID)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) && ctx.Err() == nil {
			return nil, domain.RoomBusyError{RoomID: roomID}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return unlock, nil
}

// CreateRequest is the input of Create. Dates are calendar dates.
type CreateRequest struct {
	RoomID     string `validate:"required,max=64"`
	GuestID    string `validate:"required,max=128"`
	GuestName  string `validate:"max=200"`
	CheckIn    time.Time
	CheckOut   time.Time
	GuestCount int
	Notes      string `validate:"max=2000"`
}

func (e Engine) checkRequest(req CreateRequest) error {
	v := e.validate
	if v == nil {
		v = validator.New()
	}
	if err := v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.ValidationError{Field: snake(verrs[0].Field()), Reason: fmt.Sprintf("failed %s", verrs[0].Tag())}
		}
		return domain.ValidationError{Reason: err.Error()}
	}
	if req.GuestCount <= 0 {
		return domain.ValidationError{Field: "guest_count", Reason: "must be positive"}
	}
	return nil
}

// Create books a room for a date range. On success the reservation is pending,
// persisted and present in the availability index.
func (e Engine) Create(ctx context.Context, req CreateRequest) (domain.Reservation, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.checkRequest(req); err != nil {
		return domain.Reservation{}, err
	}
	rng, err := domain.NewDateRange(req.CheckIn, req.CheckOut)
	if err != nil {
		return domain.Reservation{}, err
	}
	today := e.Today()
	if rng.CheckIn.Before(today) {
		return domain.Reservation{}, domain.ValidationError{
			Field:  "check_in",
			Reason: fmt.Sprintf("%s is before today (%s)", domain.FormatDate(rng.CheckIn), domain.FormatDate(today)),
		}
	}
	room, err := e.Rooms.Get(ctx, req.RoomID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !room.Active {
		return domain.Reservation{}, domain.RoomInactiveError{RoomID: room.ID}
	}
	if req.GuestCount > room.Capacity {
		return domain.Reservation{}, domain.CapacityExceededError{RoomID: room.ID, Capacity: room.Capacity, Requested: req.GuestCount}
	}
	price, err := e.Pricing.Price(room, rng, req.GuestCount)
	if err != nil {
		return domain.Reservation{}, err
	}

	now := domain.FormatTimestamp(e.now())
	res := domain.Reservation{
		ID:         uuid.NewString(),
		RoomID:     room.ID,
		GuestID:    req.GuestID,
		GuestName:  strings.TrimSpace(req.GuestName),
		Range:      rng,
		GuestCount: req.GuestCount,
		TotalPrice: price,
		Status:     lifecycle.Initial,
		Notes:      req.Notes,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	logger := e.log().WithFields(logrus.Fields{"room_id": res.RoomID, "range": rng.String(), "guest_id": res.GuestID})

	attempts := e.createAttempts()
	for attempt := 1; ; attempt++ {
		err = e.insertLocked(ctx, res)
		if err == nil {
			logger.WithFields(logrus.Fields{"reservation_id": res.ID, "total": res.TotalPrice.String()}).Info("reservation created")
			return res, nil
		}
		var busy domain.RoomBusyError
		if !errors.As(err, &busy) || attempt >= attempts || ctx.Err() != nil {
			break
		}
		logger.WithField("attempt", attempt).Warn("room busy, retrying create")
	}
	if domain.KindOf(err) == domain.KindInternal {
		logger.WithError(err).Error("reservation create failed")
	} else {
		logger.WithError(err).Info("reservation rejected")
	}
	return domain.Reservation{}, err
}

// insertLocked runs the check-then-insert critical section under the room lock.
func (e Engine) insertLocked(ctx context.Context, res domain.Reservation) error {
	unlock, err := e.lockRoom(ctx, res.RoomID)
	if err != nil {
		return err
	}
	defer unlock()

	if conflicts := e.Index.Overlapping(res.RoomID, res.Range); len(conflicts) > 0 {
		// the index may hold entries another process already released
		ids, err := e.Repo.OverlappingIDs(ctx, res.RoomID, res.Range)
		if err != nil {
			return e.storageErr(ctx, res.RoomID, err)
		}
		if len(ids) > 0 {
			return domain.RoomUnavailableError{RoomID: res.RoomID, Range: res.Range, Conflicts: ids}
		}
		n, err := e.rebuildRoomLocked(ctx, res.RoomID)
		if err != nil {
			return e.storageErr(ctx, res.RoomID, err)
		}
		e.log().WithFields(logrus.Fields{"room_id": res.RoomID, "stale": entryIDs(conflicts), "entries": n}).Warn("availability index held released reservations, rebuilt room")
	}
	err = e.Repo.InsertIfAvailable(ctx, res)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrOverlap):
		// storage knows a reservation the index does not; resync this room
		var overlap repo.OverlapError
		errors.As(err, &overlap)
		if n, rerr := e.rebuildRoomLocked(ctx, res.RoomID); rerr != nil {
			e.log().WithError(rerr).WithField("room_id", res.RoomID).Warn("index rebuild after storage overlap failed")
		} else {
			e.log().WithFields(logrus.Fields{"room_id": res.RoomID, "entries": n}).Warn("availability index was stale, rebuilt room")
		}
		return domain.RoomUnavailableError{RoomID: res.RoomID, Range: res.Range, Conflicts: overlap.Conflicts}
	case errors.Is(err, repo.ErrBusy):
		return domain.RoomBusyError{RoomID: res.RoomID}
	default:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	e.Index.Occupy(res.RoomID, res.ID, res.Range)
	return nil
}

func (e Engine) storageErr(ctx context.Context, roomID string, err error) error {
	switch {
	case errors.Is(err, repo.ErrBusy):
		return domain.RoomBusyError{RoomID: roomID}
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return fmt.Errorf("read occupying reservations: %w", err)
}

// TransitionRequest asks for a status change. ExpectedVersion 0 skips the
// caller-side version check; the write is still conditional on the loaded version.
type TransitionRequest struct {
	ID              string
	Status          string
	ExpectedVersion int
}

// Transition applies a lifecycle move. Moves that release the room's range run
// under the room lock, so neither a create nor a rebuild can observe the row
// released but the index still occupied.
func (e Engine) Transition(ctx context.Context, req TransitionRequest) (domain.Reservation, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	to, err := domain.ParseStatus(req.Status)
	if err != nil {
		return domain.Reservation{}, err
	}
	res, err := e.Get(ctx, req.ID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if req.ExpectedVersion > 0 && req.ExpectedVersion != res.Version {
		return domain.Reservation{}, domain.VersionConflictError{ID: res.ID, Expected: req.ExpectedVersion}
	}
	if err := lifecycle.Check(res, to, e.Today()); err != nil {
		return domain.Reservation{}, err
	}
	if lifecycle.ReleasesRoom(to) {
		unlock, err := e.lockRoom(ctx, res.RoomID)
		if err != nil {
			return domain.Reservation{}, err
		}
		defer unlock()
	}
	updated, err := e.Repo.UpdateStatus(ctx, res.ID, to, res.Version, domain.FormatTimestamp(e.now()))
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return domain.Reservation{}, domain.ReservationNotFoundError{ID: res.ID}
		case errors.Is(err, repo.ErrVersionConflict):
			return domain.Reservation{}, domain.VersionConflictError{ID: res.ID, Expected: res.Version}
		case errors.Is(err, repo.ErrBusy):
			return domain.Reservation{}, domain.RoomBusyError{RoomID: res.RoomID}
		}
		return domain.Reservation{}, fmt.Errorf("update reservation status: %w", err)
	}
	if lifecycle.ReleasesRoom(to) {
		e.Index.Release(res.RoomID, res.ID)
	}
	e.log().WithFields(logrus.Fields{
		"reservation_id": res.ID,
		"room_id":        res.RoomID,
		"from":           res.Status,
		"to":             to,
		"version":        updated.Version,
	}).Info("reservation status changed")
	return updated, nil
}

func (e Engine) Confirm(ctx context.Context, id string) (domain.Reservation, error) {
	return e.Transition(ctx, TransitionRequest{ID: id, Status: string(domain.StatusConfirmed)})
}

func (e Engine) Cancel(ctx context.Context, id string) (domain.Reservation, error) {
	return e.Transition(ctx, TransitionRequest{ID: id, Status: string(domain.StatusCancelled)})
}

func (e Engine) Complete(ctx context.Context, id string) (domain.Reservation, error) {
	return e.Transition(ctx, TransitionRequest{ID: id, Status: string(domain.StatusCompleted)})
}

// Get loads one reservation.
func (e Engine) Get(ctx context.Context, id string) (domain.Reservation, error) {
	res, err := e.Repo.FindReservation(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Reservation{}, domain.ReservationNotFoundError{ID: id}
	}
	return res, err
}

// ListForRoom returns the room's reservations in every status, ordered by check-in.
// A nil window lists the whole history.
func (e Engine) ListForRoom(ctx context.Context, roomID string, window *domain.DateRange) ([]domain.Reservation, error) {
	if _, err := e.Rooms.Get(ctx, roomID); err != nil {
		return nil, err
	}
	return e.Repo.QueryByRoomAndWindow(ctx, roomID, window)
}

// Search runs an admin query over all reservations.
func (e Engine) Search(ctx context.Context, f repo.ReservationFilters) ([]domain.Reservation, error) {
	if f.Limit < 0 {
		return nil, domain.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	return e.Repo.QueryByFilter(ctx, f)
}

// Availability is the answer to an availability query.
type Availability struct {
	RoomID    string
	Range     domain.DateRange
	Available bool
	Conflicts []string
}

// IsAvailable never blocks on room locks. A free answer comes from the index
// unless ReadThrough is set; conflicts are always confirmed against storage.
func (e Engine) IsAvailable(ctx context.Context, roomID string, rng domain.DateRange) (Availability, error) {
	if _, err := e.Rooms.Get(ctx, roomID); err != nil {
		return Availability{}, err
	}
	conflicts := entryIDs(e.Index.Overlapping(roomID, rng))
	if e.ReadThrough || len(conflicts) > 0 {
		ids, err := e.Repo.OverlappingIDs(ctx, roomID, rng)
		if err != nil {
			return Availability{}, e.storageErr(ctx, roomID, err)
		}
		conflicts = ids
	}
	return Availability{RoomID: roomID, Range: rng, Available: len(conflicts) == 0, Conflicts: conflicts}, nil
}

// FreeRanges lists the bookable gaps of a room inside window, with the same
// storage confirmation as IsAvailable.
func (e Engine) FreeRanges(ctx context.Context, roomID string, window domain.DateRange) ([]domain.DateRange, error) {
	if _, err := e.Rooms.Get(ctx, roomID); err != nil {
		return nil, err
	}
	if !e.ReadThrough && len(e.Index.Overlapping(roomID, window)) == 0 {
		return e.Index.FreeRanges(roomID, window), nil
	}
	rows, err := e.Repo.QueryByRoomAndWindow(ctx, roomID, &window, domain.StatusPending, domain.StatusConfirmed)
	if err != nil {
		return nil, e.storageErr(ctx, roomID, err)
	}
	entries := make([]availability.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, availability.Entry{ReservationID: r.ID, Range: r.Range})
	}
	scratch := availability.NewIndex()
	scratch.Replace(roomID, entries)
	return scratch.FreeRanges(roomID, window), nil
}

// Quote prices a stay without booking it.
func (e Engine) Quote(ctx context.Context, roomID string, rng domain.DateRange, guestCount int) (decimal.Decimal, error) {
	room, err := e.Rooms.Get(ctx, roomID)
	if err != nil {
		return decimal.Zero, err
	}
	if !room.Active {
		return decimal.Zero, domain.RoomInactiveError{RoomID: roomID}
	}
	if guestCount > room.Capacity {
		return decimal.Zero, domain.CapacityExceededError{RoomID: roomID, Capacity: room.Capacity, Requested: guestCount}
	}
	return e.Pricing.Price(room, rng, guestCount)
}

// RebuildRoom reloads a room's occupying reservations from storage into the index.
func (e Engine) RebuildRoom(ctx context.Context, roomID string) (int, error) {
	unlock, err := e.lockRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return e.rebuildRoomLocked(ctx, roomID)
}

func (e Engine) rebuildRoomLocked(ctx context.Context, roomID string) (int, error) {
	rows, err := e.Repo.ListOccupying(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("load occupying reservations: %w", err)
	}
	entries := make([]availability.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, availability.Entry{ReservationID: r.ID, Range: r.Range})
	}
	e.Index.Replace(roomID, entries)
	return len(entries), nil
}

// RebuildAll resynchronizes every room, one room lock at a time.
func (e Engine) RebuildAll(ctx context.Context) (int, error) {
	rooms, err := e.Rooms.List(ctx, true)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, room := range rooms {
		n, err := e.RebuildRoom(ctx, room.ID)
		if err != nil {
			return total, fmt.Errorf("rebuild room %s: %w", room.ID, err)
		}
		total += n
	}
	e.log().WithFields(logrus.Fields{"rooms": len(rooms), "entries": total}).Info("availability index rebuilt")
	return total, nil
}

// Stats summarizes reservations for the dashboard.
type Stats struct {
	ByStatus       map[domain.Status]int
	IndexedEntries int
}

func (e Engine) Stats(ctx context.Context) (Stats, error) {
	counts, err := e.Repo.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{ByStatus: counts, IndexedEntries: e.Index.Len()}, nil
}

func entryIDs(entries []availability.Entry) []string {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	for i, en := range entries {
		ids[i] = en.ReservationID
	}
	return ids
}

func snake(field string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range field {
		if r >= 'A' && r <= 'Z' {
			if prevLower {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
			prevLower = false
		} else {
			prevLower = true
		}
		b.WriteRune(r)
	}
	return b.String()
}
