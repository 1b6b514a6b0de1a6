package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"innkeep/internal/db"
	"innkeep/internal/domain"
)

var occupyingStatuses = []any{string(domain.StatusPending), string(domain.StatusConfirmed)}

func (r Repo) reservationColumns() string {
	if r.Dialect == db.Postgres {
		return `id,room_id,guest_id,COALESCE(guest_name,''),check_in::text,check_out::text,guest_count,total_price::text,status,COALESCE(notes,''),version,created_at,updated_at`
	}
	return `id,room_id,guest_id,COALESCE(guest_name,''),check_in,check_out,guest_count,total_price,status,COALESCE(notes,''),version,created_at,updated_at`
}

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var res domain.Reservation
	var checkIn, checkOut, price, status string
	err := row.Scan(&res.ID, &res.RoomID, &res.GuestID, &res.GuestName, &checkIn, &checkOut, &res.GuestCount,
		&price, &status, &res.Notes, &res.Version, &res.CreatedAt, &res.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Reservation{}, ErrNotFound
	}
	if err != nil {
		return domain.Reservation{}, err
	}
	if res.Range, err = domain.ParseDateRange(checkIn, checkOut); err != nil {
		return domain.Reservation{}, fmt.Errorf("reservation %s range: %w", res.ID, err)
	}
	if res.TotalPrice, err = decimal.NewFromString(price); err != nil {
		return domain.Reservation{}, fmt.Errorf("reservation %s total_price %q: %w", res.ID, price, err)
	}
	if res.Status, err = domain.ParseStatus(status); err != nil {
		return domain.Reservation{}, fmt.Errorf("reservation %s: %w", res.ID, err)
	}
	return res, nil
}

func scanReservations(rows *sql.Rows) ([]domain.Reservation, error) {
	defer rows.Close()
	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r Repo) overlappingIDs(ctx context.Context, q querier, roomID string, rng domain.DateRange) ([]string, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT id FROM reservations
WHERE room_id=? AND status IN (?,?) AND check_in < ? AND ? < check_out
ORDER BY check_in, id`),
		roomID, occupyingStatuses[0], occupyingStatuses[1], domain.FormatDate(rng.CheckOut), domain.FormatDate(rng.CheckIn))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, classify(rows.Err())
}

// OverlappingIDs lists the pending and confirmed reservations of roomID that
// intersect rng, as storage sees them now.
func (r Repo) OverlappingIDs(ctx context.Context, roomID string, rng domain.DateRange) ([]string, error) {
	return r.overlappingIDs(ctx, r.DB, roomID, rng)
}

// InsertIfAvailable writes res in one transaction, refusing it when an occupying
// reservation on the same room overlaps. The schema enforces the same rule, so a
// concurrent writer that slips past the read is still rejected with OverlapError.
func (r Repo) InsertIfAvailable(ctx context.Context, res domain.Reservation) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if res.Status.Occupies() {
		ids, err := r.overlappingIDs(ctx, tx, res.RoomID, res.Range)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			return OverlapError{Conflicts: ids}
		}
	}
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO reservations(id,room_id,guest_id,guest_name,check_in,check_out,guest_count,total_price,status,notes,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		res.ID, res.RoomID, res.GuestID, nullable(res.GuestName), domain.FormatDate(res.Range.CheckIn), domain.FormatDate(res.Range.CheckOut),
		res.GuestCount, res.TotalPrice.String(), string(res.Status), nullable(res.Notes), res.Version, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

// UpdateStatus moves a reservation to status when its stored version still equals
// expectedVersion, bumping the version. It returns the row as written.
func (r Repo) UpdateStatus(ctx context.Context, id string, status domain.Status, expectedVersion int, now string) (domain.Reservation, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reservation{}, classify(err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, r.q(`UPDATE reservations SET status=?, version=version+1, updated_at=? WHERE id=? AND version=?`),
		string(status), now, id, expectedVersion)
	if err != nil {
		return domain.Reservation{}, classify(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := r.findReservation(ctx, tx, id); err != nil {
			return domain.Reservation{}, err
		}
		return domain.Reservation{}, ErrVersionConflict
	}
	updated, err := r.findReservation(ctx, tx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reservation{}, classify(err)
	}
	return updated, nil
}

func (r Repo) findReservation(ctx context.Context, q querier, id string) (domain.Reservation, error) {
	return scanReservation(q.QueryRowContext(ctx, r.q(`SELECT `+r.reservationColumns()+` FROM reservations WHERE id=?`), id))
}

func (r Repo) FindReservation(ctx context.Context, id string) (domain.Reservation, error) {
	return r.findReservation(ctx, r.DB, id)
}

// QueryByRoomAndWindow lists a room's reservations ordered by check-in.
// A nil window returns everything; statuses narrows the result when non-empty.
func (r Repo) QueryByRoomAndWindow(ctx context.Context, roomID string, window *domain.DateRange, statuses ...domain.Status) ([]domain.Reservation, error) {
	clauses := []string{"room_id=?"}
	args := []any{roomID}
	if window != nil {
		clauses = append(clauses, "check_in < ?", "? < check_out")
		args = append(args, domain.FormatDate(window.CheckOut), domain.FormatDate(window.CheckIn))
	}
	if len(statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(statuses))+")")
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	query := `SELECT ` + r.reservationColumns() + ` FROM reservations WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY check_in, id`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	return scanReservations(rows)
}

// ListOccupying returns the pending and confirmed reservations of one room, or of
// every room when roomID is empty.
func (r Repo) ListOccupying(ctx context.Context, roomID string) ([]domain.Reservation, error) {
	clauses := []string{"status IN (?,?)"}
	args := append([]any{}, occupyingStatuses...)
	if roomID != "" {
		clauses = append(clauses, "room_id=?")
		args = append(args, roomID)
	}
	query := `SELECT ` + r.reservationColumns() + ` FROM reservations WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY room_id, check_in, id`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	return scanReservations(rows)
}

type ReservationFilters struct {
	Statuses []domain.Status
	RoomID   string
	GuestID  string
	// Window keeps reservations whose stay overlaps it.
	Window          *domain.DateRange
	Query           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// QueryByFilter backs the admin dashboard: newest first, keyset paginated.
func (r Repo) QueryByFilter(ctx context.Context, f ReservationFilters) ([]domain.Reservation, error) {
	var clauses []string
	var args []any
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.RoomID != "" {
		clauses = append(clauses, "room_id=?")
		args = append(args, f.RoomID)
	}
	if f.GuestID != "" {
		clauses = append(clauses, "guest_id=?")
		args = append(args, f.GuestID)
	}
	if f.Window != nil {
		clauses = append(clauses, "check_in < ?", "? < check_out")
		args = append(args, domain.FormatDate(f.Window.CheckOut), domain.FormatDate(f.Window.CheckIn))
	}
	if strings.TrimSpace(f.Query) != "" {
		pattern := likePattern(f.Query)
		clauses = append(clauses, `(LOWER(COALESCE(guest_name,'')) LIKE ? ESCAPE '\' OR LOWER(COALESCE(notes,'')) LIKE ? ESCAPE '\' OR LOWER(id) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + r.reservationColumns() + ` FROM reservations ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	return scanReservations(rows)
}

// CountByStatus feeds the dashboard summary.
func (r Repo) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM reservations GROUP BY status`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := map[domain.Status]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[domain.Status(s)] = n
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
