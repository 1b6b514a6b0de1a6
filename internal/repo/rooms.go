package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"innkeep/internal/db"
	"innkeep/internal/domain"
)

func (r Repo) roomColumns() string {
	if r.Dialect == db.Postgres {
		return `id,name,nightly_rate::text,capacity,active,created_at,updated_at`
	}
	return `id,name,nightly_rate,capacity,active,created_at,updated_at`
}

func scanRoom(row rowScanner) (domain.Room, error) {
	var room domain.Room
	var rate string
	if err := row.Scan(&room.ID, &room.Name, &rate, &room.Capacity, &room.Active, &room.CreatedAt, &room.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Room{}, ErrNotFound
		}
		return domain.Room{}, err
	}
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return domain.Room{}, fmt.Errorf("room %s nightly_rate %q: %w", room.ID, rate, err)
	}
	room.NightlyRate = d
	return room, nil
}

func (r Repo) InsertRoom(ctx context.Context, room domain.Room) error {
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO rooms(id,name,nightly_rate,capacity,active,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`),
		room.ID, room.Name, room.NightlyRate.String(), room.Capacity, room.Active, room.CreatedAt, room.UpdatedAt)
	return classify(err)
}

func (r Repo) UpdateRoom(ctx context.Context, room domain.Room) error {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE rooms SET name=?, nightly_rate=?, capacity=?, active=?, updated_at=? WHERE id=?`),
		room.Name, room.NightlyRate.String(), room.Capacity, room.Active, room.UpdatedAt, room.ID)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRoom(ctx context.Context, id string) (domain.Room, error) {
	return scanRoom(r.DB.QueryRowContext(ctx, r.q(`SELECT `+r.roomColumns()+` FROM rooms WHERE id=?`), id))
}

// ListRooms returns rooms ordered by id; inactive rooms only when asked.
func (r Repo) ListRooms(ctx context.Context, includeInactive bool) ([]domain.Room, error) {
	query := `SELECT ` + r.roomColumns() + ` FROM rooms`
	var args []any
	if !includeInactive {
		query += ` WHERE active=?`
		args = append(args, true)
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, room)
	}
	return res, classify(rows.Err())
}
