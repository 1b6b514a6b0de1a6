package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"innkeep/internal/db"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

func New(conn *sql.DB, dialect db.Dialect) Repo {
	return Repo{DB: conn, Dialect: dialect}
}

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("already exists")
	ErrOverlap         = errors.New("reservation overlaps an occupying reservation")
	ErrVersionConflict = errors.New("version conflict")
	ErrBusy            = errors.New("storage busy")
)

// OverlapError carries the ids that blocked an insert when they are known.
// It matches ErrOverlap under errors.Is.
type OverlapError struct {
	Conflicts []string
}

func (e OverlapError) Error() string {
	if len(e.Conflicts) == 0 {
		return ErrOverlap.Error()
	}
	return fmt.Sprintf("%s: %s", ErrOverlap, strings.Join(e.Conflicts, ","))
}

func (e OverlapError) Is(target error) bool { return target == ErrOverlap }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

// classify maps driver errors onto the package sentinels, keeping the original text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch {
		case strings.Contains(se.Error(), "reservation_overlap"):
			return OverlapError{}
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrBusy, err)
		case code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE constraint failed"):
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return err
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23P01":
			return OverlapError{}
		case "23505":
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// likePattern builds a case-insensitive substring pattern for LIKE ... ESCAPE '\'.
func likePattern(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}
