package migrate

import (
	"testing"

	"innkeep/internal/db"
)

func TestMigrateSQLiteIsIdempotent(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(conn, dialect); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := Version(conn)
	if err != nil || v != 1 {
		t.Fatalf("expected version 1, got %d %v", v, err)
	}
}

func TestMigrationsExistForBothDialects(t *testing.T) {
	for _, d := range []db.Dialect{db.SQLite, db.Postgres} {
		ms, err := loadMigrations(d)
		if err != nil || len(ms) == 0 {
			t.Fatalf("%s: expected migrations, got %d %v", d, len(ms), err)
		}
	}
}

func TestSQLiteOverlapTrigger(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	mustExec := func(q string, args ...any) {
		t.Helper()
		if _, err := conn.Exec(q, args...); err != nil {
			t.Fatalf("exec %s: %v", q, err)
		}
	}
	mustExec(`INSERT INTO rooms(id,name,nightly_rate,capacity,active,created_at,updated_at) VALUES ('r1','One','100',2,1,'x','x')`)
	insert := `INSERT INTO reservations(id,room_id,guest_id,check_in,check_out,guest_count,total_price,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,'x','x')`
	mustExec(insert, "a", "r1", "g", "2024-06-01", "2024-06-05", 1, "400", "pending")
	if _, err := conn.Exec(insert, "b", "r1", "g", "2024-06-04", "2024-06-06", 1, "200", "confirmed"); err == nil {
		t.Fatalf("expected overlap rejection")
	}
	mustExec(insert, "c", "r1", "g", "2024-06-05", "2024-06-06", 1, "100", "pending")
	mustExec(insert, "d", "r1", "g", "2024-06-02", "2024-06-03", 1, "100", "cancelled")
}
