package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"innkeep/internal/db"
	"innkeep/internal/domain"
	"innkeep/internal/migrate"
	"innkeep/internal/repo"
)

func newTestInventory(t *testing.T) *Inventory {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	inv := New(repo.New(conn, dialect))
	inv.Now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	return inv
}

func TestCreateAndGet(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	room, err := inv.Create(ctx, RoomInput{ID: "sea-1", Name: "Sea view", NightlyRate: "2000", Capacity: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !room.Active || !room.NightlyRate.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("unexpected room %+v", room)
	}
	got, err := inv.Get(ctx, "sea-1")
	if err != nil || got.Name != "Sea view" {
		t.Fatalf("get: %+v %v", got, err)
	}
	var notFound domain.RoomNotFoundError
	if _, err := inv.Get(ctx, "none"); !errors.As(err, &notFound) {
		t.Fatalf("expected RoomNotFoundError, got %v", err)
	}
	if _, err := inv.Create(ctx, RoomInput{ID: "sea-1", Name: "Dup", NightlyRate: "1", Capacity: 1}); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for duplicate, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	inv := newTestInventory(t)
	cases := []RoomInput{
		{ID: "", Name: "x", NightlyRate: "10", Capacity: 1},
		{ID: "a b", Name: "x", NightlyRate: "10", Capacity: 1},
		{ID: "a", Name: "x", NightlyRate: "ten", Capacity: 1},
		{ID: "a", Name: "x", NightlyRate: "0", Capacity: 1},
		{ID: "a", Name: "x", NightlyRate: "10", Capacity: 0},
	}
	for i, c := range cases {
		if _, err := inv.Create(context.Background(), c); domain.KindOf(err) != domain.KindValidation {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestDeactivateKeepsRoom(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	if _, err := inv.Create(ctx, RoomInput{ID: "r1", Name: "One", NightlyRate: "100", Capacity: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	room, err := inv.Deactivate(ctx, "r1")
	if err != nil || room.Active {
		t.Fatalf("deactivate: %+v %v", room, err)
	}
	capacity := 3
	room, err = inv.Update(ctx, "r1", RoomPatch{Capacity: &capacity})
	if err != nil || room.Capacity != 3 || room.Active {
		t.Fatalf("update: %+v %v", room, err)
	}
}
