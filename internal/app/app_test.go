package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"innkeep/internal/config"
	"innkeep/internal/inventory"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestOpenRebuildsIndexFromStorage(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	rt, err := Open(ctx, Options{Workspace: dir, Log: quietLogger()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := rt.Engine.Rooms.Create(ctx, inventory.RoomInput{ID: "R1", Name: "One", NightlyRate: "100", Capacity: 2}); err != nil {
		t.Fatalf("room: %v", err)
	}
	if _, err := rt.Engine.Repo.DB.ExecContext(ctx, `INSERT INTO reservations(id,room_id,guest_id,check_in,check_out,guest_count,total_price,status,version,created_at,updated_at)
VALUES ('x','R1','g','2030-01-01','2030-01-03',1,'200','pending',1,'t','t')`); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}
	rt.Close()

	rt, err = Open(ctx, Options{Workspace: dir, Log: quietLogger()})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close()
	if rt.Engine.Index.Len() != 1 {
		t.Fatalf("expected index rebuilt with 1 entry, got %d", rt.Engine.Index.Len())
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "innkeep.yml"), []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(Options{Workspace: dir, Locker: "redis"}); err == nil {
		t.Fatalf("redis without address must fail validation")
	}
	cfg, err := LoadConfig(Options{Workspace: dir, Locker: "redis", RedisAddr: "localhost:6379"})
	if err != nil || cfg.Engine.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected config %+v %v", cfg.Engine, err)
	}
}
