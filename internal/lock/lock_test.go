package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLockerSerializesRoom(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), "r1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "r1"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	other, err := l.Lock(context.Background(), "r2")
	if err != nil {
		t.Fatalf("other room must not block: %v", err)
	}
	other()

	unlock()
	unlock()
	again, err := l.Lock(context.Background(), "r1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestMemoryLockerCancelled(t *testing.T) {
	l := NewMemoryLocker()
	unlock, _ := l.Lock(context.Background(), "r1")
	defer unlock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Lock(ctx, "r1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
