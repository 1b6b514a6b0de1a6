// Package lock provides per-room mutual exclusion for reservation writes.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrTimeout is returned when the lock could not be taken before the context ended.
var ErrTimeout = errors.New("room lock wait timed out")

// RoomLocker serializes writers per room. Different rooms never block each other.
type RoomLocker interface {
	// Lock blocks until the room is held or ctx is done; the returned func releases it.
	Lock(ctx context.Context, roomID string) (func(), error)
}

// MemoryLocker is a process-local RoomLocker.
type MemoryLocker struct {
	mu    sync.Mutex
	rooms map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{rooms: map[string]chan struct{}{}}
}

func (l *MemoryLocker) slot(roomID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.rooms[roomID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.rooms[roomID] = ch
	}
	return ch
}

func (l *MemoryLocker) Lock(ctx context.Context, roomID string) (func(), error) {
	ch := l.slot(roomID)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, timeoutErr(ctx)
	}
}

func timeoutErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
