// Package availability keeps the in-memory projection of occupied date ranges per room.
package availability

import (
	"sort"
	"sync"
	"time"

	"innkeep/internal/domain"
)

// Entry is one occupying reservation.
type Entry struct {
	ReservationID string
	Range         domain.DateRange
}

type roomIntervals struct {
	// sorted by CheckIn, ties by ReservationID
	entries []Entry
	// longest stay ever indexed for the room; bounds the backward scan
	maxSpan time.Duration
}

// Index answers overlap queries in O(log n + k) per room.
// It is a rebuildable projection: storage stays authoritative.
type Index struct {
	mu    sync.RWMutex
	rooms map[string]*roomIntervals
	byID  map[string]string
}

func NewIndex() *Index {
	return &Index{
		rooms: map[string]*roomIntervals{},
		byID:  map[string]string{},
	}
}

// IsAvailable reports whether no occupying entry overlaps rng.
func (ix *Index) IsAvailable(roomID string, rng domain.DateRange) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	found := false
	ix.scan(roomID, rng, func(Entry) bool {
		found = true
		return false
	})
	return !found
}

// Overlapping returns the entries that overlap rng, ordered by check-in.
func (ix *Index) Overlapping(roomID string, rng domain.DateRange) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []Entry
	ix.scan(roomID, rng, func(e Entry) bool {
		out = append(out, e)
		return true
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// scan visits overlapping entries from the latest check-in backwards.
// Entries starting at or after rng.CheckOut cannot overlap; entries starting more than
// maxSpan before rng.CheckIn cannot reach it either.
func (ix *Index) scan(roomID string, rng domain.DateRange, visit func(Entry) bool) {
	ri := ix.rooms[roomID]
	if ri == nil {
		return
	}
	hi := sort.Search(len(ri.entries), func(i int) bool {
		return !ri.entries[i].Range.CheckIn.Before(rng.CheckOut)
	})
	floor := rng.CheckIn.Add(-ri.maxSpan)
	for i := hi - 1; i >= 0; i-- {
		e := ri.entries[i]
		if e.Range.CheckIn.Before(floor) {
			return
		}
		if e.Range.Overlaps(rng) && !visit(e) {
			return
		}
	}
}

// Occupy records a reservation. Re-occupying the same id is a no-op
// unless the range changed, in which case the entry is moved.
func (ix *Index) Occupy(roomID, reservationID string, rng domain.DateRange) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if prevRoom, ok := ix.byID[reservationID]; ok {
		if prevRoom == roomID {
			if e, ok := ix.rooms[roomID].find(reservationID); ok && e.Range == rng {
				return
			}
		}
		ix.removeLocked(prevRoom, reservationID)
	}
	ri := ix.rooms[roomID]
	if ri == nil {
		ri = &roomIntervals{}
		ix.rooms[roomID] = ri
	}
	ri.insert(Entry{ReservationID: reservationID, Range: rng})
	ix.byID[reservationID] = roomID
}

// Release drops a reservation; unknown ids are ignored.
func (ix *Index) Release(roomID, reservationID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if owner, ok := ix.byID[reservationID]; ok {
		roomID = owner
	}
	ix.removeLocked(roomID, reservationID)
}

func (ix *Index) removeLocked(roomID, reservationID string) {
	delete(ix.byID, reservationID)
	ri := ix.rooms[roomID]
	if ri == nil {
		return
	}
	for i, e := range ri.entries {
		if e.ReservationID == reservationID {
			ri.entries = append(ri.entries[:i], ri.entries[i+1:]...)
			return
		}
	}
}

// Replace swaps the room's entries for a freshly loaded set.
func (ix *Index) Replace(roomID string, entries []Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if old := ix.rooms[roomID]; old != nil {
		for _, e := range old.entries {
			delete(ix.byID, e.ReservationID)
		}
	}
	ri := &roomIntervals{}
	for _, e := range entries {
		if prev, ok := ix.byID[e.ReservationID]; ok {
			if prev == roomID {
				continue
			}
			ix.removeLocked(prev, e.ReservationID)
		}
		ri.insert(e)
		ix.byID[e.ReservationID] = roomID
	}
	ix.rooms[roomID] = ri
}

// Reset empties the index.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.rooms = map[string]*roomIntervals{}
	ix.byID = map[string]string{}
}

// Entries returns a copy of the room's entries ordered by check-in.
func (ix *Index) Entries(roomID string) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ri := ix.rooms[roomID]
	if ri == nil {
		return nil
	}
	out := make([]Entry, len(ri.entries))
	copy(out, ri.entries)
	return out
}

// Len counts indexed reservations across all rooms.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// FreeRanges returns the maximal sub-ranges of window not covered by any entry.
func (ix *Index) FreeRanges(roomID string, window domain.DateRange) []domain.DateRange {
	busy := ix.Overlapping(roomID, window)
	var free []domain.DateRange
	cursor := window.CheckIn
	for _, e := range busy {
		if e.Range.CheckIn.After(cursor) {
			free = append(free, domain.DateRange{CheckIn: cursor, CheckOut: e.Range.CheckIn})
		}
		if e.Range.CheckOut.After(cursor) {
			cursor = e.Range.CheckOut
		}
	}
	if cursor.Before(window.CheckOut) {
		free = append(free, domain.DateRange{CheckIn: cursor, CheckOut: window.CheckOut})
	}
	return free
}

func (ri *roomIntervals) insert(e Entry) {
	i := sort.Search(len(ri.entries), func(i int) bool {
		cur := ri.entries[i]
		if cur.Range.CheckIn.Equal(e.Range.CheckIn) {
			return cur.ReservationID >= e.ReservationID
		}
		return cur.Range.CheckIn.After(e.Range.CheckIn)
	})
	ri.entries = append(ri.entries, Entry{})
	copy(ri.entries[i+1:], ri.entries[i:])
	ri.entries[i] = e
	if span := e.Range.CheckOut.Sub(e.Range.CheckIn); span > ri.maxSpan {
		ri.maxSpan = span
	}
}

func (ri *roomIntervals) find(reservationID string) (Entry, bool) {
	if ri == nil {
		return Entry{}, false
	}
	for _, e := range ri.entries {
		if e.ReservationID == reservationID {
			return e, true
		}
	}
	return Entry{}, false
}
