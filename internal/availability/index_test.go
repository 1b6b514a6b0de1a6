package availability

import (
	"fmt"
	"sync"
	"testing"

	"innkeep/internal/domain"
)

func TestIndexOverlapAndAdjacency(t *testing.T) {
	ix := NewIndex()
	ix.Occupy("r1", "a", domain.MustRange("2024-06-10", "2024-06-13"))

	if ix.IsAvailable("r1", domain.MustRange("2024-06-12", "2024-06-14")) {
		t.Fatalf("expected overlap on 06-12")
	}
	if !ix.IsAvailable("r1", domain.MustRange("2024-06-13", "2024-06-15")) {
		t.Fatalf("check-in on previous check-out must be available")
	}
	if !ix.IsAvailable("r1", domain.MustRange("2024-06-08", "2024-06-10")) {
		t.Fatalf("check-out on existing check-in must be available")
	}
	if !ix.IsAvailable("r2", domain.MustRange("2024-06-10", "2024-06-13")) {
		t.Fatalf("other rooms are independent")
	}
}

func TestIndexLongStayFoundFromLaterQuery(t *testing.T) {
	ix := NewIndex()
	ix.Occupy("r1", "long", domain.MustRange("2024-01-01", "2024-03-01"))
	ix.Occupy("r1", "short", domain.MustRange("2024-02-10", "2024-02-11"))

	got := ix.Overlapping("r1", domain.MustRange("2024-02-20", "2024-02-22"))
	if len(got) != 1 || got[0].ReservationID != "long" {
		t.Fatalf("expected long stay conflict, got %+v", got)
	}
	got = ix.Overlapping("r1", domain.MustRange("2024-02-01", "2024-02-15"))
	if len(got) != 2 || got[0].ReservationID != "long" || got[1].ReservationID != "short" {
		t.Fatalf("expected both ordered by check-in, got %+v", got)
	}
}

func TestIndexOccupyIdempotent(t *testing.T) {
	ix := NewIndex()
	rng := domain.MustRange("2024-06-01", "2024-06-05")
	ix.Occupy("r1", "a", rng)
	ix.Occupy("r1", "a", rng)
	if n := len(ix.Entries("r1")); n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}
	ix.Release("r1", "a")
	if !ix.IsAvailable("r1", rng) {
		t.Fatalf("expected range free after release")
	}
	ix.Release("r1", "missing")
	if ix.Len() != 0 {
		t.Fatalf("expected empty index")
	}
}

func TestIndexFreeRanges(t *testing.T) {
	ix := NewIndex()
	ix.Occupy("r1", "a", domain.MustRange("2024-05-28", "2024-06-03"))
	ix.Occupy("r1", "b", domain.MustRange("2024-06-05", "2024-06-07"))
	ix.Occupy("r1", "c", domain.MustRange("2024-06-07", "2024-06-09"))

	free := ix.FreeRanges("r1", domain.MustRange("2024-06-01", "2024-06-12"))
	want := []string{"[2024-06-03, 2024-06-05)", "[2024-06-09, 2024-06-12)"}
	if len(free) != len(want) {
		t.Fatalf("expected %v, got %v", want, free)
	}
	for i := range want {
		if free[i].String() != want[i] {
			t.Fatalf("expected %v, got %v", want, free)
		}
	}
}

func TestIndexReplace(t *testing.T) {
	ix := NewIndex()
	ix.Occupy("r1", "stale", domain.MustRange("2024-06-01", "2024-06-05"))
	ix.Replace("r1", []Entry{{ReservationID: "fresh", Range: domain.MustRange("2024-07-01", "2024-07-02")}})
	if !ix.IsAvailable("r1", domain.MustRange("2024-06-01", "2024-06-05")) {
		t.Fatalf("stale entry survived replace")
	}
	if ix.IsAvailable("r1", domain.MustRange("2024-07-01", "2024-07-02")) {
		t.Fatalf("fresh entry missing")
	}
}

func TestIndexConcurrentAccess(t *testing.T) {
	ix := NewIndex()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := fmt.Sprintf("r%d", i%5)
			ix.Occupy(room, fmt.Sprintf("res-%d", i), domain.MustRange("2024-06-01", "2024-06-02"))
			_ = ix.IsAvailable(room, domain.MustRange("2024-06-01", "2024-06-02"))
		}(i)
	}
	wg.Wait()
	if ix.Len() != 50 {
		t.Fatalf("expected 50 entries, got %d", ix.Len())
	}
}
