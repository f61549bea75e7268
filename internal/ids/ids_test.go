package ids_test

import (
	"sync"
	"testing"
	"time"

	"github.com/snehjoshi/remindq/internal/ids"
)

func TestNew_ReturnsValidULID(t *testing.T) {
	id, err := ids.New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if len(id) != 26 {
		t.Errorf("ULID should be 26 chars, got %d: %s", len(id), id)
	}
	if !ids.Valid(id) {
		t.Errorf("Valid(%q) = false", id)
	}
}

func TestNew_MonotonicWithinSameMillisecond(t *testing.T) {
	at := time.Now()
	prev, err := ids.NewAt(at)
	if err != nil {
		t.Fatalf("NewAt: %v", err)
	}
	for i := 0; i < 100; i++ {
		next, err := ids.NewAt(at)
		if err != nil {
			t.Fatalf("NewAt: %v", err)
		}
		if next <= prev {
			t.Fatalf("ids not monotonic: %s <= %s", next, prev)
		}
		prev = next
	}
}

func TestNew_ConcurrentCallsAreUnique(t *testing.T) {
	const n = 500
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := ids.MustNew()
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(seen))
	}
}

func TestValid_RejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-a-valid-ulid", "01ARZ3NDEKTSV4RRFFQ69G5FA"} {
		if ids.Valid(s) {
			t.Errorf("Valid(%q) = true, want false", s)
		}
	}
}

func TestTime_RoundTripsMillisecond(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	id, err := ids.NewAt(at)
	if err != nil {
		t.Fatalf("NewAt: %v", err)
	}
	got, err := ids.Time(id)
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("Time(%s) = %v, want %v", id, got, at)
	}
}
