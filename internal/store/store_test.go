package store_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/snehjoshi/remindq/internal/store"
	"github.com/snehjoshi/remindq/internal/types"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(id string, author uint64, offset time.Duration) types.Entry {
	return types.Entry{
		ID:        id,
		AuthorID:  author,
		Time:      t0.Add(offset),
		Message:   "remind " + id,
		Target:    "chan-1",
		CreatedAt: t0,
	}
}

func openMemory(t *testing.T, seed ...types.Entry) (*store.Store, *store.MemoryBackend) {
	t.Helper()
	b := store.NewMemoryBackend(seed...)
	s, err := store.Open("test", b)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, b
}

func ids(entries []types.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// ─── Open / View ─────────────────────────────────────────────────────────────

func TestOpen_LoadsSeed(t *testing.T) {
	s, _ := openMemory(t, entry("a", 1, 0), entry("b", 2, time.Second))

	got, err := store.Query(s, func(entries []types.Entry) []string { return ids(entries) })
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Query ids = %v, want [a b]", got)
	}
}

func TestOpen_LoadFailure(t *testing.T) {
	b := store.NewMemoryBackend()
	b.FailLoad(errors.New("disk gone"))

	_, err := store.Open("test", b)
	if !errors.Is(err, store.ErrLoad) {
		t.Fatalf("want ErrLoad, got %v", err)
	}
}

// ─── Update ──────────────────────────────────────────────────────────────────

func TestUpdate_PersistsFullCollection(t *testing.T) {
	s, b := openMemory(t, entry("a", 1, 0))

	err := s.Update(func(entries *[]types.Entry) error {
		*entries = append(*entries, entry("b", 1, time.Second))
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	saved := b.Snapshot()
	if len(saved) != 2 {
		t.Fatalf("backend holds %d entries, want 2", len(saved))
	}
	if b.Saves() != 1 {
		t.Errorf("Saves = %d, want 1", b.Saves())
	}
}

// TestUpdate_PersistsWhenFnFails verifies that the session writes on every
// exit path and surfaces fn's error.
func TestUpdate_PersistsWhenFnFails(t *testing.T) {
	s, b := openMemory(t)
	fnErr := errors.New("halfway")

	err := s.Update(func(entries *[]types.Entry) error {
		*entries = append(*entries, entry("a", 1, 0))
		return fnErr
	})
	if !errors.Is(err, fnErr) {
		t.Fatalf("want fn error, got %v", err)
	}
	if errors.Is(err, store.ErrPersist) {
		t.Fatalf("save succeeded, error should not match ErrPersist: %v", err)
	}
	if len(b.Snapshot()) != 1 {
		t.Errorf("backend should hold the partial mutation")
	}
}

func TestUpdate_PersistsWhenFnPanics(t *testing.T) {
	s, b := openMemory(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = s.Update(func(entries *[]types.Entry) error {
			*entries = append(*entries, entry("a", 1, 0))
			panic("boom")
		})
	}()

	if len(b.Snapshot()) != 1 {
		t.Errorf("backend should hold the entry appended before the panic")
	}
	// The lock must have been released.
	if err := s.Update(func(*[]types.Entry) error { return nil }); err != nil {
		t.Fatalf("Update after panic: %v", err)
	}
}

func TestUpdate_SaveFailure(t *testing.T) {
	s, b := openMemory(t)
	b.FailSave(errors.New("disk full"))

	err := s.Update(func(entries *[]types.Entry) error {
		*entries = append(*entries, entry("a", 1, 0))
		return nil
	})
	if !errors.Is(err, store.ErrPersist) {
		t.Fatalf("want ErrPersist, got %v", err)
	}
	// In-memory state is what the caller left it as.
	if s.Len() != 1 {
		t.Errorf("in-memory Len = %d, want 1", s.Len())
	}
	if len(b.Snapshot()) != 0 {
		t.Errorf("backend should be untouched after a failed save")
	}
}

func TestUpdateOrRevert_SaveFailureRestores(t *testing.T) {
	s, b := openMemory(t, entry("a", 1, 0))
	b.FailSave(errors.New("disk full"))

	err := s.UpdateOrRevert(func(entries *[]types.Entry) error {
		(*entries)[0].Message = "changed"
		*entries = append(*entries, entry("b", 1, 0))
		return nil
	})
	if !errors.Is(err, store.ErrPersist) {
		t.Fatalf("want ErrPersist, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("in-memory Len = %d, want 1 after revert", s.Len())
	}

	// A later successful session must not write the reverted entry.
	b.FailSave(nil)
	if err := s.Update(func(*[]types.Entry) error { return nil }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	snap := b.Snapshot()
	if len(snap) != 1 || snap[0].ID != "a" || snap[0].Message != "remind a" {
		t.Fatalf("backend = %+v, want only the original a", snap)
	}
}

func TestUpdateOrRevert_SuccessKeepsChanges(t *testing.T) {
	s, b := openMemory(t)
	err := s.UpdateOrRevert(func(entries *[]types.Entry) error {
		*entries = append(*entries, entry("a", 1, 0))
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateOrRevert: %v", err)
	}
	if s.Len() != 1 || len(b.Snapshot()) != 1 {
		t.Fatalf("Len = %d, backend = %d, want 1/1", s.Len(), len(b.Snapshot()))
	}
}

func TestRemoveByID(t *testing.T) {
	s, b := openMemory(t, entry("a", 1, 0), entry("b", 1, 0), entry("c", 1, 0))

	var removed int
	err := s.Update(func(entries *[]types.Entry) error {
		removed = store.RemoveByID(entries, map[string]struct{}{"a": {}, "c": {}, "zz": {}})
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if got := ids(b.Snapshot()); len(got) != 1 || got[0] != "b" {
		t.Errorf("remaining = %v, want [b]", got)
	}
}

// ─── Concurrency ─────────────────────────────────────────────────────────────

func TestUpdate_ConcurrentSessionsAreSerialized(t *testing.T) {
	s, b := openMemory(t)
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Update(func(entries *[]types.Entry) error {
				*entries = append(*entries, entry(fmt.Sprintf("e%d", i), 1, 0))
				return nil
			})
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Query(s, func(entries []types.Entry) int { return len(entries) })
		}()
	}
	wg.Wait()

	if s.Len() != n {
		t.Fatalf("Len = %d, want %d", s.Len(), n)
	}
	if len(b.Snapshot()) != n {
		t.Fatalf("backend holds %d, want %d", len(b.Snapshot()), n)
	}
	if b.Saves() != n {
		t.Fatalf("Saves = %d, want %d (one full rewrite per session)", b.Saves(), n)
	}
}

// ─── Close ───────────────────────────────────────────────────────────────────

func TestClose_RejectsFurtherAccess(t *testing.T) {
	s, _ := openMemory(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.View(func([]types.Entry) error { return nil }); !errors.Is(err, store.ErrClosed) {
		t.Errorf("View after Close: want ErrClosed, got %v", err)
	}
	if err := s.Update(func(*[]types.Entry) error { return nil }); !errors.Is(err, store.ErrClosed) {
		t.Errorf("Update after Close: want ErrClosed, got %v", err)
	}
}
