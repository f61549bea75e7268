// Package store is the durable home of every scheduled reminder.
//
// Design principle: the reminder service (and every layer above it) only
// touches persisted reminders through a Store. A Store owns the in-memory
// materialization of one named collection and a Backend that knows how to
// write the whole collection to stable storage.
//
// Access follows an enter/exit discipline expressed as two scoped calls:
//
//	View   – read-only, runs concurrently with other Views.
//	Update – exclusive; the collection is written to the Backend in full on
//	         every exit path, including when fn returns an error or panics.
//
// Every write replaces the whole document.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/snehjoshi/remindq/internal/types"
)

var (
	// ErrPersist is returned from Update when the Backend failed to write the
	// collection. The in-memory collection keeps whatever fn left in it, so the
	// persisted state is unknown until the next successful Update.
	ErrPersist = errors.New("store: persist failed")

	// ErrLoad is returned from Open when the Backend could not read the
	// collection.
	ErrLoad = errors.New("store: load failed")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("store: closed")
)

// Backend reads and writes one whole collection of entries.
//
// Save must not retain entries after it returns. Implementations do not need
// their own locking: a Store never calls Save concurrently.
type Backend interface {
	Load() ([]types.Entry, error)
	Save(entries []types.Entry) error
	Close() error
}

// Store is an exclusively owned, lock-protected collection of reminder entries
// backed by a Backend. All methods are safe for concurrent use.
type Store struct {
	name    string
	backend Backend

	mu      sync.RWMutex
	entries []types.Entry
	closed  bool
}

// Open loads the collection from b and returns a Store that owns it.
// name is only used in errors and logs.
func Open(name string, b Backend) (*Store, error) {
	entries, err := b.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, name, err)
	}
	return &Store{name: name, backend: b, entries: entries}, nil
}

// Name returns the collection name.
func (s *Store) Name() string { return s.name }

// View runs fn over the current collection under a read lock.
// fn must neither modify nor retain the slice.
func (s *Store) View(fn func(entries []types.Entry) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.entries)
}

// Update opens an exclusive mutating session. fn receives the live collection
// and may append, remove or reorder entries. When fn returns (or panics) the
// collection is written to the Backend in full and the lock is released.
//
// The returned error joins fn's error with any persistence error; a
// persistence error always matches ErrPersist.
func (s *Store) Update(fn func(entries *[]types.Entry) error) error {
	return s.update(fn, false)
}

// UpdateOrRevert is Update, except that when the write fails the collection
// is restored to its state before fn ran, inside the same session. No other
// session can observe or persist fn's changes unless they reached disk.
func (s *Store) UpdateOrRevert(fn func(entries *[]types.Entry) error) error {
	return s.update(fn, true)
}

func (s *Store) update(fn func(entries *[]types.Entry) error, revert bool) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var before []types.Entry
	if revert {
		before = append([]types.Entry(nil), s.entries...)
	}

	var fnErr error
	panicked := true
	defer func() {
		saveErr := s.persist()
		if saveErr != nil && revert {
			s.entries = before
		}
		if panicked {
			return
		}
		err = errors.Join(fnErr, saveErr)
	}()

	fnErr = fn(&s.entries)
	panicked = false
	return nil
}

// persist writes the collection. Must be called with mu held.
func (s *Store) persist() error {
	if err := s.backend.Save(s.entries); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersist, s.name, err)
	}
	return nil
}

// Len returns the number of entries in the collection.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close releases the Backend. Calling Close twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

// Query runs a read-only projection over a consistent snapshot of s.
func Query[T any](s *Store, fn func(entries []types.Entry) T) (T, error) {
	var out T
	err := s.View(func(entries []types.Entry) error {
		out = fn(entries)
		return nil
	})
	return out, err
}

// RemoveByID deletes every entry whose ID is in ids and returns how many were
// removed. Order of the remaining entries is preserved.
func RemoveByID(entries *[]types.Entry, ids map[string]struct{}) int {
	kept := (*entries)[:0]
	removed := 0
	for _, e := range *entries {
		if _, ok := ids[e.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so dropped entries can be collected.
	for i := len(kept); i < len(*entries); i++ {
		(*entries)[i] = types.Entry{}
	}
	*entries = kept
	return removed
}
