package store

import (
	"sync"

	"github.com/snehjoshi/remindq/internal/types"
)

// MemoryBackend keeps the collection in process memory. It backs the
// "memory" driver and lets tests inject load and save failures.
type MemoryBackend struct {
	mu      sync.Mutex
	entries []types.Entry
	saves   int
	loadErr error
	saveErr error
}

// NewMemoryBackend returns a MemoryBackend seeded with a copy of entries.
func NewMemoryBackend(entries ...types.Entry) *MemoryBackend {
	return &MemoryBackend{entries: cloneEntries(entries)}
}

// Load returns a copy of the stored collection.
func (b *MemoryBackend) Load() ([]types.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return cloneEntries(b.entries), nil
}

// Save replaces the stored collection with a copy of entries.
func (b *MemoryBackend) Save(entries []types.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.entries = cloneEntries(entries)
	b.saves++
	return nil
}

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

// Snapshot returns a copy of what was last saved.
func (b *MemoryBackend) Snapshot() []types.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneEntries(b.entries)
}

// Saves returns the number of successful Save calls.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// FailLoad makes every subsequent Load return err. nil clears it.
func (b *MemoryBackend) FailLoad(err error) {
	b.mu.Lock()
	b.loadErr = err
	b.mu.Unlock()
}

// FailSave makes every subsequent Save return err. nil clears it.
func (b *MemoryBackend) FailSave(err error) {
	b.mu.Lock()
	b.saveErr = err
	b.mu.Unlock()
}

func cloneEntries(in []types.Entry) []types.Entry {
	if len(in) == 0 {
		return nil
	}
	out := make([]types.Entry, len(in))
	copy(out, in)
	return out
}
