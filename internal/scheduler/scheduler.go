package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/snehjoshi/remindq/internal/types"
)

// Scheduler is a mutex-guarded min-heap of reminder entries.
//
// Usage:
//
//	s := scheduler.New(0)
//	s.Push(entry)
//	for _, e := range s.PopDue(time.Now()) {
//	    // entry is due
//	}
//
// All methods are safe for concurrent use.
type Scheduler struct {
	mu sync.Mutex
	h  minHeap
}

// New creates an empty Scheduler with room for capacity entries before the
// backing slice has to grow.
func New(capacity int) *Scheduler {
	if capacity < 0 {
		capacity = 0
	}
	h := make(minHeap, 0, capacity)
	heap.Init(&h)
	return &Scheduler{h: h}
}

// Push inserts e. It never fails.
func (s *Scheduler) Push(e types.Entry) {
	s.mu.Lock()
	heap.Push(&s.h, e)
	s.mu.Unlock()
}

// Peek returns the entry with the smallest Time without removing it.
// ok is false when the heap is empty.
func (s *Scheduler) Peek() (e types.Entry, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 {
		return types.Entry{}, false
	}
	return s.h[0], true
}

// Pop removes and returns the entry with the smallest Time.
// ok is false when the heap is empty.
func (s *Scheduler) Pop() (e types.Entry, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 {
		return types.Entry{}, false
	}
	return heap.Pop(&s.h).(types.Entry), true
}

// IsEmpty reports whether the heap holds no entries.
func (s *Scheduler) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h) == 0
}

// Len returns the number of entries currently in the heap.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}

// PopDue removes every entry whose Time is at or before now and returns them
// in ascending Time order. The whole drain happens under a single hold of the
// mutex, so a concurrent Push either lands before the drain or after it.
// Returns nil when nothing is due.
func (s *Scheduler) PopDue(now time.Time) []types.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []types.Entry
	for len(s.h) > 0 && s.h[0].IsDue(now) {
		due = append(due, heap.Pop(&s.h).(types.Entry))
	}
	return due
}
