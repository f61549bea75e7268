// Package scheduler implements the in-memory Min-Heap that orders reminder
// entries by due time.
//
//   - Peek   → O(1): the soonest-due entry always sits at the root.
//   - Push   → O(log N).
//   - Pop    → O(log N).
//
// The heap is purely in-memory and holds no durability responsibility; the
// reminder service rebuilds it from the store at startup.
package scheduler

import "github.com/snehjoshi/remindq/internal/types"

// minHeap is a slice of entries that satisfies heap.Interface.
// The smallest Time sits at index 0.
type minHeap []types.Entry

func (h minHeap) Len() int { return len(h) }

func (h minHeap) Less(i, j int) bool {
	return h[i].Time.Before(h[j].Time)
}

func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) {
	*h = append(*h, x.(types.Entry))
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = types.Entry{} // drop string references for GC
	*h = old[:n-1]
	return e
}
