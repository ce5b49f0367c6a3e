package cluster

import "container/heap"

// SubmissionHeap implements a priority queue with deterministic ordering
// Ordering: tick → sequence number → participant
type SubmissionHeap struct {
	items []Submission
}

// NewSubmissionHeap creates a new submission heap
func NewSubmissionHeap() *SubmissionHeap {
	h := &SubmissionHeap{
		items: make([]Submission, 0),
	}
	heap.Init(h)
	return h
}

// Len implements heap.Interface
func (h *SubmissionHeap) Len() int {
	return len(h.items)
}

// Less implements heap.Interface with deterministic ordering
func (h *SubmissionHeap) Less(i, j int) bool {
	ci, cj := h.items[i].Command, h.items[j].Command

	// Primary: execution tick (lower first)
	if ci.Tick != cj.Tick {
		return ci.Tick < cj.Tick
	}

	// Secondary: relay sequence number
	if ci.Seq != cj.Seq {
		return ci.Seq < cj.Seq
	}

	// Tertiary: author (deterministic tie-breaker)
	return ci.Participant < cj.Participant
}

// Swap implements heap.Interface
func (h *SubmissionHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

// Push implements heap.Interface
func (h *SubmissionHeap) Push(x interface{}) {
	h.items = append(h.items, x.(Submission))
}

// Pop implements heap.Interface
func (h *SubmissionHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[0 : n-1]
	return item
}

// Schedule adds a submission to the heap
func (h *SubmissionHeap) Schedule(s Submission) {
	heap.Push(h, s)
}

// PopNext removes and returns the next submission
func (h *SubmissionHeap) PopNext() (Submission, bool) {
	if h.Len() == 0 {
		return Submission{}, false
	}
	return heap.Pop(h).(Submission), true
}

// Peek returns the next submission without removing it
func (h *SubmissionHeap) Peek() (Submission, bool) {
	if h.Len() == 0 {
		return Submission{}, false
	}
	return h.items[0], true
}
