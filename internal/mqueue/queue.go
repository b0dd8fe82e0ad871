package mqueue

import (
	"container/heap"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Queue is the sole shared mutable structure: a time-ordered priority
// queue of entries, serialized by a single mutex. Every exported method
// without the Locked suffix takes the mutex itself; the engine worker
// calls those one at a time and does not hold the mutex across a
// find-then-mutate sequence.
type Queue struct {
	mu    sync.Mutex
	heap  entryHeap
	byTag map[string]*Entry
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{byTag: make(map[string]*Entry)}
}

// Lock and Unlock expose the queue's mutex directly so a caller can hold
// it across a find-then-mutate sequence using the *Locked variants. No
// caller in this tree uses them.
func (q *Queue) Lock()   { q.mu.Lock() }
func (q *Queue) Unlock() { q.mu.Unlock() }

// Insert sets the entry's state and next_action_time and pushes it into
// the heap in O(log n). Callers already holding the lock should use
// InsertLocked instead.
func (q *Queue) Insert(e *Entry, state State, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.InsertLocked(e, state, at)
}

// InsertLocked is Insert for a caller that already holds the lock.
func (q *Queue) InsertLocked(e *Entry, state State, at time.Time) {
	e.State = state
	e.NextActionTime = at
	if e.CreatedAt.IsZero() {
		e.CreatedAt = at
	}
	heap.Push(&q.heap, e)
	if e.QTag != "" {
		q.byTag[e.QTag] = e
	}
}

// SetState computes next_action_time from the static transition matrix
// (now + timeouts[old][new]) and re-inserts the entry in order. This is
// the normal way a worker advances an entry already in the queue.
func (q *Queue) SetState(e *Entry, newState State, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.SetStateLocked(e, newState, now)
}

// SetStateLocked is SetState for a caller already holding the lock.
func (q *Queue) SetStateLocked(e *Entry, newState State, now time.Time) {
	old := e.State
	e.State = newState
	e.NextActionTime = now.Add(TimeoutFor(old, newState))
	if e.index >= 0 {
		heap.Fix(&q.heap, e.index)
	} else {
		heap.Push(&q.heap, e)
	}
	if e.QTag != "" {
		q.byTag[e.QTag] = e
	}
}

// Reschedule moves e's next_action_time to at without changing its state,
// used by response correlation's 1xx/5xx/480/486 branches which bump a
// request's timer in place rather than transitioning it.
func (q *Queue) Reschedule(e *Entry, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.RescheduleLocked(e, at)
}

// RescheduleLocked is Reschedule for a caller already holding the lock.
func (q *Queue) RescheduleLocked(e *Entry, at time.Time) {
	e.NextActionTime = at
	if e.index >= 0 {
		heap.Fix(&q.heap, e.index)
	} else {
		heap.Push(&q.heap, e)
	}
}

// PopHeadIfDue pops and returns the head entry if it's due at or before
// now, or nil if the queue is empty or the head isn't due yet.
func (q *Queue) PopHeadIfDue(now time.Time) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	if q.heap[0].NextActionTime.After(now) {
		return nil
	}
	e := heap.Pop(&q.heap).(*Entry)
	if e.QTag != "" && q.byTag[e.QTag] == e {
		delete(q.byTag, e.QTag)
	}
	return e
}

// NextDue returns the due time of the head entry, or the zero time if the
// queue is empty. The writer does not use it; it wakes on a fixed tick.
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return time.Time{}, false
	}
	return q.heap[0].NextActionTime, true
}

// FindByTag does a linear scan with a hash-prefix short-circuit; the map
// lookup below short-cuts the common case but preserves the same
// semantics: qtag is expected unique modulo a small collision risk,
// resolved by exact string comparison.
func (q *Queue) FindByTag(tag string, hash uint32) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.FindByTagLocked(tag, hash)
}

// FindByTagLocked is FindByTag for a caller already holding the lock.
func (q *Queue) FindByTagLocked(tag string, hash uint32) *Entry {
	if e, ok := q.byTag[tag]; ok {
		return e
	}
	for _, e := range q.heap {
		if e.QTagHash != hash {
			continue
		}
		if e.QTag == tag {
			return e
		}
	}
	return nil
}

// Remove unlinks e from the queue. Used by response correlation to drop a
// request once a 2xx has acknowledged it.
func (q *Queue) Remove(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.RemoveLocked(e)
}

// RemoveLocked is Remove for a caller already holding the lock.
func (q *Queue) RemoveLocked(e *Entry) {
	if e.index < 0 || e.index >= len(q.heap) || q.heap[e.index] != e {
		return
	}
	heap.Remove(&q.heap, e.index)
	if e.QTag != "" && q.byTag[e.QTag] == e {
		delete(q.byTag, e.QTag)
	}
}

// Len returns the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// SnapshotReverse returns every entry ordered by next_action_time
// descending, for persistence: writing in reverse-timestamp order lets a
// straight top-to-bottom replay rebuild a forward-time queue cheaply.
func (q *Queue) SnapshotReverse() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Entry, len(q.heap))
	copy(out, q.heap)
	slices.SortFunc(out, func(a, b *Entry) int {
		switch {
		case a.NextActionTime.After(b.NextActionTime):
			return -1
		case a.NextActionTime.Before(b.NextActionTime):
			return 1
		default:
			return 0
		}
	})
	return out
}

// entryHeap implements container/heap.Interface over *Entry, ordered by
// NextActionTime ascending.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	return h[i].NextActionTime.Before(h[j].NextActionTime)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
