package core

import "math/rand"

// WaitQueue is the ordered set of connection ids currently seeking a
// partner. An id appears at most once. Like the Registry it carries no
// lock of its own; the Hub serializes access.
type WaitQueue struct {
	ids     []string
	present map[string]struct{}
}

// NewWaitQueue returns an empty waiting queue.
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{present: make(map[string]struct{})}
}

// Push appends id to the queue. Duplicate pushes are ignored.
func (q *WaitQueue) Push(id string) {
	if _, ok := q.present[id]; ok {
		return
	}
	q.ids = append(q.ids, id)
	q.present[id] = struct{}{}
}

// Remove deletes id from the queue, preserving the order of the rest.
// Removing an absent id is a no-op.
func (q *WaitQueue) Remove(id string) {
	if _, ok := q.present[id]; !ok {
		return
	}
	delete(q.present, id)
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
}

// Contains reports whether id is queued.
func (q *WaitQueue) Contains(id string) bool {
	_, ok := q.present[id]
	return ok
}

// PickRandom removes and returns a uniformly random waiter. The random
// policy avoids any single waiter being perpetually passed over by
// ordering artifacts. Returns "" when the queue is empty.
func (q *WaitQueue) PickRandom() string {
	if len(q.ids) == 0 {
		return ""
	}
	id := q.ids[rand.Intn(len(q.ids))]
	q.Remove(id)
	return id
}

// Position returns the zero-based position of id in the queue, or -1 if
// it is not queued.
func (q *WaitQueue) Position(id string) int {
	if _, ok := q.present[id]; !ok {
		return -1
	}
	for i, v := range q.ids {
		if v == id {
			return i
		}
	}
	return -1
}

// Len returns the number of queued waiters.
func (q *WaitQueue) Len() int {
	return len(q.ids)
}

// IDs returns a copy of the queue contents in order.
func (q *WaitQueue) IDs() []string {
	out := make([]string, len(q.ids))
	copy(out, q.ids)
	return out
}
