package server

import (
	"container/heap"
)

// expiryEntry is a key scheduled for removal at deadline (unix seconds)
type expiryEntry struct {
	key      string
	deadline int64
	index    int // maintained by the heap
}

// expiryQueue is a min heap of deadlines with O(1) access by key. Storing a
// key again moves its deadline instead of adding a second entry.
// Not safe for concurrent use.
type expiryQueue struct {
	entries []*expiryEntry
	byKey   map[string]*expiryEntry
}

func newExpiryQueue() *expiryQueue {
	return &expiryQueue{byKey: make(map[string]*expiryEntry)}
}

// heap.Interface

func (q *expiryQueue) Len() int { return len(q.entries) }

func (q *expiryQueue) Less(i, j int) bool {
	return q.entries[i].deadline < q.entries[j].deadline
}

func (q *expiryQueue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	q.entries[i].index = i
	q.entries[j].index = j
}

func (q *expiryQueue) Push(x interface{}) {
	e := x.(*expiryEntry)
	e.index = len(q.entries)
	q.entries = append(q.entries, e)
	q.byKey[e.key] = e
}

func (q *expiryQueue) Pop() interface{} {
	old := q.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	q.entries = old[:n-1]
	delete(q.byKey, e.key)
	return e
}

// schedule sets the deadline of key, a deadline of 0 unschedules it
func (q *expiryQueue) schedule(key string, deadline int64) {
	if deadline == 0 {
		q.remove(key)
		return
	}
	if e, ok := q.byKey[key]; ok {
		e.deadline = deadline
		heap.Fix(q, e.index)
		return
	}
	heap.Push(q, &expiryEntry{key: key, deadline: deadline})
}

func (q *expiryQueue) remove(key string) {
	if e, ok := q.byKey[key]; ok {
		heap.Remove(q, e.index)
	}
}

// popDue removes and returns every key whose deadline is at or before now
func (q *expiryQueue) popDue(now int64) []string {
	var due []string
	for len(q.entries) > 0 && q.entries[0].deadline <= now {
		due = append(due, heap.Pop(q).(*expiryEntry).key)
	}
	return due
}

func (q *expiryQueue) clear() {
	q.entries = nil
	q.byKey = make(map[string]*expiryEntry)
}
