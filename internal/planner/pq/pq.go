// Package pq is a min-priority queue over arbitrary items. Items with equal
// priority pop in insertion order.
package pq

import "container/heap"

type entry[T any] struct {
	item     T
	priority float64
	seq      uint64
}

type entries[T any] []entry[T]

func (q entries[T]) Len() int { return len(q) }

func (q entries[T]) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q entries[T]) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *entries[T]) Push(x any) { *q = append(*q, x.(entry[T])) }

func (q *entries[T]) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	var zero entry[T]
	old[n-1] = zero
	*q = old[:n-1]
	return e
}

// Queue is not safe for concurrent use.
type Queue[T any] struct {
	h   entries[T]
	seq uint64
}

func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

func (q *Queue[T]) Len() int { return len(q.h) }

func (q *Queue[T]) Push(item T, priority float64) {
	q.seq++
	heap.Push(&q.h, entry[T]{item: item, priority: priority, seq: q.seq})
}

// Pop removes the item with the lowest priority. ok is false when the queue
// is empty.
func (q *Queue[T]) Pop() (item T, priority float64, ok bool) {
	if len(q.h) == 0 {
		return item, 0, false
	}
	e := heap.Pop(&q.h).(entry[T])
	return e.item, e.priority, true
}

// Peek returns the item Pop would return without removing it.
func (q *Queue[T]) Peek() (item T, priority float64, ok bool) {
	if len(q.h) == 0 {
		return item, 0, false
	}
	return q.h[0].item, q.h[0].priority, true
}
