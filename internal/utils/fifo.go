package utils

// Queue is a slice-backed FIFO. The zero value is an empty queue ready for use.
type Queue[T any] struct {
	items []T
	head  int
}

func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}

func (q *Queue[T]) Push(item T) {
	q.items = append(q.items, item)
}

// Front returns the oldest item without removing it
func (q *Queue[T]) Front() (T, bool) {
	if q.Len() == 0 {
		var zero T
		return zero, false
	}

	return q.items[q.head], true
}

// Back returns the newest item without removing it
func (q *Queue[T]) Back() (T, bool) {
	if q.Len() == 0 {
		var zero T
		return zero, false
	}

	return q.items[len(q.items)-1], true
}

func (q *Queue[T]) Pop() (T, bool) {
	if q.Len() == 0 {
		var zero T
		return zero, false
	}

	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head >= 32 && q.head*2 >= len(q.items) {
		remaining := copy(q.items, q.items[q.head:])
		clear(q.items[remaining:])
		q.items = q.items[:remaining]
		q.head = 0
	}

	return item, true
}

// Each calls fn on every item from oldest to newest
func (q *Queue[T]) Each(fn func(item T)) {
	for i := q.head; i < len(q.items); i++ {
		fn(q.items[i])
	}
}

func (q *Queue[T]) Clear() {
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}
