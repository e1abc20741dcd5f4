package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	var q Queue[int]
	_, ok := q.Pop()
	require.False(t, ok)

	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	require.Equal(t, 100, q.Len())

	front, ok := q.Front()
	require.True(t, ok)
	require.Equal(t, 0, front)
	back, ok := q.Back()
	require.True(t, ok)
	require.Equal(t, 99, back)

	for i := 0; i < 70; i++ {
		item, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, item)
	}
	require.Equal(t, 30, q.Len())

	q.Push(100)
	var seen []int
	q.Each(func(item int) { seen = append(seen, item) })
	require.Len(t, seen, 31)
	require.Equal(t, 70, seen[0])
	require.Equal(t, 100, seen[30])

	q.Clear()
	require.Equal(t, 0, q.Len())
}

func TestOptionalMutexDisabled(t *testing.T) {
	m := OptionalMutex{}
	m.Lock()
	m.Lock()
	m.Unlock()
	m.Unlock()

	m.UseMutex = true
	m.Lock()
	require.False(t, m.Mutex.TryLock())
	m.Unlock()
}
