package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueueOrdering(t *testing.T) {
	pq := NewPriorityQueue[string]()
	pq.Enqueue("deep", 3)
	pq.Enqueue("root", 0)
	pq.Enqueue("mid", 1)

	require.Equal(t, 3, pq.Len())

	v, ok := pq.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "root", v)

	v, ok = pq.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "mid", v)

	v, ok = pq.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "deep", v)

	_, ok = pq.Dequeue()
	assert.False(t, ok)
	assert.Equal(t, 0, pq.Len())
}

func TestPriorityQueueConcurrent(t *testing.T) {
	pq := NewPriorityQueue[int]()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				pq.Enqueue(j, i)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1000, pq.Len())
	seen := 0
	for {
		if _, ok := pq.Dequeue(); !ok {
			break
		}
		seen++
	}
	assert.Equal(t, 1000, seen)
}
