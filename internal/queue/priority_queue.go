package queue

import (
	"container/heap"
	"sync"
)

// item is a single entry in the priority queue.
type item[T any] struct {
	value    T
	priority int
	index    int
}

// itemHeap implements heap.Interface. Lower priority values dequeue first.
type itemHeap[T any] []*item[T]

func (h itemHeap[T]) Len() int {
	return len(h)
}

func (h itemHeap[T]) Less(i, j int) bool {
	return h[i].priority < h[j].priority
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[T]) Push(x any) {
	n := len(*h)
	it := x.(*item[T])
	it.index = n
	*h = append(*h, it)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil  // avoid memory leak
	it.index = -1 // for safety
	*h = old[0 : n-1]
	return it
}

// PriorityQueue is a thread-safe generic priority queue.
type PriorityQueue[T any] struct {
	heap itemHeap[T]
	mu   sync.Mutex
}

// NewPriorityQueue creates a new priority queue.
func NewPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{
		heap: make(itemHeap[T], 0),
	}
	heap.Init(&pq.heap)
	return pq
}

// Len returns the number of queued items.
func (pq *PriorityQueue[T]) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.heap.Len()
}

// Enqueue adds a value with the given priority. Lower values dequeue first.
func (pq *PriorityQueue[T]) Enqueue(value T, priority int) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	heap.Push(&pq.heap, &item[T]{
		value:    value,
		priority: priority,
	})
}

// Dequeue removes and returns the lowest-priority-value item.
func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.heap.Len() == 0 {
		var zero T
		return zero, false
	}

	it := heap.Pop(&pq.heap).(*item[T])
	return it.value, true
}
