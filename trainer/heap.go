package trainer

import (
	"cmp"
	"container/heap"
	"slices"
)

type ScoredItem[T any] struct {
	Value float32 `json:"value"`
	Key   string  `json:"key"`
	Item  T       `json:"item"`
}

type minHeap[T any] []ScoredItem[T]

func (h minHeap[T]) Len() int           { return len(h) }
func (h minHeap[T]) Less(i, j int) bool { return h[i].Value < h[j].Value }
func (h minHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap[T]) Push(x any)        { *h = append(*h, x.(ScoredItem[T])) }
func (h *minHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// ContentHeap keeps the MaxSize highest-valued distinct items, identified by key. Pushing a key
// that is currently held is a no-op.
type ContentHeap[T any] struct {
	MaxSize int

	h    minHeap[T]
	seen map[string]struct{}
}

func NewContentHeap[T any](maxSize int) *ContentHeap[T] {
	return &ContentHeap[T]{MaxSize: maxSize, seen: map[string]struct{}{}}
}

func (c *ContentHeap[T]) Len() int {
	return len(c.h)
}

// Push reports whether item was inserted.
func (c *ContentHeap[T]) Push(value float32, key string, item T) bool {
	if c.MaxSize <= 0 {
		return false
	}
	if _, ok := c.seen[key]; ok {
		return false
	}
	if len(c.h) < c.MaxSize {
		c.seen[key] = struct{}{}
		heap.Push(&c.h, ScoredItem[T]{Value: value, Key: key, Item: item})
		return true
	}
	if value <= c.h[0].Value {
		return false
	}
	delete(c.seen, c.h[0].Key)
	c.seen[key] = struct{}{}
	c.h[0] = ScoredItem[T]{Value: value, Key: key, Item: item}
	heap.Fix(&c.h, 0)
	return true
}

// Sorted returns the held items, highest value first.
func (c *ContentHeap[T]) Sorted() []ScoredItem[T] {
	items := slices.Clone([]ScoredItem[T](c.h))
	slices.SortStableFunc(items, func(a, b ScoredItem[T]) int {
		return cmp.Compare(b.Value, a.Value)
	})
	return items
}
