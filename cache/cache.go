// Package cache provides a bounded in-memory map that evicts the oldest inserted keys.
// A Cache is not safe for concurrent use.
package cache

import (
	"container/list"
	"iter"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

type Cache[K comparable, V any] struct {
	maxSize     int
	realMaxSize int
	order       *list.List
	items       map[K]*list.Element
}

// New returns a cache holding at most about maxSize entries. Eviction is triggered once
// the size reaches int(1.05*maxSize) and trims back to maxSize. maxSize <= 0 means unbounded.
func New[K comparable, V any](maxSize int) *Cache[K, V] {
	c := &Cache[K, V]{
		maxSize: max(maxSize, 0),
		order:   list.New(),
		items:   map[K]*list.Element{},
	}
	if c.maxSize > 0 {
		c.realMaxSize = int(1.05 * float64(c.maxSize))
	}
	return c
}

func (c *Cache[K, V]) MaxSize() int {
	return c.maxSize
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	if e, ok := c.items[key]; ok {
		return e.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Set overwrites in place; an existing key keeps its insertion position.
func (c *Cache[K, V]) Set(key K, value V) {
	if e, ok := c.items[key]; ok {
		e.Value.(*entry[K, V]).value = value
	} else {
		c.items[key] = c.order.PushBack(&entry[K, V]{key: key, value: value})
	}
	if c.maxSize > 0 && len(c.items) >= c.realMaxSize {
		c.limit()
	}
}

func (c *Cache[K, V]) limit() {
	for len(c.items) > c.maxSize {
		front := c.order.Front()
		c.order.Remove(front)
		delete(c.items, front.Value.(*entry[K, V]).key)
	}
}

func (c *Cache[K, V]) GetOrCompute(key K, fn func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

func (c *Cache[K, V]) Pop(key K) {
	if e, ok := c.items[key]; ok {
		c.order.Remove(e)
		delete(c.items, key)
	}
}

func (c *Cache[K, V]) Clear() {
	c.order.Init()
	clear(c.items)
}

func (c *Cache[K, V]) Len() int {
	return len(c.items)
}

// Keys yields keys from the oldest inserted to the newest.
func (c *Cache[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for e := c.order.Front(); e != nil; e = e.Next() {
			if !yield(e.Value.(*entry[K, V]).key) {
				return
			}
		}
	}
}

func (c *Cache[K, V]) Items() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for e := c.order.Front(); e != nil; e = e.Next() {
			en := e.Value.(*entry[K, V])
			if !yield(en.key, en.value) {
				return
			}
		}
	}
}
