package ratelimit

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// store holds per-key limiter state. Callers serialise access.
type store[V any] interface {
	get(key string) (V, bool)
	set(key string, value V)
	len() int
}

// newStore returns an unbounded map when capacity is zero or negative,
// otherwise a store that evicts the least recently used key once full.
func newStore[V any](capacity int) store[V] {
	if capacity <= 0 {
		return &mapStore[V]{entries: make(map[string]V)}
	}

	cache, err := lru.New[string, V](capacity)
	if err != nil {
		// only returned for a non-positive size
		return &mapStore[V]{entries: make(map[string]V)}
	}
	return &lruStore[V]{cache: cache}
}

type mapStore[V any] struct {
	entries map[string]V
}

func (m *mapStore[V]) get(key string) (V, bool) {
	v, ok := m.entries[key]
	return v, ok
}

func (m *mapStore[V]) set(key string, value V) {
	m.entries[key] = value
}

func (m *mapStore[V]) len() int {
	return len(m.entries)
}

type lruStore[V any] struct {
	cache *lru.Cache[string, V]
}

func (l *lruStore[V]) get(key string) (V, bool) {
	return l.cache.Get(key)
}

func (l *lruStore[V]) set(key string, value V) {
	l.cache.Add(key, value)
}

func (l *lruStore[V]) len() int {
	return l.cache.Len()
}
