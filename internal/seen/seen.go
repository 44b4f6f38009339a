// Package seen provides a bounded, concurrency-safe set that forgets its
// least recently touched keys once full.
package seen

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Set is a bounded LRU set of string keys.
type Set struct {
	cache   *lru.Cache[string, struct{}]
	evicted atomic.Int64
}

// New creates a set holding at most capacity keys.
func New(capacity int) *Set {
	if capacity <= 0 {
		capacity = 1
	}
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}
	return &Set{cache: cache}
}

// Add inserts key and reports whether it was new. A repeat marks the key as
// recently used.
func (s *Set) Add(key string) bool {
	found, evicted := s.cache.ContainsOrAdd(key, struct{}{})
	if found {
		s.cache.Get(key)
		return false
	}
	if evicted {
		s.evicted.Add(1)
	}
	return true
}

// Contains reports whether key is present without touching its recency.
func (s *Set) Contains(key string) bool {
	return s.cache.Contains(key)
}

// Remove deletes key.
func (s *Set) Remove(key string) {
	s.cache.Remove(key)
}

// Len returns the number of keys held.
func (s *Set) Len() int {
	return s.cache.Len()
}

// Evicted returns how many keys were dropped for capacity.
func (s *Set) Evicted() int64 {
	return s.evicted.Load()
}
