// Package safemap provides a type-safe map guarded by a single RWMutex.
// Every operation, including Values, is atomic with respect to every other,
// which makes it suitable for registries that need consistent snapshots.
package safemap

import "sync"

// SafeMap is a concurrent map that is safe for use by multiple goroutines.
// Keys must be comparable; values may be any type. Unlike a sync.Map, a
// SafeMap can insert only when absent and take a point-in-time copy of its
// values without racing concurrent writers.
//
// SafeMap must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewSafeMap returns a new empty SafeMap ready for use.
//
// Returns:
//   - A pointer to a new SafeMap[K, V]
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{m: make(map[K]V)}
}

// Store sets the value for key k, overwriting any existing value.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
func (s *SafeMap[K, V]) Store(k K, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = v
}

// StoreIfAbsent sets the value for key k only if k is not already present.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
//
// Returns:
//   - true if v was stored, false if k already had a value
func (s *SafeMap[K, V]) StoreIfAbsent(k K, v V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.m[k]; found {
		return false
	}

	s.m[k] = v
	return true
}

// Load returns the value for key k and whether it was present.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value associated with k, or the zero value of V if not found
//   - true if the key was present, false otherwise
func (s *SafeMap[K, V]) Load(k K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, found := s.m[k]
	return v, found
}

// LoadAndDelete removes the entry for key k and returns the removed value.
// Of several concurrent callers for the same key, exactly one observes true.
//
// Parameters:
//   - k: The key to remove
//
// Returns:
//   - The removed value, or the zero value of V if k was absent
//   - true if an entry was removed
func (s *SafeMap[K, V]) LoadAndDelete(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, found := s.m[k]
	if found {
		delete(s.m, k)
	}

	return v, found
}

// Has reports whether key k is present in the map.
func (s *SafeMap[K, V]) Has(k K) bool {
	_, found := s.Load(k)
	return found
}

// Len returns the number of entries in the map.
func (s *SafeMap[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Values returns a copy of all values currently stored. The returned slice
// is owned by the caller and may be iterated without holding any lock.
// Order is unspecified.
//
// Returns:
//   - A new slice with every value in the map
func (s *SafeMap[K, V]) Values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]V, 0, len(s.m))
	for _, v := range s.m {
		out = append(out, v)
	}

	return out
}

// Clear removes every entry and returns the values that were removed.
//
// Returns:
//   - The values present at the time of the call
func (s *SafeMap[K, V]) Clear() []V {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]V, 0, len(s.m))
	for _, v := range s.m {
		out = append(out, v)
	}

	s.m = make(map[K]V)
	return out
}
