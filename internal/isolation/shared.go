package isolation

import (
	"sync"

	"github.com/rendis/waypoint/internal/expressions"
)

// SharedStore holds a block's shared fields. One store exists per block name
// per Manager and is visible to every concurrent invocation of that block.
// Get and Set are individually atomic; read-modify-write sequences must use
// Update.
type SharedStore struct {
	mu     sync.Mutex
	values map[string]any
}

func newSharedStore() *SharedStore {
	return &SharedStore{values: make(map[string]any)}
}

// Get returns the current value of field.
func (s *SharedStore) Get(field string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[field]
	return v, ok
}

// Set replaces the value of field.
func (s *SharedStore) Set(field string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[field] = value
}

// Update applies fn to the current value while holding the store's lock and
// stores the result. fn must not call back into the store.
func (s *SharedStore) Update(field string, fn func(current any, ok bool) any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.values[field]
	next := fn(cur, ok)
	s.values[field] = next
	return next
}

// Snapshot returns a deep copy of every shared field.
func (s *SharedStore) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return expressions.DeepCopyMap(s.values)
}
