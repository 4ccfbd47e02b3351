package isolation

import (
	"sync"

	"github.com/rendis/waypoint/internal/expressions"
)

// ScratchState is a map-backed StateManager living for one invocation.
type ScratchState struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewScratchState creates a scratch state seeded with a copy of initial.
func NewScratchState(initial map[string]any) *ScratchState {
	values := expressions.DeepCopyMap(initial)
	if values == nil {
		values = make(map[string]any)
	}
	return &ScratchState{values: values}
}

func (s *ScratchState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *ScratchState) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Snapshot returns a deep copy of the stored values.
func (s *ScratchState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expressions.DeepCopyMap(s.values)
}
