package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. Entities are copied on save and on
// load so callers never share memory with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*Entity
	events    map[string][]*Event
	nextID    int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*Entity),
		events:    make(map[string][]*Event),
	}
}

func (s *MemoryStore) CreateInstance(_ context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[e.Key]; ok {
		return storeConflict(e.Key)
	}
	e.CreatedAt = timeOrNow(e.CreatedAt)
	e.UpdatedAt = timeOrNow(e.UpdatedAt)
	s.instances[e.Key] = e.Clone()
	return nil
}

func (s *MemoryStore) LoadInstance(_ context.Context, key string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.instances[key]
	if !ok {
		return nil, storeNotFound(key)
	}
	return e.Clone(), nil
}

func (s *MemoryStore) SaveExecutionState(_ context.Context, key string, st ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.instances[key]
	if !ok {
		return storeNotFound(key)
	}
	st.Apply(e, time.Now().UTC())
	return nil
}

func (s *MemoryStore) ListInstances(_ context.Context, filter InstanceFilter) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entity, 0, len(s.instances))
	for _, e := range s.instances {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sortEntities(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	event.ID = s.nextID
	event.Sequence = int64(len(s.events[event.InstanceKey]) + 1)
	event.Timestamp = timeOrNow(event.Timestamp)
	cp := *event
	cp.Payload = slices.Clone(event.Payload)
	s.events[event.InstanceKey] = append(s.events[event.InstanceKey], &cp)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, key string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, ev := range s.events[key] {
		if ev.Sequence > since {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortEntities(es []*Entity) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].CreatedAt.Before(es[j].CreatedAt)
		}
		return es[i].Key < es[j].Key
	})
}

var _ Store = (*MemoryStore)(nil)
