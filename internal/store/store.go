// Package store persists workflow instances and their event logs.
package store

import "context"

// EntityStore persists workflow instances.
// All implementations must be safe for concurrent use.
type EntityStore interface {
	// LoadInstance returns the instance stored under key, or a NOT_FOUND error.
	LoadInstance(ctx context.Context, key string) (*Entity, error)
	// CreateInstance stores a new instance; CONFLICT if key is taken.
	CreateInstance(ctx context.Context, e *Entity) error
	// SaveExecutionState replaces the mutable part of an existing instance.
	SaveExecutionState(ctx context.Context, key string, st ExecutionState) error
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*Entity, error)
}

// EventLog is the append-only, per-instance history of what happened.
type EventLog interface {
	// AppendEvent stores event and sets its per-instance Sequence.
	AppendEvent(ctx context.Context, event *Event) error
	// GetEvents returns events with sequence > since, ordered by sequence.
	GetEvents(ctx context.Context, key string, since int64) ([]*Event, error)
}

// Store is a full persistence backend.
type Store interface {
	EntityStore
	EventLog
	Close() error
}
