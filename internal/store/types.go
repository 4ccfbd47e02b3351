package store

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/rendis/waypoint/pkg/schema"
)

// Entity is the persisted form of a workflow instance.
type Entity struct {
	Key               string                `json:"key"`
	Workflow          string                `json:"workflow"`
	Place             string                `json:"place"`
	Documents         []schema.Document     `json:"documents,omitempty"`
	History           json.RawMessage       `json:"history,omitempty"`
	HashRecord        map[string]string     `json:"hashRecord,omitempty"`
	PendingTransition string                `json:"pendingTransition,omitempty"`
	Status            schema.InstanceStatus `json:"status"`
	// LastError is the failure the last onError route handled.
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExecutionState is what a run writes back to its instance.
type ExecutionState struct {
	Place             string
	Documents         []schema.Document
	History           json.RawMessage
	HashRecord        map[string]string
	PendingTransition string
	Status            schema.InstanceStatus
	LastError         string
}

// Apply copies st onto e and bumps UpdatedAt.
func (st ExecutionState) Apply(e *Entity, now time.Time) {
	e.Place = st.Place
	e.Documents = slices.Clone(st.Documents)
	e.History = slices.Clone(st.History)
	e.HashRecord = maps.Clone(st.HashRecord)
	e.PendingTransition = st.PendingTransition
	e.Status = st.Status
	e.LastError = st.LastError
	e.UpdatedAt = now
}

// Clone returns a copy that shares no slices or maps with e.
func (e *Entity) Clone() *Entity {
	cp := *e
	cp.Documents = slices.Clone(e.Documents)
	cp.History = slices.Clone(e.History)
	cp.HashRecord = maps.Clone(e.HashRecord)
	return &cp
}

// Event is an immutable entry in an instance's event log.
type Event struct {
	ID          int64           `json:"id"`
	InstanceKey string          `json:"instance"`
	Transition  string          `json:"transition,omitempty"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// InstanceFilter specifies criteria for listing instances.
type InstanceFilter struct {
	Workflow string                 `json:"workflow,omitempty"`
	Status   *schema.InstanceStatus `json:"status,omitempty"`
	Limit    int                    `json:"limit,omitempty"`
}

// Matches reports whether e passes the filter, ignoring Limit.
func (f InstanceFilter) Matches(e *Entity) bool {
	if f.Workflow != "" && e.Workflow != f.Workflow {
		return false
	}
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	return true
}

func storeNotFound(key string) *schema.WaypointError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "instance %q not found", key).
		WithDetails(map[string]any{"instance": key})
}

func storeConflict(key string) *schema.WaypointError {
	return schema.NewErrorf(schema.ErrCodeConflict, "instance %q already exists", key).
		WithDetails(map[string]any{"instance": key})
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
