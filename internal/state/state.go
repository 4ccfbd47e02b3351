// Package state holds the live data of one workflow instance during a run
// and its append-only history of checkpoints.
package state

import (
	"sync"
	"time"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/pkg/schema"
)

// Validator checks a complete candidate state before it is committed.
// A nil Validator accepts everything.
type Validator func(state map[string]any) error

// Metadata is the engine-owned part of a workflow instance.
type Metadata struct {
	Place          string            `json:"place"`
	Documents      []schema.Document `json:"documents,omitempty"`
	ToolResults    map[string]any    `json:"toolResults,omitempty"`
	LastTransition string            `json:"lastTransition,omitempty"`
}

func (m Metadata) clone() Metadata {
	m.Documents = cloneDocuments(m.Documents)
	m.ToolResults = expressions.DeepCopyMap(m.ToolResults)
	return m
}

// WorkflowState owns one validated state map plus metadata. Every mutation
// builds the full candidate state, validates it, and commits only on
// success, so a failed mutation leaves the state untouched.
type WorkflowState struct {
	mu        sync.RWMutex
	state     map[string]any
	meta      Metadata
	version   int
	validator Validator
	caretaker *Caretaker
	now       func() time.Time
}

// New creates an empty state positioned at the start place.
func New(validator Validator) *WorkflowState {
	return newWithCaretaker(validator, NewCaretaker())
}

func newWithCaretaker(validator Validator, c *Caretaker) *WorkflowState {
	return &WorkflowState{
		state:     map[string]any{},
		meta:      Metadata{Place: schema.PlaceStart},
		validator: validator,
		caretaker: c,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewFromHistory rebuilds a WorkflowState from serialized mementos and
// restores it to the newest one. Empty history yields a fresh state.
func NewFromHistory(raw []byte, validator Validator) (*WorkflowState, error) {
	c, err := DeserializeCaretaker(raw)
	if err != nil {
		return nil, err
	}
	ws := newWithCaretaker(validator, c)
	if c.Len() > 0 {
		if err := ws.RestoreToLatest(); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

// Get returns a copy of one state field.
func (ws *WorkflowState) Get(key string) (any, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	v, ok := ws.state[key]
	return expressions.DeepCopy(v), ok
}

// Snapshot returns a deep copy of the whole state.
func (ws *WorkflowState) Snapshot() map[string]any {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return expressions.DeepCopyMap(ws.state)
}

// Set replaces one field.
func (ws *WorkflowState) Set(key string, value any) error {
	return ws.Update(map[string]any{key: value})
}

// Update merges partial into the state as one validated mutation.
func (ws *WorkflowState) Update(partial map[string]any) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	candidate := expressions.DeepCopyMap(ws.state)
	if candidate == nil {
		candidate = map[string]any{}
	}
	for k, v := range partial {
		candidate[k] = expressions.DeepCopy(v)
	}

	if ws.validator != nil {
		if err := ws.validator(candidate); err != nil {
			return schema.NewError(schema.ErrCodeValidation, "state update rejected").
				WithCause(err).
				WithDetails(map[string]any{"fields": keys(partial)})
		}
	}

	ws.state = candidate
	return nil
}

// Place returns the current place.
func (ws *WorkflowState) Place() string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.meta.Place
}

// SetPlace moves the instance to place.
func (ws *WorkflowState) SetPlace(place string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.meta.Place = place
}

// LastTransition returns the id of the last committed transition.
func (ws *WorkflowState) LastTransition() string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.meta.LastTransition
}

// SetLastTransition records the committed transition id.
func (ws *WorkflowState) SetLastTransition(id string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.meta.LastTransition = id
}

// SetToolResult records a tool result under id, replacing any earlier one.
func (ws *WorkflowState) SetToolResult(id string, data any) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.meta.ToolResults == nil {
		ws.meta.ToolResults = make(map[string]any)
	}
	ws.meta.ToolResults[id] = expressions.DeepCopy(data)
}

// ToolResult returns the result recorded under id.
func (ws *WorkflowState) ToolResult(id string) (any, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	v, ok := ws.meta.ToolResults[id]
	return expressions.DeepCopy(v), ok
}

// AddDocuments appends documents, invalidating predecessors that share a
// message id, and returns the documents as stored.
func (ws *WorkflowState) AddDocuments(docs ...schema.Document) []schema.Document {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	var added []schema.Document
	ws.meta.Documents, added = appendDocuments(ws.meta.Documents, docs, ws.now())
	return cloneDocuments(added)
}

// Documents returns every document including invalidated ones.
func (ws *WorkflowState) Documents() []schema.Document {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return cloneDocuments(ws.meta.Documents)
}

// Metadata returns a copy of the metadata.
func (ws *WorkflowState) Metadata() Metadata {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.meta.clone()
}

// Version returns the version the next checkpoint will carry.
func (ws *WorkflowState) Version() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.version
}

// Caretaker exposes the checkpoint history.
func (ws *WorkflowState) Caretaker() *Caretaker {
	return ws.caretaker
}

// Checkpoint snapshots state and metadata under step and advances the version.
func (ws *WorkflowState) Checkpoint(step string) Memento {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	m := Memento{
		Step:      step,
		State:     expressions.DeepCopyMap(ws.state),
		Metadata:  ws.meta.clone(),
		Timestamp: ws.now(),
		Version:   ws.version,
	}
	ws.version++
	ws.caretaker.Add(m)
	return m
}

// RestoreToLatest rehydrates from the newest memento.
func (ws *WorkflowState) RestoreToLatest() error {
	m, ok := ws.caretaker.Latest()
	if !ok {
		return schema.NewError(schema.ErrCodeNotFound, "no checkpoint to restore")
	}
	ws.restore(m)
	return nil
}

// RestoreToStep rehydrates from the most recent memento recorded under step.
func (ws *WorkflowState) RestoreToStep(step string) error {
	m, ok := ws.caretaker.ByStep(step)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no checkpoint recorded for step %q", step)
	}
	ws.restore(m)
	return nil
}

// restore installs m. The version moves one past the memento, and never
// below one past the newest recorded version, so later checkpoints cannot
// reuse a version after restoring an older step.
func (ws *WorkflowState) restore(m Memento) {
	next := m.Version + 1
	if latest, ok := ws.caretaker.Latest(); ok && latest.Version+1 > next {
		next = latest.Version + 1
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.state = m.State
	if ws.state == nil {
		ws.state = map[string]any{}
	}
	ws.meta = m.Metadata
	ws.version = next
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
