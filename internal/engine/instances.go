package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/state"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

// InstanceView is a read-only snapshot of a persisted instance.
type InstanceView struct {
	Key               string                `json:"key"`
	Workflow          string                `json:"workflow"`
	Place             string                `json:"place"`
	Status            schema.InstanceStatus `json:"status"`
	PendingTransition string                `json:"pendingTransition,omitempty"`
	LastTransition    string                `json:"lastTransition,omitempty"`
	LastError         string                `json:"lastError,omitempty"`
	State             map[string]any        `json:"state"`
	ToolResults       map[string]any        `json:"toolResults,omitempty"`
	Documents         []schema.Document     `json:"documents,omitempty"`
	Version           int                   `json:"version"`
	Checkpoints       int                   `json:"checkpoints"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

// Inspect rebuilds the instance stored under key without running it.
func (p *Processor) Inspect(ctx context.Context, key string) (*InstanceView, error) {
	e, err := p.store.LoadInstance(ctx, key)
	if err != nil {
		return nil, err
	}
	ws, err := state.NewFromHistory(e.History, nil)
	if err != nil {
		return nil, err
	}
	meta := ws.Metadata()
	return &InstanceView{
		Key:               e.Key,
		Workflow:          e.Workflow,
		Place:             e.Place,
		Status:            e.Status,
		PendingTransition: e.PendingTransition,
		LastTransition:    meta.LastTransition,
		LastError:         e.LastError,
		State:             ws.Snapshot(),
		ToolResults:       meta.ToolResults,
		Documents:         state.ActiveDocuments(e.Documents),
		Version:           ws.Version(),
		Checkpoints:       ws.Caretaker().Len(),
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}, nil
}

// Events returns the instance's event log after sequence since.
func (p *Processor) Events(ctx context.Context, key string, since int64) ([]*store.Event, error) {
	return p.store.GetEvents(ctx, key, since)
}

// Visited returns the places the instance has occupied, in order of first
// arrival, starting with start.
func (p *Processor) Visited(ctx context.Context, key string) ([]string, error) {
	events, err := p.store.GetEvents(ctx, key, 0)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{schema.PlaceStart: true}
	visited := []string{schema.PlaceStart}
	for _, e := range events {
		if e.Type != schema.EventTransitionCompleted && e.Type != schema.EventInvalidated {
			continue
		}
		var move struct {
			To string `json:"to"`
		}
		if err := json.Unmarshal(e.Payload, &move); err != nil || move.To == "" || seen[move.To] {
			continue
		}
		seen[move.To] = true
		visited = append(visited, move.To)
	}
	return visited, nil
}

// Instances lists persisted instances.
func (p *Processor) Instances(ctx context.Context, filter store.InstanceFilter) ([]*store.Entity, error) {
	return p.store.ListInstances(ctx, filter)
}

// RequestTransition stores id as the instance's pending transition. The
// next run tries it before any automatic transition.
func (p *Processor) RequestTransition(ctx context.Context, key, id string) error {
	ctx = logging.WithInstanceKey(ctx, key)
	unlock, err := p.locker.Lock(ctx, key, p.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer func() { _ = unlock(context.WithoutCancel(ctx)) }()

	e, err := p.store.LoadInstance(ctx, key)
	if err != nil {
		return err
	}
	block, err := p.workflows.Workflow(e.Workflow)
	if err != nil {
		return err
	}
	if _, ok := block.Definition.Transition(id); !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q has no transition %q", e.Workflow, id).
			WithTransition(id)
	}

	if err := p.store.SaveExecutionState(ctx, key, store.ExecutionState{
		Place:             e.Place,
		Documents:         e.Documents,
		History:           e.History,
		HashRecord:        e.HashRecord,
		PendingTransition: id,
		Status:            e.Status,
		LastError:         e.LastError,
	}); err != nil {
		return err
	}
	logging.LogWith(ctx, p.logger).Info("transition requested", "transition", id)
	return nil
}
