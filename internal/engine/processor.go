// Package engine drives workflow instances through their transitions: it
// decides whether a run is needed, selects transitions, executes their tool
// calls and checkpoints every committed step.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"time"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/internal/lock"
	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/metrics"
	"github.com/rendis/waypoint/internal/registry"
	"github.com/rendis/waypoint/internal/state"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/internal/tools"
	"github.com/rendis/waypoint/pkg/schema"
)

// DefaultMaxIterations bounds the transitions one run may commit.
const DefaultMaxIterations = 1000

// DefaultLockTTL is how long a crashed runner can hold an instance lock.
const DefaultLockTTL = 5 * time.Minute

// WorkflowSource resolves workflow blocks by name.
// Satisfied by *registry.Registry.
type WorkflowSource interface {
	Workflow(name string) (*registry.Block, error)
}

// ToolSource resolves tools by name. Satisfied by *tools.Registry.
type ToolSource interface {
	Get(name string) (tools.Tool, error)
}

// Config tunes a Processor.
type Config struct {
	// MaxIterations bounds transitions per run. Zero means DefaultMaxIterations.
	MaxIterations int
	// LockTTL is passed to the Locker. Zero means DefaultLockTTL.
	LockTTL time.Duration
	// Validators run after the built-in validators.
	Validators []Validator
}

// Deps are the collaborators a Processor needs. Workflows, Tools and Store
// are required; the rest fall back to in-process defaults.
type Deps struct {
	Workflows WorkflowSource
	Tools     ToolSource
	Store     store.Store
	Locker    lock.Locker
	Evaluator *expressions.Evaluator
	Isolation *isolation.Manager
	Hub       streaming.EventHub
	Metrics   metrics.Recorder
	Logger    *slog.Logger
}

// Processor runs workflow instances. It is safe for concurrent use; runs of
// the same instance are serialized by the Locker.
type Processor struct {
	workflows WorkflowSource
	tools     ToolSource
	store     store.Store
	locker    lock.Locker
	eval      *expressions.Evaluator
	isolation *isolation.Manager
	hub       streaming.EventHub
	metrics   metrics.Recorder
	logger    *slog.Logger
	cfg       Config
}

// NewProcessor creates a Processor.
func NewProcessor(cfg Config, deps Deps) *Processor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	p := &Processor{
		workflows: deps.Workflows,
		tools:     deps.Tools,
		store:     deps.Store,
		locker:    deps.Locker,
		eval:      deps.Evaluator,
		isolation: deps.Isolation,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
	}
	if p.locker == nil {
		p.locker = lock.NewMemoryLocker()
	}
	if p.eval == nil {
		p.eval = expressions.NewEvaluator(nil, 0)
	}
	if p.isolation == nil {
		p.isolation = isolation.NewManager()
	}
	if p.metrics == nil {
		p.metrics = (*metrics.Metrics)(nil)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// RunRequest asks for one run of an instance.
type RunRequest struct {
	Workflow string         `json:"workflow"`
	Key      string         `json:"key"`
	Args     map[string]any `json:"args,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	// Transition, when set, is tried before any automatic transition.
	Transition string `json:"transition,omitempty"`
}

// RunResult reports what a run did.
type RunResult struct {
	Key      string                `json:"key"`
	Workflow string                `json:"workflow"`
	Place    string                `json:"place"`
	Status   schema.InstanceStatus `json:"status"`
	// Skipped is true when the persisted result was still valid.
	Skipped     bool              `json:"skipped"`
	Transitions []string          `json:"transitions"`
	State       map[string]any    `json:"state"`
	Documents   []schema.Document `json:"documents,omitempty"`
	Version     int               `json:"version"`
}

// run is the working set of one Run call.
type run struct {
	block      *registry.Block
	entity     *store.Entity
	ws         *state.WorkflowState
	inv        *isolation.Invocation
	args       map[string]any
	context    map[string]any
	hashRecord map[string]string
	lastError  string
	fired      []string
	logger     *slog.Logger
}

// Run loads or creates the instance, decides whether it must run and, if so,
// fires transitions until none is selectable.
func (p *Processor) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Workflow == "" || req.Key == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow and key are required")
	}
	block, err := p.workflows.Workflow(req.Workflow)
	if err != nil {
		return nil, err
	}
	if err := block.ValidateArgs(req.Args); err != nil {
		return nil, err
	}

	ctx = logging.WithInstanceKey(ctx, req.Key)
	logger := logging.LogWith(ctx, p.logger).With(slog.String("workflow", block.Name()))

	unlock, err := p.locker.Lock(ctx, req.Key, p.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release instance lock", slog.String("error", err.Error()))
		}
	}()

	res, err := p.run(ctx, logger, block, req)
	if err != nil {
		p.metrics.Run(block.Name(), metrics.OutcomeFailed)
		p.record(ctx, logger, req.Key, block.Name(), schema.TransitionOf(err), schema.EventRunFailed, map[string]any{
			"error": err.Error(),
			"code":  schema.CodeOf(err),
		})
		logger.Error("run failed", slog.String("error", err.Error()))
		return nil, err
	}
	return res, nil
}

func (p *Processor) run(ctx context.Context, logger *slog.Logger, block *registry.Block, req RunRequest) (*RunResult, error) {
	entity, err := p.loadOrCreate(ctx, logger, block, req.Key)
	if err != nil {
		return nil, err
	}
	ws, err := state.NewFromHistory(entity.History, block.StateValidator())
	if err != nil {
		return nil, err
	}

	r := &run{
		block:      block,
		entity:     entity,
		ws:         ws,
		hashRecord: maps.Clone(entity.HashRecord),
		lastError:  entity.LastError,
		logger:     logger,
	}
	if r.hashRecord == nil {
		r.hashRecord = map[string]string{}
	}
	r.inv = p.isolation.Enter(block.Name(), block.Fields, isolation.Scope{
		State:   ws,
		Args:    req.Args,
		Context: req.Context,
		Runtime: r.runtime("", ""),
	})
	r.args = r.inv.Args()
	r.context = r.inv.Context()

	pending := req.Transition
	if pending == "" {
		pending = entity.PendingTransition
	}

	validators := append([]Validator{
		FreshInstanceValidator{},
		FingerprintValidator{},
		DefinitionValidator{Hash: block.DefinitionHash()},
	}, p.cfg.Validators...)
	outcome := NewPipeline(validators...).Validate(ctx, entity, r.args)

	if outcome.Valid && pending == "" {
		logger.Debug("persisted result still valid, skipping run")
		p.metrics.Run(block.Name(), metrics.OutcomeSkipped)
		p.record(ctx, logger, entity.Key, block.Name(), "", schema.EventRunSkipped, map[string]any{
			"place": ws.Place(),
		})
		res := p.result(r)
		res.Skipped = true
		return res, nil
	}

	logger.Info("run started",
		slog.String("place", ws.Place()),
		slog.Any("invalid", outcome.Invalid),
		slog.String("pending", pending),
	)
	p.record(ctx, logger, entity.Key, block.Name(), "", schema.EventRunStarted, map[string]any{
		"place":   ws.Place(),
		"invalid": outcome.Invalid,
	})

	if !outcome.Valid && ws.Place() != schema.PlaceStart {
		if err := p.invalidate(ctx, r, outcome); err != nil {
			return nil, err
		}
	}

	if err := p.loop(ctx, r, pending); err != nil {
		return nil, err
	}

	maps.Copy(r.hashRecord, outcome.HashRecordUpdates)
	if err := p.persist(ctx, r); err != nil {
		return nil, err
	}

	p.metrics.Run(block.Name(), metrics.OutcomeCompleted)
	p.record(ctx, logger, entity.Key, block.Name(), "", schema.EventRunCompleted, map[string]any{
		"place":       ws.Place(),
		"transitions": r.fired,
	})
	logger.Info("run completed", slog.String("place", ws.Place()), slog.Int("transitions", len(r.fired)))
	return p.result(r), nil
}

func (p *Processor) loadOrCreate(ctx context.Context, logger *slog.Logger, block *registry.Block, key string) (*store.Entity, error) {
	e, err := p.store.LoadInstance(ctx, key)
	switch {
	case err == nil:
		if e.Workflow != block.Name() {
			return nil, schema.NewErrorf(schema.ErrCodeConflict,
				"instance %q belongs to workflow %q, not %q", key, e.Workflow, block.Name())
		}
		return e, nil
	case !schema.IsCode(err, schema.ErrCodeNotFound):
		return nil, err
	}

	e = &store.Entity{
		Key:        key,
		Workflow:   block.Name(),
		Place:      schema.PlaceStart,
		HashRecord: map[string]string{},
		Status:     schema.InstanceStatusActive,
	}
	if err := p.store.CreateInstance(ctx, e); err != nil {
		return nil, err
	}
	logger.Info("instance created")
	p.record(ctx, logger, key, block.Name(), "", schema.EventInstanceCreated, nil)
	return e, nil
}

// invalidate moves an instance whose persisted result no longer holds back
// to start through the synthetic invalidation transition.
func (p *Processor) invalidate(ctx context.Context, r *run, outcome ValidationOutcome) error {
	tr := &schema.Transition{
		ID:   schema.TransitionInvalidation,
		From: schema.FromPlaces{schema.PlaceAny},
		To:   schema.PlaceStart,
	}
	r.logger.Info("result invalidated", slog.String("from", r.ws.Place()), slog.Any("validators", outcome.Invalid))
	return p.commit(ctx, r, tr, schema.PlaceStart, schema.EventInvalidated)
}

func (p *Processor) loop(ctx context.Context, r *run, pending string) error {
	def := r.block.Definition
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return schema.NewError(schema.ErrCodeExecution, "run cancelled").WithCause(err)
		}
		place := r.ws.Place()
		if place == schema.PlaceEnd && pending == "" {
			return nil
		}
		if i >= p.cfg.MaxIterations {
			return schema.NewErrorf(schema.ErrCodeExecution, "run exceeded %d transitions", p.cfg.MaxIterations).
				WithDetails(map[string]any{"place": place})
		}

		candidates, err := AvailableTransitions(ctx, p.eval, def, place, r.data(r.runtime("", "")), r.opts())
		if err != nil {
			return err
		}
		selected, ok := SelectTransition(candidates, pending)
		if pending != "" && (!ok || selected.ID != pending) {
			r.logger.Warn("requested transition not available", slog.String("transition", pending), slog.String("place", place))
		}
		pending = ""
		if !ok {
			return nil
		}

		tr, _ := def.Transition(selected.ID)
		if err := p.fire(ctx, r, tr); err != nil {
			return err
		}
	}
}

func (p *Processor) fire(ctx context.Context, r *run, tr *schema.Transition) error {
	ctx = logging.WithTransitionID(ctx, tr.ID)
	place, err := p.runCalls(ctx, r, tr)
	if err != nil {
		return err
	}
	return p.commit(ctx, r, tr, place, schema.EventTransitionCompleted)
}

// commit moves the instance to place, checkpoints and persists it.
func (p *Processor) commit(ctx context.Context, r *run, tr *schema.Transition, place, eventType string) error {
	if !tr.AllowsPlace(place) {
		return schema.NewErrorf(schema.ErrCodeTransitionNotAllowed,
			"transition %q cannot move to %q", tr.ID, place).
			WithTransition(tr.ID).
			WithDetails(map[string]any{"to": tr.To, "onError": tr.OnError, "place": place})
	}

	from := r.ws.Place()
	r.ws.SetPlace(place)
	r.ws.SetLastTransition(tr.ID)
	m := r.ws.Checkpoint(tr.ID)
	if err := p.persist(ctx, r); err != nil {
		return err
	}
	r.fired = append(r.fired, tr.ID)

	p.metrics.Transition(r.block.Name(), tr.ID)
	p.record(ctx, r.logger, r.entity.Key, r.block.Name(), tr.ID, eventType, map[string]any{
		"from":    from,
		"to":      place,
		"version": m.Version,
	})
	r.logger.Debug("transition committed",
		slog.String("transition", tr.ID),
		slog.String("from", from),
		slog.String("to", place),
		slog.Int("version", m.Version),
	)
	return nil
}

func (p *Processor) persist(ctx context.Context, r *run) error {
	history, err := r.ws.Caretaker().Serialize()
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "serialize history").WithCause(err)
	}
	return p.store.SaveExecutionState(ctx, r.entity.Key, store.ExecutionState{
		Place:      r.ws.Place(),
		Documents:  r.ws.Documents(),
		History:    history,
		HashRecord: r.hashRecord,
		Status:     statusOf(r.ws.Place()),
		LastError:  r.lastError,
	})
}

func statusOf(place string) schema.InstanceStatus {
	if place == schema.PlaceEnd {
		return schema.InstanceStatusCompleted
	}
	return schema.InstanceStatusActive
}

func (p *Processor) result(r *run) *RunResult {
	fired := r.fired
	if fired == nil {
		fired = []string{}
	}
	return &RunResult{
		Key:         r.entity.Key,
		Workflow:    r.block.Name(),
		Place:       r.ws.Place(),
		Status:      statusOf(r.ws.Place()),
		Transitions: fired,
		State:       r.ws.Snapshot(),
		Documents:   state.ActiveDocuments(r.ws.Documents()),
		Version:     r.ws.Version(),
	}
}

// runtime builds the runtime namespace. transition and call are empty
// outside tool calls.
func (r *run) runtime(transition, call string) map[string]any {
	rt := map[string]any{
		tools.RuntimeInstance: r.entity.Key,
		tools.RuntimeWorkflow: r.block.Name(),
		tools.RuntimePlace:    r.ws.Place(),
	}
	if transition != "" {
		rt[tools.RuntimeTransition] = transition
	}
	if call != "" {
		rt[tools.RuntimeCall] = call
	}
	return rt
}

// data is the evaluation environment. Fields the workflow declares shared
// appear under "shared".
func (r *run) data(runtime map[string]any) map[string]any {
	d := expressions.NewScope(r.ws.Snapshot(), r.args, r.context, runtime).Data()
	if len(r.block.Fields.Shared) > 0 {
		shared := make(map[string]any, len(r.block.Fields.Shared))
		for _, name := range r.block.Fields.Shared {
			v, _ := r.inv.Get(name)
			shared[name] = v
		}
		d["shared"] = shared
	}
	return d
}

func (r *run) opts() expressions.Options {
	return expressions.Options{
		Helpers:         r.block.Helpers,
		TemplateHelpers: r.block.TemplateHelpers,
		CacheNamespace:  r.block.Name(),
	}
}

// record appends to the instance's event log and mirrors the event to the
// hub. Failures are logged; they never fail the run.
func (p *Processor) record(ctx context.Context, logger *slog.Logger, key, workflow, transition, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			logger.Warn("marshal event payload", slog.String("type", eventType), slog.String("error", err.Error()))
		}
		raw = b
	}
	if err := p.store.AppendEvent(ctx, &store.Event{
		InstanceKey: key,
		Transition:  transition,
		Type:        eventType,
		Payload:     raw,
	}); err != nil {
		logger.Error("append event", slog.String("type", eventType), slog.String("error", err.Error()))
	}
	p.publish(ctx, logger, streaming.StreamEvent{
		Instance:   key,
		Workflow:   workflow,
		Transition: transition,
		EventType:  eventType,
		Payload:    payload,
	})
}

func (p *Processor) publish(ctx context.Context, logger *slog.Logger, event streaming.StreamEvent) {
	if p.hub == nil {
		return
	}
	if err := p.hub.Publish(ctx, event); err != nil {
		logger.Debug("publish event", slog.String("type", event.EventType), slog.String("error", err.Error()))
	}
}

// RunChild runs a child instance for the fan-out tool.
func (p *Processor) RunChild(ctx context.Context, workflow, key string, args map[string]any) (*tools.ChildResult, error) {
	res, err := p.Run(ctx, RunRequest{Workflow: workflow, Key: key, Args: args})
	if err != nil {
		return nil, err
	}
	return &tools.ChildResult{Key: res.Key, Place: res.Place, State: res.State}, nil
}
