package isolation

import (
	"slices"
	"sync"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/pkg/schema"
)

// StateManager stores the state fields of one invocation.
// *state.WorkflowState and ScratchState implement it.
type StateManager interface {
	Get(key string) (any, bool)
	Set(key string, value any) error
}

// Scope is the per-invocation data an Invocation is built from.
type Scope struct {
	State   StateManager
	Args    map[string]any
	Context map[string]any
	Runtime map[string]any
}

// Manager creates invocations and owns the shared store of every block.
type Manager struct {
	mu     sync.Mutex
	shared map[string]*SharedStore
}

// NewManager creates a Manager with no shared stores.
func NewManager() *Manager {
	return &Manager{shared: make(map[string]*SharedStore)}
}

// Shared returns the shared store of block, creating it on first use.
func (m *Manager) Shared(block string) *SharedStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shared[block]
	if !ok {
		s = newSharedStore()
		m.shared[block] = s
	}
	return s
}

// Enter wraps one execution of block. Args, context and runtime are
// deep-copied so the invocation never observes later changes by the caller
// or by sibling invocations. A nil scope.State gets a fresh ScratchState.
func (m *Manager) Enter(block string, fields Fields, scope Scope) *Invocation {
	st := scope.State
	if st == nil {
		st = NewScratchState(nil)
	}
	return &Invocation{
		block:   block,
		fields:  fields,
		state:   st,
		args:    copyOrEmpty(scope.Args),
		context: copyOrEmpty(scope.Context),
		runtime: copyOrEmpty(scope.Runtime),
		shared:  m.Shared(block),
	}
}

// Invocation is the isolation boundary of one block execution. Reads and
// writes go through declared roles: state fields hit the StateManager,
// args/context/runtime are read-only, shared fields hit the block's
// SharedStore, and undeclared fields are rejected.
type Invocation struct {
	block   string
	fields  Fields
	state   StateManager
	args    map[string]any
	context map[string]any
	runtime map[string]any
	shared  *SharedStore
}

// Block returns the name of the block being executed.
func (inv *Invocation) Block() string { return inv.block }

// Get reads a declared field.
func (inv *Invocation) Get(field string) (any, error) {
	role, ok := inv.fields.RoleOf(field)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeIsolationViolation,
			"field %q is not declared on block %q", field, inv.block).
			WithDetails(map[string]any{"field": field, "block": inv.block})
	}

	switch role {
	case RoleState:
		v, _ := inv.state.Get(field)
		return v, nil
	case RoleArgs:
		return expressions.DeepCopy(inv.args[field]), nil
	case RoleContext:
		return expressions.DeepCopy(inv.context[field]), nil
	case RoleRuntime:
		return expressions.DeepCopy(inv.runtime[field]), nil
	default:
		v, _ := inv.shared.Get(field)
		return v, nil
	}
}

// Set writes a declared state or shared field.
func (inv *Invocation) Set(field string, value any) error {
	role, ok := inv.fields.RoleOf(field)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeIsolationViolation,
			"cannot write undeclared field %q on block %q; declare it as state (per execution) or shared (process-wide)",
			field, inv.block).
			WithDetails(map[string]any{"field": field, "block": inv.block})
	}

	switch role {
	case RoleState:
		return inv.state.Set(field, value)
	case RoleShared:
		inv.shared.Set(field, value)
		return nil
	default:
		return schema.NewErrorf(schema.ErrCodeIsolationViolation,
			"field %q is declared as %s and is read-only during execution", field, role).
			WithDetails(map[string]any{"field": field, "block": inv.block, "role": string(role)})
	}
}

// Args returns a copy of every argument.
func (inv *Invocation) Args() map[string]any { return expressions.DeepCopyMap(inv.args) }

// Context returns a copy of the context.
func (inv *Invocation) Context() map[string]any { return expressions.DeepCopyMap(inv.context) }

// Runtime returns a copy of the runtime data.
func (inv *Invocation) Runtime() map[string]any { return expressions.DeepCopyMap(inv.runtime) }

// Namespace returns a copy of the declared fields of a read-only role.
// Keys the block did not declare are left out; FieldAll declares them all.
func (inv *Invocation) Namespace(role Role) map[string]any {
	var (
		src   map[string]any
		names []string
	)
	switch role {
	case RoleArgs:
		src, names = inv.args, inv.fields.Args
	case RoleContext:
		src, names = inv.context, inv.fields.Context
	case RoleRuntime:
		src, names = inv.runtime, inv.fields.Runtime
	default:
		return map[string]any{}
	}
	if slices.Contains(names, FieldAll) {
		return expressions.DeepCopyMap(src)
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := src[name]; ok {
			out[name] = expressions.DeepCopy(v)
		}
	}
	return out
}

// Shared returns the block's shared store for atomic updates.
func (inv *Invocation) Shared() *SharedStore { return inv.shared }

// State returns the invocation's state manager.
func (inv *Invocation) State() StateManager { return inv.state }

func copyOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return expressions.DeepCopyMap(m)
}
