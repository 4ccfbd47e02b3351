package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/rendis/waypoint/internal/validation"
	"github.com/rendis/waypoint/pkg/schema"
)

// Registry is a thread-safe set of workflow blocks keyed by name.
type Registry struct {
	mu        sync.RWMutex
	blocks    map[string]*Block
	validator *validation.WorkflowValidator
	logger    *slog.Logger
}

// New creates an empty Registry that validates every block with v.
func New(v *validation.WorkflowValidator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		blocks:    make(map[string]*Block),
		validator: v,
		logger:    logger,
	}
}

// Register validates b, compiles its schemas and stores it. Validation
// warnings are logged; errors reject the block.
func (r *Registry) Register(b Block) (*Block, error) {
	if b.Definition == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "block has no definition")
	}
	def := b.Definition

	result := r.validator.Validate(def)
	for _, w := range result.Warnings {
		r.logger.Warn("workflow definition warning", "workflow", def.Name, "path", w.Path, "message", w.Message)
	}
	if err := result.ToError(); err != nil {
		return nil, err
	}

	schemas := r.validator.Schemas()
	stateValidator, err := schemas.ObjectValidator(def.StateSchema)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q: stateSchema", def.Name).WithCause(err)
	}
	argsValidator, err := schemas.ObjectValidator(def.ArgsSchema)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q: argsSchema", def.Name).WithCause(err)
	}
	hash, err := hashDefinition(def)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q: hash definition", def.Name).WithCause(err)
	}

	blk := b
	blk.stateValidator = stateValidator
	blk.argsValidator = argsValidator
	blk.hash = hash

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.blocks[def.Name]; exists {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already registered", def.Name)
	}
	r.blocks[def.Name] = &blk
	return &blk, nil
}

// Workflow returns the block registered under name.
func (r *Registry) Workflow(name string) (*Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blocks[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not registered", name).
			WithDetails(map[string]any{"workflow": name})
	}
	return b, nil
}

// Names returns every registered workflow name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.blocks))
	for n := range r.blocks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
