package tools

import (
	"context"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/pkg/schema"
)

// ValueTools returns the tools that produce or inspect plain values.
func ValueTools(validator SchemaValidator) []Tool {
	return []Tool{
		&createValueTool{base{
			name: "CreateValue",
			schema: Schema{
				Description: "Return args.input unchanged",
				Fields:      isolation.Fields{Args: []string{"input"}},
			},
			validator: validator,
		}},
		&assertTool{base{
			name: "assert",
			schema: Schema{
				Description: "Fail the call when condition is falsy",
				Args: obj(map[string]any{
					"condition": map[string]any{},
					"message":   map[string]any{"type": "string"},
				}, "condition"),
				Fields: isolation.Fields{Args: []string{"condition", "message"}},
			},
			validator: validator,
		}},
		&stateGetTool{base{
			name: "state.get",
			schema: Schema{
				Description: "Read a key from the invocation context or runtime data",
				Args: obj(map[string]any{
					"from": map[string]any{"enum": []any{"context", "runtime"}},
					"key":  map[string]any{"type": "string", "minLength": 1},
				}, "key"),
				Fields: isolation.Fields{
					Args:    []string{"from", "key"},
					Context: []string{isolation.FieldAll},
					Runtime: runtimeFields,
				},
			},
			validator: validator,
		}},
		&counterTool{base{
			name: "counter.increment",
			schema: Schema{
				Description: "Atomically increment a process-wide counter and return its new value",
				Args: obj(map[string]any{
					"key": map[string]any{"type": "string", "minLength": 1},
					"by":  map[string]any{"type": "number"},
				}, "key"),
				Fields: isolation.Fields{Args: []string{"key", "by"}},
			},
			validator: validator,
		}},
	}
}

// --- CreateValue ---

type createValueTool struct{ base }

func (t *createValueTool) Execute(_ context.Context, inv *isolation.Invocation) (*schema.ToolResult, error) {
	v, err := inv.Get("input")
	if err != nil {
		return nil, err
	}
	return &schema.ToolResult{Data: v}, nil
}

// --- assert ---

type assertTool struct{ base }

type assertArgs struct {
	Condition any    `mapstructure:"condition"`
	Message   string `mapstructure:"message"`
}

func (t *assertTool) Execute(_ context.Context, inv *isolation.Invocation) (*schema.ToolResult, error) {
	var args assertArgs
	if err := t.decode(inv, &args); err != nil {
		return nil, err
	}
	if expressions.Truthy(args.Condition) {
		return &schema.ToolResult{Data: map[string]any{"pass": true}}, nil
	}
	msg := args.Message
	if msg == "" {
		msg = "assertion failed"
	}
	return nil, schema.NewError(schema.ErrCodeExecution, msg).
		WithDetails(map[string]any{"condition": args.Condition})
}

// --- state.get ---

type stateGetTool struct{ base }

type stateGetArgs struct {
	From string `mapstructure:"from"`
	Key  string `mapstructure:"key"`
}

func (t *stateGetTool) Execute(_ context.Context, inv *isolation.Invocation) (*schema.ToolResult, error) {
	var args stateGetArgs
	if err := t.decode(inv, &args); err != nil {
		return nil, err
	}
	src := inv.Namespace(isolation.RoleRuntime)
	if args.From == "context" {
		src = inv.Namespace(isolation.RoleContext)
	}
	return &schema.ToolResult{Data: src[args.Key]}, nil
}

// --- counter.increment ---

type counterTool struct{ base }

type counterArgs struct {
	Key string   `mapstructure:"key"`
	By  *float64 `mapstructure:"by"`
}

func (t *counterTool) Execute(_ context.Context, inv *isolation.Invocation) (*schema.ToolResult, error) {
	var args counterArgs
	if err := t.decode(inv, &args); err != nil {
		return nil, err
	}
	by := 1.0
	if args.By != nil {
		by = *args.By
	}
	next := inv.Shared().Update(args.Key, func(cur any, ok bool) any {
		n, _ := cur.(float64)
		return n + by
	})
	return &schema.ToolResult{Data: next}, nil
}
