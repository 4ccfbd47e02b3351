package tools

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/pkg/schema"
)

// Fan-out modes.
const (
	FanoutParallel   = "parallel"
	FanoutSequential = "sequential"
)

// ChildResult is the outcome of one child workflow run. Error and Code are
// set on the child a sequential fan-out stopped at.
type ChildResult struct {
	Key   string         `json:"key"`
	Place string         `json:"place"`
	State map[string]any `json:"state"`
	Error string         `json:"error,omitempty"`
	Code  string         `json:"code,omitempty"`
}

// ChildRunner runs one child workflow instance to completion. The engine
// satisfies this after construction (late-bind).
type ChildRunner func(ctx context.Context, workflow, key string, args map[string]any) (*ChildResult, error)

// RegisterFanout registers workflow.fanout. limit bounds parallel children;
// zero or less means one at a time.
func RegisterFanout(reg *Registry, run ChildRunner, limit int, validator SchemaValidator) error {
	return reg.Register(NewFanoutTool(run, limit, validator))
}

// NewFanoutTool creates the workflow.fanout tool.
func NewFanoutTool(run ChildRunner, limit int, validator SchemaValidator) Tool {
	if limit <= 0 {
		limit = 1
	}
	return &fanoutTool{
		base: base{
			name: "workflow.fanout",
			schema: Schema{
				Description: "Run a child workflow once per item, in parallel or sequentially",
				Args: obj(map[string]any{
					"workflow": map[string]any{"type": "string", "minLength": 1},
					"mode":     map[string]any{"enum": []any{FanoutParallel, FanoutSequential}},
					"items": map[string]any{
						"type": "array",
						"items": obj(map[string]any{
							"key":  map[string]any{"type": "string"},
							"args": map[string]any{"type": "object"},
						}),
					},
				}, "workflow", "items"),
				Fields: isolation.Fields{
					Args:    []string{"workflow", "mode", "items"},
					Runtime: []string{RuntimeInstance},
				},
			},
			validator: validator,
		},
		run:   run,
		limit: limit,
	}
}

type fanoutTool struct {
	base
	run   ChildRunner
	limit int
}

type fanoutItem struct {
	Key  string         `mapstructure:"key"`
	Args map[string]any `mapstructure:"args"`
}

type fanoutArgs struct {
	Workflow string       `mapstructure:"workflow"`
	Mode     string       `mapstructure:"mode"`
	Items    []fanoutItem `mapstructure:"items"`
}

func (t *fanoutTool) Execute(ctx context.Context, inv *isolation.Invocation) (*schema.ToolResult, error) {
	if t.run == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "workflow.fanout: child runner not configured")
	}

	var args fanoutArgs
	if err := t.decode(inv, &args); err != nil {
		return nil, err
	}

	instance, err := inv.Get(RuntimeInstance)
	if err != nil {
		return nil, err
	}
	parent, _ := instance.(string)
	keys := make([]string, len(args.Items))
	for i, item := range args.Items {
		key := item.Key
		if key == "" {
			key = fmt.Sprintf("%d", i)
		}
		keys[i] = fmt.Sprintf("%s/%s/%s", parent, args.Workflow, key)
	}

	var children []*ChildResult
	if args.Mode == FanoutSequential {
		children, err = t.sequential(ctx, args, keys)
	} else {
		children, err = t.parallel(ctx, args, keys)
	}
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(children))
	for _, c := range children {
		child := map[string]any{"key": c.Key, "place": c.Place, "state": c.State}
		if c.Error != "" {
			child["error"] = c.Error
			child["code"] = c.Code
		}
		out = append(out, child)
	}
	return &schema.ToolResult{Data: map[string]any{"children": out}}, nil
}

// sequential stops at the first failing child or the first child whose
// state carries stop: true. A failing child ends the list with its error;
// the children before it keep their results.
func (t *fanoutTool) sequential(ctx context.Context, args fanoutArgs, keys []string) ([]*ChildResult, error) {
	var out []*ChildResult
	for i, item := range args.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := t.run(ctx, args.Workflow, keys[i], item.Args)
		if err != nil {
			code := schema.CodeOf(err)
			if code == "" {
				code = schema.ErrCodeExecution
			}
			out = append(out, &ChildResult{Key: keys[i], Error: err.Error(), Code: code})
			break
		}
		out = append(out, res)
		if stop, _ := res.State["stop"].(bool); stop {
			break
		}
	}
	return out, nil
}

func (t *fanoutTool) parallel(ctx context.Context, args fanoutArgs, keys []string) ([]*ChildResult, error) {
	out := make([]*ChildResult, len(args.Items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.limit)
	for i, item := range args.Items {
		g.Go(func() error {
			res, err := t.run(gctx, args.Workflow, keys[i], item.Args)
			if err != nil {
				return childError(keys[i], err)
			}
			mu.Lock()
			out[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func childError(key string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExecution, "workflow.fanout: child %s failed: %v", key, err).
		WithCause(err).
		WithDetails(map[string]any{"child": key})
}
