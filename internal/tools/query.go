package tools

import (
	"context"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/pkg/schema"
)

// QueryTools returns the tools evaluating a query language over args.input.
func QueryTools(validator SchemaValidator) ([]Tool, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "cel.eval: create engine").WithCause(err)
	}

	return []Tool{
		&exprEvalTool{
			base: base{
				name:      "expr.eval",
				schema:    querySchema("Evaluate an expr-lang expression over input, context and runtime", "expression"),
				validator: validator,
			},
			lang: expressions.NewExprLanguage(),
		},
		&engineTool{
			base: base{
				name:      "jq",
				schema:    querySchema("Run a jq query over {input, context, runtime}", "query"),
				validator: validator,
			},
			field:  "query",
			engine: expressions.NewGoJQEngine(),
		},
		&engineTool{
			base: base{
				name:      "cel.eval",
				schema:    querySchema("Evaluate a CEL expression over input, context and runtime", "expression"),
				validator: validator,
			},
			field:  "expression",
			engine: celEngine,
		},
	}, nil
}

func querySchema(desc, field string) Schema {
	return Schema{
		Description: desc,
		Args: obj(map[string]any{
			field:   map[string]any{"type": "string", "minLength": 1},
			"input": map[string]any{},
		}, field),
		Fields: isolation.Fields{
			Args:    []string{field, "input"},
			Context: []string{isolation.FieldAll},
			Runtime: runtimeFields,
		},
	}
}

// queryData is the document every query tool evaluates against.
func queryData(inv *isolation.Invocation, input any) map[string]any {
	return map[string]any{
		"input":                      input,
		expressions.NamespaceContext: inv.Namespace(isolation.RoleContext),
		expressions.NamespaceRuntime: inv.Namespace(isolation.RoleRuntime),
	}
}

// --- expr.eval ---

type exprEvalTool struct {
	base
	lang *expressions.ExprLanguage
}

type exprArgs struct {
	Expression string `mapstructure:"expression"`
	Input      any    `mapstructure:"input"`
}

func (t *exprEvalTool) Execute(ctx context.Context, inv *isolation.Invocation) (*schema.ToolResult, error) {
	var args exprArgs
	if err := t.decode(inv, &args); err != nil {
		return nil, err
	}
	out, err := t.lang.Evaluate(ctx, args.Expression, queryData(inv, args.Input), nil)
	if err != nil {
		return nil, err
	}
	return &schema.ToolResult{Data: out}, nil
}

// --- jq, cel.eval ---

type engineTool struct {
	base
	field  string
	engine expressions.Engine
}

func (t *engineTool) Execute(ctx context.Context, inv *isolation.Invocation) (*schema.ToolResult, error) {
	args := inv.Namespace(isolation.RoleArgs)
	query, _ := args[t.field].(string)
	out, err := t.engine.Evaluate(ctx, query, queryData(inv, args["input"]))
	if err != nil {
		return nil, err
	}
	return &schema.ToolResult{Data: out}, nil
}
