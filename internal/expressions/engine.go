package expressions

import "context"

// Engine evaluates a standalone query language against a data document.
// CEL and jq implement it for the cel.eval and jq tools.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
