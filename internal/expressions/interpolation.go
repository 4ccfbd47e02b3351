package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/waypoint/pkg/schema"
)

const (
	exprOpen  = "${{"
	exprClose = "}}"
)

// renderEmbedded evaluates every ${{ }} occurrence inside a larger string and
// splices the results in. Strings are inserted verbatim; other values use
// their JSON form.
func (e *Evaluator) renderEmbedded(ctx context.Context, input string, data map[string]any, helpers Helpers) (string, error) {
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], exprOpen)
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + len(exprOpen)

		end := strings.Index(input[start:], exprClose)
		if end == -1 {
			return "", schema.NewErrorf(schema.ErrCodeInvalidFormat, "unclosed %s in %q", exprOpen, input)
		}
		end += start

		body := input[start:end]
		if strings.Contains(body, exprOpen) {
			return "", schema.NewErrorf(schema.ErrCodeInvalidFormat,
				"nested %s is not allowed in %q", exprOpen, input)
		}

		val, err := e.exprs.Evaluate(ctx, body, data, helpers)
		if err != nil {
			return "", err
		}
		result.WriteString(marshalInline(val))

		i = end + len(exprClose)
	}

	return result.String(), nil
}

// marshalInline converts an evaluated value into its inline text form.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int, int64, float64:
		return fmt.Sprintf("%v", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
