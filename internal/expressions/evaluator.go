package expressions

import (
	"context"
	"strconv"
	"strings"

	"github.com/rendis/waypoint/pkg/schema"
)

// Kind is the sub-language a string value is written in.
type Kind int

const (
	// KindLiteral values are returned unchanged.
	KindLiteral Kind = iota
	// KindExpression is a whole-value ${{ body }}; its result keeps its type.
	KindExpression
	// KindEmbedded strings contain ${{ body }} among other text.
	KindEmbedded
	// KindTemplate strings contain handlebars {{ }} tags.
	KindTemplate
)

func (k Kind) String() string {
	switch k {
	case KindExpression:
		return "expression"
	case KindEmbedded:
		return "embedded"
	case KindTemplate:
		return "template"
	default:
		return "literal"
	}
}

// Classify picks the sub-language for s by its delimiters.
func Classify(s string) Kind {
	trimmed := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(trimmed, exprOpen) && strings.HasSuffix(trimmed, exprClose) &&
		strings.Count(trimmed, exprOpen) == 1 && len(trimmed) >= len(exprOpen)+len(exprClose):
		return KindExpression
	case strings.Contains(s, exprOpen):
		return KindEmbedded
	case strings.Contains(s, "{{"):
		return KindTemplate
	default:
		return KindLiteral
	}
}

// SchemaValidator validates a value against a JSON Schema document.
type SchemaValidator interface {
	Validate(value any, schemaDoc any) error
}

// Options tune a single evaluation.
type Options struct {
	// Helpers are callable from ${{ }} expressions.
	Helpers Helpers
	// TemplateHelpers are handlebars helpers callable from templates.
	TemplateHelpers Helpers
	// CacheNamespace partitions the compiled template cache.
	CacheNamespace string
	// ResultSchema, when set, must accept the fully evaluated value.
	ResultSchema any
}

// Evaluator dispatches string values to the expression or template language.
// It is safe for concurrent use.
type Evaluator struct {
	exprs     *ExprLanguage
	templates *TemplateLanguage
	schemas   SchemaValidator
}

// NewEvaluator creates an Evaluator. schemas may be nil when no caller uses
// Options.ResultSchema.
func NewEvaluator(schemas SchemaValidator, templateCacheSize int) *Evaluator {
	return &Evaluator{
		exprs:     NewExprLanguage(),
		templates: NewTemplateLanguage(templateCacheSize),
		schemas:   schemas,
	}
}

// Expressions exposes the expression language.
func (e *Evaluator) Expressions() *ExprLanguage { return e.exprs }

// Templates exposes the template language.
func (e *Evaluator) Templates() *TemplateLanguage { return e.templates }

// Evaluate resolves one string value.
func (e *Evaluator) Evaluate(ctx context.Context, s string, data map[string]any, opts Options) (any, error) {
	switch Classify(s) {
	case KindExpression:
		trimmed := strings.TrimSpace(s)
		body := trimmed[len(exprOpen) : len(trimmed)-len(exprClose)]
		return e.exprs.Evaluate(ctx, body, data, opts.Helpers)
	case KindEmbedded:
		return e.renderEmbedded(ctx, s, data, opts.Helpers)
	case KindTemplate:
		return e.templates.Render(ctx, s, data, opts.TemplateHelpers, opts.CacheNamespace)
	default:
		return s, nil
	}
}

// EvaluateDeep walks value, evaluating every string leaf inside slices and
// maps. Other leaves pass through. The input is never mutated.
func (e *Evaluator) EvaluateDeep(ctx context.Context, value any, data map[string]any, opts Options) (any, error) {
	out, err := e.evaluateDeep(ctx, value, data, opts)
	if err != nil {
		return nil, err
	}
	if opts.ResultSchema != nil {
		if e.schemas == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "result schema given but no schema validator configured")
		}
		if err := e.schemas.Validate(out, opts.ResultSchema); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Evaluator) evaluateDeep(ctx context.Context, value any, data map[string]any, opts Options) (any, error) {
	switch v := value.(type) {
	case string:
		return e.Evaluate(ctx, v, data, opts)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			res, err := e.evaluateDeep(ctx, item, data, opts)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			res, err := e.evaluateDeep(ctx, item, data, opts)
			if err != nil {
				return nil, err
			}
			out[k] = res
		}
		return out, nil
	default:
		return value, nil
	}
}

// EvaluateCondition resolves a transition guard. Absent conditions hold;
// booleans are taken as is; strings are evaluated and their result judged
// by Truthy.
func (e *Evaluator) EvaluateCondition(ctx context.Context, cond any, data map[string]any, opts Options) (bool, error) {
	switch c := cond.(type) {
	case nil:
		return true, nil
	case bool:
		return c, nil
	case string:
		out, err := e.Evaluate(ctx, c, data, opts)
		if err != nil {
			return false, err
		}
		return Truthy(out), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeInvalidFormat,
			"condition must be a boolean or a string, got %T", cond)
	}
}

// Truthy reports whether an evaluated value counts as true. Rendered
// template strings "false", "0" and "" are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		s := strings.TrimSpace(val)
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return s != "" && s != "null"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
