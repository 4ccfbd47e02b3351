package expressions

import (
	"context"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/waypoint/pkg/schema"
)

// MaxExpressionLength bounds the body of a ${{ }} expression.
const MaxExpressionLength = 1000

// forbiddenNames are rejected anywhere in an expression body before it is
// compiled, so no expression can reach object internals.
var forbiddenNames = []string{
	"__proto__",
	"prototype",
	"constructor",
	"__defineGetter__",
	"__defineSetter__",
	"__lookupGetter__",
	"__lookupSetter__",
}

// Helpers are caller-supplied functions made available by name. Expression
// helpers may be any Go function; template helpers must follow handlebars
// helper signatures (fixed arity, optionally ending in *raymond.Options).
type Helpers map[string]any

// ExprLanguage evaluates the bodies of ${{ }} expressions with expr-lang/expr:
// property access, arithmetic, comparison, logical and ternary operators,
// literals, and helper calls. Helperless programs are compiled without a
// typed environment and cached by body, so one program serves any data.
type ExprLanguage struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprLanguage creates an expression language with an empty program cache.
func NewExprLanguage() *ExprLanguage {
	return &ExprLanguage{cache: make(map[string]*vm.Program)}
}

// Name returns the engine identifier.
func (e *ExprLanguage) Name() string {
	return "expr"
}

// Evaluate runs body against data. When helpers are supplied the body is
// compiled into a throwaway program that sees them; nothing is cached for
// that call, so helpers never carry over into later calls.
func (e *ExprLanguage) Evaluate(ctx context.Context, body string, data map[string]any, helpers Helpers) (any, error) {
	body = strings.TrimSpace(body)
	if err := CheckExpression(body); err != nil {
		return nil, err
	}

	env := make(map[string]any, len(data)+len(helpers))
	for k, v := range data {
		env[k] = v
	}

	var (
		prg *vm.Program
		err error
	)
	if len(helpers) > 0 {
		for name, fn := range helpers {
			env[name] = fn
		}
		prg, err = expr.Compile(body, expr.Env(env), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, compileError(body, err)
		}
	} else {
		prg, err = e.getOrCompile(body)
		if err != nil {
			return nil, err
		}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeEvaluationFailed,
			"expression %q failed: %s", body, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": body})
	}
	return out, nil
}

// CheckExpression applies the static sandbox rules to an expression body:
// non-empty, bounded length, no forbidden property names.
func CheckExpression(body string) error {
	if body == "" {
		return schema.NewError(schema.ErrCodeInvalidFormat, "empty expression body")
	}
	if len(body) > MaxExpressionLength {
		return schema.NewErrorf(schema.ErrCodeExpressionTooLong,
			"expression is %d characters long; the limit is %d", len(body), MaxExpressionLength).
			WithDetails(map[string]any{"length": len(body), "limit": MaxExpressionLength})
	}
	for _, name := range forbiddenNames {
		if strings.Contains(body, name) {
			return schema.NewErrorf(schema.ErrCodeForbiddenProperty,
				"expression references forbidden property %q", name).
				WithDetails(map[string]any{"expression": body, "property": name})
		}
	}
	return nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *ExprLanguage) getOrCompile(body string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[body]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[body]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(body)
	if err != nil {
		return nil, compileError(body, err)
	}

	e.cache[body] = prg
	return prg, nil
}

func compileError(body string, err error) error {
	return schema.NewErrorf(schema.ErrCodeEvaluationFailed,
		"expression %q does not compile: %s", body, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": body})
}
