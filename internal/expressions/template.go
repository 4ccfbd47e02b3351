package expressions

import (
	"context"
	"slices"
	"sync"

	"github.com/aymerick/raymond"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/rendis/waypoint/pkg/schema"
)

const (
	// MaxTemplateLength bounds template source size.
	MaxTemplateLength = 10000
	// DefaultTemplateCacheSize is the number of compiled templates kept.
	DefaultTemplateCacheSize = 256
)

// reservedHelpers are the built-in control helpers callers cannot replace.
var reservedHelpers = []string{"if", "unless", "each", "with", "lookup", "log", "equal"}

// TemplateLanguage renders handlebars templates ({{state.name}}) with
// aymerick/raymond. Output is HTML-escaped as in handlebars; triple braces
// ({{{value}}}) emit raw text.
//
// Compiled templates live in a bounded cache keyed by namespace and source.
// Eviction drops the oldest insertion; lookups do not refresh entries.
type TemplateLanguage struct {
	size int

	mu    sync.Mutex
	cache *orderedmap.OrderedMap[string, *raymond.Template]
}

// NewTemplateLanguage creates a template language caching up to size
// compiled templates. Non-positive sizes use DefaultTemplateCacheSize.
func NewTemplateLanguage(size int) *TemplateLanguage {
	if size <= 0 {
		size = DefaultTemplateCacheSize
	}
	return &TemplateLanguage{
		size:  size,
		cache: orderedmap.New[string, *raymond.Template](),
	}
}

// Name returns the engine identifier.
func (t *TemplateLanguage) Name() string {
	return "template"
}

// Render executes source against data. helpers are registered on a private
// clone of the cached template, so they never leak into other calls.
func (t *TemplateLanguage) Render(ctx context.Context, source string, data map[string]any, helpers Helpers, namespace string) (string, error) {
	if len(source) > MaxTemplateLength {
		return "", schema.NewErrorf(schema.ErrCodeExpressionTooLong,
			"template is %d characters long; the limit is %d", len(source), MaxTemplateLength).
			WithDetails(map[string]any{"length": len(source), "limit": MaxTemplateLength})
	}
	for name := range helpers {
		if slices.Contains(reservedHelpers, name) {
			return "", schema.NewErrorf(schema.ErrCodeEvaluationError,
				"helper %q is reserved and cannot be overridden", name).
				WithDetails(map[string]any{"helper": name})
		}
	}

	tpl, err := t.compile(source, namespace)
	if err != nil {
		return "", err
	}

	if len(helpers) > 0 {
		tpl = tpl.Clone()
		if err := registerHelpers(tpl, helpers); err != nil {
			return "", err
		}
	}

	out, err := tpl.Exec(data)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeEvaluationError,
			"template rendering failed: %s", err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"template": source})
	}
	return out, nil
}

// Len returns the number of cached templates.
func (t *TemplateLanguage) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}

func (t *TemplateLanguage) compile(source, namespace string) (*raymond.Template, error) {
	key := namespace + "\x00" + source

	t.mu.Lock()
	defer t.mu.Unlock()

	if tpl, ok := t.cache.Get(key); ok {
		return tpl, nil
	}

	tpl, err := raymond.Parse(source)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeEvaluationError,
			"template does not compile: %s", err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"template": source})
	}

	for t.cache.Len() >= t.size {
		oldest := t.cache.Oldest()
		if oldest == nil {
			break
		}
		t.cache.Delete(oldest.Key)
	}
	t.cache.Set(key, tpl)
	return tpl, nil
}

// registerHelpers converts raymond's registration panics (non-function
// helpers, wrong return arity) into errors.
func registerHelpers(tpl *raymond.Template, helpers Helpers) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeEvaluationError, "invalid template helper: %v", r)
		}
	}()
	m := make(map[string]any, len(helpers))
	for name, fn := range helpers {
		if fn == nil {
			return schema.NewErrorf(schema.ErrCodeEvaluationError, "helper %q is nil", name)
		}
		m[name] = fn
	}
	tpl.RegisterHelpers(m)
	return nil
}
