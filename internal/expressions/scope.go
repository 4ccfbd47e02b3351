package expressions

import "encoding/json"

// Namespaces every evaluation scope exposes.
const (
	NamespaceState   = "state"
	NamespaceArgs    = "args"
	NamespaceContext = "context"
	NamespaceRuntime = "runtime"
	NamespaceResult  = "result"
)

// Scope is the data visible to conditions and tool arguments while a
// transition runs. State is the live snapshot; the other parts are frozen
// for the whole run.
type Scope struct {
	State   map[string]any
	Args    map[string]any
	Context map[string]any
	Runtime map[string]any
}

// NewScope builds a Scope whose args, context and runtime are deep copies,
// so later mutation by the caller never leaks into evaluation.
func NewScope(state, args, context, runtime map[string]any) *Scope {
	return &Scope{
		State:   state,
		Args:    DeepCopyMap(args),
		Context: DeepCopyMap(context),
		Runtime: DeepCopyMap(runtime),
	}
}

// WithState returns a copy of the scope pointing at a new state snapshot.
func (s *Scope) WithState(state map[string]any) *Scope {
	cp := *s
	cp.State = state
	return &cp
}

// Data renders the scope as the evaluation environment. Missing parts are
// empty maps so property access on them yields nil instead of an error.
func (s *Scope) Data() map[string]any {
	return map[string]any{
		NamespaceState:   orEmpty(s.State),
		NamespaceArgs:    orEmpty(s.Args),
		NamespaceContext: orEmpty(s.Context),
		NamespaceRuntime: orEmpty(s.Runtime),
	}
}

// ResultData is the environment for assign expressions.
func ResultData(result any) map[string]any {
	return map[string]any{NamespaceResult: result}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// DeepCopyMap creates a deep copy of a map[string]any.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = DeepCopy(v)
	}
	return cp
}

// DeepCopy recursively copies maps and slices decoded from JSON or YAML.
// Other values are returned as is.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		if val == nil {
			return []any(nil)
		}
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = DeepCopy(item)
		}
		return cp
	case []map[string]any:
		cp := make([]map[string]any, len(val))
		for i, item := range val {
			cp[i] = DeepCopyMap(item)
		}
		return cp
	case []string:
		return append([]string(nil), val...)
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
