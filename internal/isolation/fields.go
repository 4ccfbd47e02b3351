// Package isolation gives every execution of a stateless block its own
// view of state, arguments, context and runtime data, while fields declared
// shared stay process-wide.
package isolation

import "slices"

// Role is how a block declares a field.
type Role string

const (
	RoleState   Role = "state"
	RoleArgs    Role = "args"
	RoleContext Role = "context"
	RoleRuntime Role = "runtime"
	RoleShared  Role = "shared"
)

// FieldAll declared under args, context or runtime lets Namespace return
// every key of that role. Get still resolves names one by one.
const FieldAll = "*"

// Fields declares a block's fields by role. A field name may appear under
// one role only; the first match in the order below wins.
type Fields struct {
	State   []string `json:"state,omitempty" yaml:"state,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Context []string `json:"context,omitempty" yaml:"context,omitempty"`
	Runtime []string `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Shared  []string `json:"shared,omitempty" yaml:"shared,omitempty"`
}

// RoleOf returns the role field is declared with.
func (f Fields) RoleOf(field string) (Role, bool) {
	switch {
	case slices.Contains(f.State, field):
		return RoleState, true
	case slices.Contains(f.Args, field):
		return RoleArgs, true
	case slices.Contains(f.Context, field):
		return RoleContext, true
	case slices.Contains(f.Runtime, field):
		return RoleRuntime, true
	case slices.Contains(f.Shared, field):
		return RoleShared, true
	default:
		return "", false
	}
}
