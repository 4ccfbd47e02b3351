package validation

import "github.com/rendis/waypoint/pkg/schema"

// Validator checks workflow definitions before they are registered.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
}

// ToolLookup reports whether a tool name is registered.
type ToolLookup interface {
	Has(name string) bool
}
