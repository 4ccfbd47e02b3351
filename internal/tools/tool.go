// Package tools defines the capabilities transitions invoke and the built-in
// set every engine registers.
package tools

import (
	"context"

	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/pkg/schema"
)

// Tool is one capability callable from a transition's call list.
type Tool interface {
	Name() string
	Schema() Schema
	// Validate checks evaluated arguments before Execute runs.
	Validate(args map[string]any) error
	// Execute runs the tool. Arguments, context and runtime data are read
	// through inv; writes go to inv's state or shared fields.
	Execute(ctx context.Context, inv *isolation.Invocation) (*schema.ToolResult, error)
}

// Schema describes a tool's contract.
type Schema struct {
	Description string `json:"description,omitempty"`
	// Args is a JSON Schema the evaluated arguments must satisfy.
	Args map[string]any `json:"args,omitempty"`
	// Fields declares what the tool reads and writes through its invocation.
	Fields isolation.Fields `json:"fields,omitempty"`
}

// Info is a summary of a registered tool for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SchemaValidator validates a value against a JSON Schema document.
// *validation.JSONSchemaValidator implements it.
type SchemaValidator interface {
	Validate(value any, schemaDoc any) error
}
