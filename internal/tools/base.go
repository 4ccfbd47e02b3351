package tools

import (
	"github.com/mitchellh/mapstructure"

	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/pkg/schema"
)

// Keys the engine stores in every tool invocation's runtime data.
const (
	RuntimeInstance   = "instance"
	RuntimeWorkflow   = "workflow"
	RuntimeTransition = "transition"
	RuntimePlace      = "place"
	RuntimeCall       = "call"
)

var runtimeFields = []string{RuntimeInstance, RuntimeWorkflow, RuntimeTransition, RuntimePlace, RuntimeCall}

// base carries the name and schema shared by built-in tools and validates
// arguments against Schema.Args.
type base struct {
	name      string
	schema    Schema
	validator SchemaValidator
}

func (b *base) Name() string   { return b.name }
func (b *base) Schema() Schema { return b.schema }

func (b *base) Validate(args map[string]any) error {
	if b.schema.Args == nil || b.validator == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := b.validator.Validate(args, b.schema.Args); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid arguments", b.name).
			WithCause(err).
			WithDetails(map[string]any{"tool": b.name})
	}
	return nil
}

// decode copies the declared arguments of inv into out.
func (b *base) decode(inv *isolation.Invocation, out any) error {
	return decodeArgs(b.name, inv.Namespace(isolation.RoleArgs), out)
}

// decodeArgs copies loosely typed arguments into a typed struct.
func decodeArgs(tool string, args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "%s: build decoder: %v", tool, err).WithCause(err)
	}
	if err := dec.Decode(args); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: decode arguments: %v", tool, err).
			WithCause(err).
			WithDetails(map[string]any{"tool": tool})
	}
	return nil
}

func obj(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}
