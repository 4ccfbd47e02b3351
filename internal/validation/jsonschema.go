package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/waypoint/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// workflowSchemaURL identifies the embedded definition schema in the compiler.
const workflowSchemaURL = "https://waypoint.dev/schemas/workflow.json"

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://waypoint.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "transitions"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "places": {
      "type": "array",
      "uniqueItems": true,
      "items": { "type": "string", "minLength": 1 }
    },
    "transitions": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/transition" }
    },
    "stateSchema": { "type": "object" },
    "argsSchema": { "type": "object" },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "transition": {
      "type": "object",
      "required": ["id", "from", "to"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "from": {
          "type": "array",
          "minItems": 1,
          "items": { "type": "string", "minLength": 1 }
        },
        "to": { "type": "string", "minLength": 1 },
        "trigger": { "type": "string", "enum": ["manual", "onEntry"] },
        "if": { "type": ["boolean", "string"] },
        "onError": { "type": "string", "minLength": 1 },
        "call": {
          "type": "array",
          "items": { "$ref": "#/$defs/toolCall" }
        }
      },
      "additionalProperties": false
    },
    "toolCall": {
      "type": "object",
      "required": ["tool"],
      "properties": {
        "id": { "type": "string" },
        "tool": { "type": "string", "minLength": 1 },
        "args": {},
        "assign": {
          "type": "object",
          "additionalProperties": { "type": "string", "minLength": 1 }
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates workflow definitions and arbitrary values
// against JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	// mu guards the compiled schema cache.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a new JSONSchemaValidator with the workflow schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		workflowSchema: wfSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition checks the shape of a WorkflowDefinition.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}

	if err := v.workflowSchema.Validate(doc); err != nil {
		return toWaypointError(err)
	}
	return nil
}

// Validate checks value against schemaDoc. schemaDoc may be a decoded
// document (map[string]any), raw JSON bytes, or nil for no validation.
func (v *JSONSchemaValidator) Validate(value any, schemaDoc any) error {
	key, err := schemaKey(schemaDoc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid schema").WithCause(err)
	}
	if key == "" {
		return nil
	}

	compiled, err := v.getOrCompile(key)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid schema").WithCause(err)
	}

	doc, err := toJSONValue(value)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize value").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toWaypointError(err)
	}
	return nil
}

// ObjectValidator returns a function validating whole objects against
// schemaDoc, or nil when schemaDoc is empty. Compilation errors surface
// immediately so that broken schemas fail at registration.
func (v *JSONSchemaValidator) ObjectValidator(schemaDoc any) (func(map[string]any) error, error) {
	key, err := schemaKey(schemaDoc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid schema").WithCause(err)
	}
	if key == "" {
		return nil, nil
	}
	if _, err := v.getOrCompile(key); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid schema").WithCause(err)
	}
	return func(obj map[string]any) error {
		if obj == nil {
			obj = map[string]any{}
		}
		return v.Validate(obj, json.RawMessage(key))
	}, nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(key string) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Fresh compiler and URL per schema so resources never collide.
	url := fmt.Sprintf("waypoint://schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// schemaKey normalizes a schema document to its JSON text. Maps are
// marshaled with sorted keys, so equal documents share a cache entry.
func schemaKey(schemaDoc any) (string, error) {
	switch s := schemaDoc.(type) {
	case nil:
		return "", nil
	case []byte:
		return string(s), nil
	case json.RawMessage:
		return string(s), nil
	case string:
		return s, nil
	case map[string]any:
		if len(s) == 0 {
			return "", nil
		}
	}
	b, err := json.Marshal(schemaDoc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toWaypointError converts a jsonschema.ValidationError into a WaypointError
// listing every leaf violation with its instance location.
func toWaypointError(err error) *schema.WaypointError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
