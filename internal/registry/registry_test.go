package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/validation"
	"github.com/rendis/waypoint/pkg/schema"
)

type toolSet map[string]bool

func (s toolSet) Has(name string) bool { return s[name] }

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	v, err := validation.NewWorkflowValidator(toolSet{"CreateValue": true})
	require.NoError(t, err)
	return New(v, logging.NewNop())
}

func approvalDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name:   "approval",
		Places: []string{"review"},
		Transitions: []schema.Transition{
			{ID: "submit", From: schema.FromPlaces{schema.PlaceStart}, To: "review"},
			{ID: "approve", From: schema.FromPlaces{"review"}, To: schema.PlaceEnd,
				Call: []schema.ToolCall{{Tool: "CreateValue", Args: map[string]any{"input": 1}}}},
		},
		StateSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"amount": map[string]any{"type": "number"}},
		},
		ArgsSchema: map[string]any{"type": "object", "required": []any{"amount"}},
	}
}

func TestRegister_AndLookup(t *testing.T) {
	r := newRegistry(t)
	b, err := r.Register(Block{Definition: approvalDef()})
	require.NoError(t, err)
	assert.Equal(t, "approval", b.Name())
	assert.Len(t, b.DefinitionHash(), 64)

	got, err := r.Workflow("approval")
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.Equal(t, []string{"approval"}, r.Names())
}

func TestRegister_CompilesSchemas(t *testing.T) {
	r := newRegistry(t)
	b, err := r.Register(Block{Definition: approvalDef()})
	require.NoError(t, err)

	require.NotNil(t, b.StateValidator())
	assert.NoError(t, b.StateValidator()(map[string]any{"amount": 3}))
	assert.Error(t, b.StateValidator()(map[string]any{"amount": "three"}))

	assert.NoError(t, b.ValidateArgs(map[string]any{"amount": 1}))
	err = b.ValidateArgs(map[string]any{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRegister_NoSchemas(t *testing.T) {
	r := newRegistry(t)
	def := approvalDef()
	def.StateSchema = nil
	def.ArgsSchema = nil
	b, err := r.Register(Block{Definition: def})
	require.NoError(t, err)
	assert.Nil(t, b.StateValidator())
	assert.NoError(t, b.ValidateArgs(nil))
}

func TestRegister_Rejects(t *testing.T) {
	r := newRegistry(t)

	_, err := r.Register(Block{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	bad := approvalDef()
	bad.Transitions[1].Call[0].Tool = "missing"
	_, err = r.Register(Block{Definition: bad})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = r.Register(Block{Definition: approvalDef()})
	require.NoError(t, err)
	_, err = r.Register(Block{Definition: approvalDef()})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestWorkflow_NotFound(t *testing.T) {
	_, err := newRegistry(t).Workflow("nope")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

const approvalYAML = `
name: approval
places: [review]
transitions:
  - id: submit
    from: start
    to: review
  - id: approve
    from: [review]
    to: end
    call:
      - tool: CreateValue
        args:
          input: 1
`

const approvalJSON = `{
  "name": "approval",
  "places": ["review"],
  "transitions": [
    {"id": "submit", "from": "start", "to": "review"},
    {"id": "approve", "from": ["review"], "to": "end",
     "call": [{"tool": "CreateValue", "args": {"input": 1}}]}
  ]
}`

func TestParseDefinition(t *testing.T) {
	fromYAML, err := ParseDefinition([]byte(approvalYAML), ".yaml")
	require.NoError(t, err)
	fromJSON, err := ParseDefinition([]byte(approvalJSON), ".json")
	require.NoError(t, err)

	assert.Equal(t, schema.FromPlaces{schema.PlaceStart}, fromYAML.Transitions[0].From)
	assert.Equal(t, fromJSON.Transitions[1].From, fromYAML.Transitions[1].From)

	hy, err := hashDefinition(fromYAML)
	require.NoError(t, err)
	hj, err := hashDefinition(fromJSON)
	require.NoError(t, err)
	assert.Equal(t, hj, hy)
}

func TestParseDefinition_Errors(t *testing.T) {
	_, err := ParseDefinition([]byte("name: x\nbogus: 1\n"), ".yml")
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidFormat))

	_, err = ParseDefinition([]byte(`{"name":"x","bogus":1}`), ".json")
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidFormat))

	_, err = ParseDefinition([]byte("x"), ".toml")
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidFormat))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "approval.yaml"), []byte(approvalYAML), 0o644))
	other := `{"name":"other","transitions":[{"id":"go","from":"start","to":"end"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "other.json"), []byte(other), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	r := newRegistry(t)
	n, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"approval", "other"}, r.Names())
}

func TestLoadDir_BadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\ntransitions: []\n"), 0o644))

	_, err := newRegistry(t).LoadDir(dir)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Contains(t, err.Error(), "bad.yaml")
}
