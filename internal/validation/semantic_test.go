package validation

import (
	"testing"

	"github.com/rendis/waypoint/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockToolLookup struct {
	registered map[string]bool
}

func (m *mockToolLookup) Has(name string) bool { return m.registered[name] }

func newMockLookup(names ...string) *mockToolLookup {
	m := &mockToolLookup{registered: make(map[string]bool)}
	for _, n := range names {
		m.registered[n] = true
	}
	return m
}

func TestSemantic_Valid(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name:   "demo",
		Places: []string{"mid"},
		Transitions: []schema.Transition{
			{ID: "a", From: schema.FromPlaces{"start"}, To: "mid", Call: []schema.ToolCall{{Tool: "CreateValue"}}},
			{ID: "b", From: schema.FromPlaces{"*"}, To: "end"},
		},
	}
	result := validateSemantic(def, newMockLookup("CreateValue"))
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestSemantic_Errors(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name:   "demo",
		Places: []string{"mid", "*"},
		Transitions: []schema.Transition{
			{ID: "a", From: schema.FromPlaces{"nowhere"}, To: "ghost", OnError: "limbo"},
			{ID: "a", From: schema.FromPlaces{"start"}, To: "end", Call: []schema.ToolCall{{Tool: "missing"}}},
			{ID: schema.TransitionInvalidation, From: schema.FromPlaces{"mid"}, To: "end"},
		},
	}
	result := validateSemantic(def, newMockLookup())

	paths := make(map[string]string)
	for _, e := range result.Errors {
		paths[e.Path] = e.Code
	}
	assert.Contains(t, paths, "places[1]")
	assert.Contains(t, paths, "transitions[0].from[0]")
	assert.Contains(t, paths, "transitions[0].to")
	assert.Contains(t, paths, "transitions[0].onError")
	assert.Contains(t, paths, "transitions[1].id")
	assert.Contains(t, paths, "transitions[2].id")
	assert.Equal(t, schema.ErrCodeToolNotFound, paths["transitions[1].call[0].tool"])
}

func TestSemantic_Warnings(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name:   "demo",
		Places: []string{"start"},
		Transitions: []schema.Transition{
			{ID: "a", From: schema.FromPlaces{"start"}, To: "end", Trigger: schema.TriggerManual, If: "${{ true }}",
				Call: []schema.ToolCall{{ID: "x", Tool: "t"}, {ID: "x", Tool: "t"}}},
		},
	}
	result := validateSemantic(def, nil)
	require.True(t, result.Valid(), "nil lookup skips tool checks")
	assert.Len(t, result.Warnings, 3)
}

func TestGraph_Reachability(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name:   "demo",
		Places: []string{"mid", "island", "failed"},
		Transitions: []schema.Transition{
			{ID: "a", From: schema.FromPlaces{"start"}, To: "mid", OnError: "failed"},
			{ID: "b", From: schema.FromPlaces{"island"}, To: "end"},
		},
	}
	result := validateGraph(def)
	require.True(t, result.Valid())
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0].Message, `"island"`)
	assert.Contains(t, result.Warnings[1].Message, `"end"`)
}

func TestGraph_WildcardReachesEverything(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name:   "demo",
		Places: []string{"a"},
		Transitions: []schema.Transition{
			{ID: "x", From: schema.FromPlaces{"start"}, To: "a"},
			{ID: "y", From: schema.FromPlaces{"*"}, To: "end"},
		},
	}
	assert.Empty(t, validateGraph(def).Warnings)
}
