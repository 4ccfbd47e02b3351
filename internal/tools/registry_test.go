package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/pkg/schema"
)

// stubTool is a minimal Tool for registry tests.
type stubTool struct {
	name string
	desc string
}

func (s *stubTool) Name() string                  { return s.name }
func (s *stubTool) Schema() Schema                { return Schema{Description: s.desc} }
func (s *stubTool) Validate(map[string]any) error { return nil }
func (s *stubTool) Execute(context.Context, *isolation.Invocation) (*schema.ToolResult, error) {
	return &schema.ToolResult{Data: true}, nil
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubTool{name: "a"}))
	assert.True(t, reg.Has("a"))
	assert.Equal(t, 1, reg.Count())

	err := reg.Register(&stubTool{name: "a"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	err = reg.Register(nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = reg.Register(&stubTool{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := NewRegistry().Get("missing")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeToolNotFound))
	assert.Contains(t, err.Error(), "missing")
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubTool{name: "b", desc: "second"}))
	require.NoError(t, reg.Register(&stubTool{name: "a", desc: "first"}))

	assert.Equal(t, []Info{
		{Name: "a", Description: "first"},
		{Name: "b", Description: "second"},
	}, reg.List())
}
