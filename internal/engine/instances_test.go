package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

func TestInspect(t *testing.T) {
	h := newHarness(t, Config{}, approvalDef())
	ctx := context.Background()

	_, err := h.proc.Inspect(ctx, "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, err = h.proc.Run(ctx, RunRequest{Workflow: "approval", Key: "k1", Args: map[string]any{"amount": 5}})
	require.NoError(t, err)

	view, err := h.proc.Inspect(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "approval", view.Workflow)
	assert.Equal(t, "review", view.Place)
	assert.Equal(t, schema.InstanceStatusActive, view.Status)
	assert.Equal(t, "submit", view.LastTransition)
	assert.EqualValues(t, 5, view.State["amount"])
	assert.Equal(t, 1, view.Checkpoints)
	assert.Equal(t, 1, view.Version, "restored state is one past the last memento")
}

func TestVisited(t *testing.T) {
	h := newHarness(t, Config{}, approvalDef())
	ctx := context.Background()

	_, err := h.proc.Run(ctx, RunRequest{Workflow: "approval", Key: "k1", Args: map[string]any{"amount": 5}})
	require.NoError(t, err)
	_, err = h.proc.Run(ctx, RunRequest{Workflow: "approval", Key: "k1", Args: map[string]any{"amount": 50}})
	require.NoError(t, err)

	visited, err := h.proc.Visited(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []string{schema.PlaceStart, "review", schema.PlaceEnd}, visited)

	visited, err = h.proc.Visited(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, []string{schema.PlaceStart}, visited)
}

func TestInstancesAndEvents(t *testing.T) {
	h := newHarness(t, Config{}, approvalDef())
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		_, err := h.proc.Run(ctx, RunRequest{Workflow: "approval", Key: key, Args: map[string]any{"amount": 50}})
		require.NoError(t, err)
	}

	list, err := h.proc.Instances(ctx, store.InstanceFilter{Workflow: "approval"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = h.proc.Instances(ctx, store.InstanceFilter{Workflow: "other"})
	require.NoError(t, err)
	assert.Empty(t, list)

	all, err := h.proc.Events(ctx, "a", 0)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	tail, err := h.proc.Events(ctx, "a", all[0].Sequence)
	require.NoError(t, err)
	assert.Len(t, tail, len(all)-1)
}
