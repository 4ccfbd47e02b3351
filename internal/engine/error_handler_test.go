package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

func TestHandleTransitionError_NoOnError(t *testing.T) {
	ms := store.NewMemoryStore()
	tr := &schema.Transition{ID: "t1", From: schema.FromPlaces{"start"}, To: "end"}

	result := HandleTransitionError(context.Background(), ms, logging.NewNop(), "k1", tr, errors.New("boom"))
	assert.False(t, result.Handled)
	assert.Empty(t, result.Place)

	events, err := ms.GetEvents(context.Background(), "k1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestHandleTransitionError_RoutesToOnError(t *testing.T) {
	ms := store.NewMemoryStore()
	tr := &schema.Transition{ID: "t1", From: schema.FromPlaces{"start"}, To: "end", OnError: "failed"}
	callErr := schema.NewError(schema.ErrCodeExecution, "boom")

	result := HandleTransitionError(context.Background(), ms, logging.NewNop(), "k1", tr, callErr)
	assert.True(t, result.Handled)
	assert.Equal(t, "failed", result.Place)

	events, err := ms.GetEvents(context.Background(), "k1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventErrorHandlerInvoked, events[0].Type)
	assert.Equal(t, "t1", events[0].Transition)
	assert.Contains(t, string(events[0].Payload), schema.ErrCodeExecution)
}
