package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/pkg/schema"
)

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndLoad", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		e := &Entity{
			Key:        "order-1",
			Workflow:   "approval",
			Place:      schema.PlaceStart,
			HashRecord: map[string]string{"args": "abc"},
			Status:     schema.InstanceStatusActive,
		}
		require.NoError(t, s.CreateInstance(ctx, e))
		assert.False(t, e.CreatedAt.IsZero())

		got, err := s.LoadInstance(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, "approval", got.Workflow)
		assert.Equal(t, schema.PlaceStart, got.Place)
		assert.Equal(t, map[string]string{"args": "abc"}, got.HashRecord)
		assert.Equal(t, schema.InstanceStatusActive, got.Status)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		e := &Entity{Key: "dup", Workflow: "w", Place: schema.PlaceStart, Status: schema.InstanceStatusActive}
		require.NoError(t, s.CreateInstance(ctx, e))

		err := s.CreateInstance(ctx, &Entity{Key: "dup", Workflow: "w", Place: schema.PlaceStart, Status: schema.InstanceStatusActive})
		assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
	})

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := newStore(t).LoadInstance(context.Background(), "nope")
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	})

	t.Run("SaveExecutionState", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateInstance(ctx, &Entity{Key: "k", Workflow: "w", Place: schema.PlaceStart, Status: schema.InstanceStatusActive}))

		history := json.RawMessage(`[{"step":"go","state":{},"metadata":{},"version":0}]`)
		require.NoError(t, s.SaveExecutionState(ctx, "k", ExecutionState{
			Place:      schema.PlaceEnd,
			Documents:  []schema.Document{{ID: "d1", MessageID: "m", Content: "hi", Version: 1}},
			History:    history,
			HashRecord: map[string]string{"args": "h1"},
			Status:     schema.InstanceStatusCompleted,
		}))

		got, err := s.LoadInstance(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, schema.PlaceEnd, got.Place)
		assert.Equal(t, schema.InstanceStatusCompleted, got.Status)
		assert.JSONEq(t, string(history), string(got.History))
		require.Len(t, got.Documents, 1)
		assert.Equal(t, "hi", got.Documents[0].Content)
		assert.Equal(t, "h1", got.HashRecord["args"])
		assert.Empty(t, got.PendingTransition)
	})

	t.Run("SaveMissing", func(t *testing.T) {
		err := newStore(t).SaveExecutionState(context.Background(), "nope", ExecutionState{Place: "x"})
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	})

	t.Run("LoadedEntityIsACopy", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateInstance(ctx, &Entity{
			Key: "k", Workflow: "w", Place: schema.PlaceStart, Status: schema.InstanceStatusActive,
			HashRecord: map[string]string{"args": "a"},
		}))

		got, err := s.LoadInstance(ctx, "k")
		require.NoError(t, err)
		got.HashRecord["args"] = "mutated"
		got.Place = "elsewhere"

		again, err := s.LoadInstance(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "a", again.HashRecord["args"])
		assert.Equal(t, schema.PlaceStart, again.Place)
	})

	t.Run("ListInstances", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, e := range []*Entity{
			{Key: "a", Workflow: "w1", Place: schema.PlaceStart, Status: schema.InstanceStatusActive},
			{Key: "b", Workflow: "w1", Place: schema.PlaceEnd, Status: schema.InstanceStatusCompleted},
			{Key: "c", Workflow: "w2", Place: schema.PlaceStart, Status: schema.InstanceStatusActive},
		} {
			require.NoError(t, s.CreateInstance(ctx, e))
		}

		all, err := s.ListInstances(ctx, InstanceFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		w1, err := s.ListInstances(ctx, InstanceFilter{Workflow: "w1"})
		require.NoError(t, err)
		assert.Len(t, w1, 2)

		active := schema.InstanceStatusActive
		act, err := s.ListInstances(ctx, InstanceFilter{Status: &active})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "c"}, keys(act))

		limited, err := s.ListInstances(ctx, InstanceFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("EventsMonotonicPerInstance", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := range 3 {
			ev := &Event{InstanceKey: "a", Transition: "t", Type: schema.EventTransitionCompleted}
			require.NoError(t, s.AppendEvent(ctx, ev))
			assert.Equal(t, int64(i+1), ev.Sequence)
		}
		other := &Event{InstanceKey: "b", Type: schema.EventRunSkipped, Payload: json.RawMessage(`{"reason":"valid"}`)}
		require.NoError(t, s.AppendEvent(ctx, other))
		assert.Equal(t, int64(1), other.Sequence)

		events, err := s.GetEvents(ctx, "a", 1)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(2), events[0].Sequence)
		assert.Equal(t, int64(3), events[1].Sequence)
		assert.Equal(t, "t", events[0].Transition)

		bEvents, err := s.GetEvents(ctx, "b", 0)
		require.NoError(t, err)
		require.Len(t, bEvents, 1)
		assert.JSONEq(t, `{"reason":"valid"}`, string(bEvents[0].Payload))
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.AppendEvent(ctx, &Event{InstanceKey: "c", Type: schema.EventTransitionCompleted}))
			}()
		}
		wg.Wait()

		events, err := s.GetEvents(ctx, "c", 0)
		require.NoError(t, err)
		require.Len(t, events, 10)
		seen := map[int64]bool{}
		for _, ev := range events {
			seen[ev.Sequence] = true
		}
		assert.Len(t, seen, 10)
	})
}

func keys(es []*Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Key
	}
	return out
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}
