package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/pkg/schema"
)

func newRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, _ := newRedisStore(t)
		return s
	})
}

func TestRedisStore_Prefix(t *testing.T) {
	s, mr := newRedisStore(t, WithPrefix("custom:"))
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, &Entity{Key: "k", Workflow: "w", Place: schema.PlaceStart, Status: schema.InstanceStatusActive}))
	require.NoError(t, s.AppendEvent(ctx, &Event{InstanceKey: "k", Type: schema.EventInstanceCreated}))

	assert.True(t, mr.Exists("custom:instance:k"))
	assert.True(t, mr.Exists("custom:instances"))
	assert.True(t, mr.Exists("custom:events:k"))
}

func TestRedisStore_ListSkipsDanglingIndex(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, &Entity{Key: "k", Workflow: "w", Place: schema.PlaceStart, Status: schema.InstanceStatusActive}))
	mr.Del("waypoint:instance:k")

	list, err := s.ListInstances(ctx, InstanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
