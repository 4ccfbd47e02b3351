package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/rendis/waypoint/pkg/schema"
)

// RedisStore implements Store on Redis. Each instance is one JSON string
// key, an index set lists every instance key, and each event log is a list
// with a counter for its sequence.
type RedisStore struct {
	client *backend.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the prefix for every key the store writes.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore wraps an existing client. The default prefix is "waypoint:".
func NewRedisStore(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "waypoint:"}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) instanceKey(key string) string { return s.prefix + "instance:" + key }
func (s *RedisStore) indexKey() string              { return s.prefix + "instances" }
func (s *RedisStore) eventsKey(key string) string   { return s.prefix + "events:" + key }
func (s *RedisStore) seqKey(key string) string      { return s.prefix + "events:seq:" + key }

func (s *RedisStore) CreateInstance(ctx context.Context, e *Entity) error {
	e.CreatedAt = timeOrNow(e.CreatedAt)
	e.UpdatedAt = timeOrNow(e.UpdatedAt)
	raw, err := json.Marshal(e)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal instance %q: %v", e.Key, err).WithCause(err)
	}

	ok, err := s.client.SetNX(ctx, s.instanceKey(e.Key), raw, 0).Result()
	if err != nil {
		return redisError("create instance", e.Key, err)
	}
	if !ok {
		return storeConflict(e.Key)
	}
	if err := s.client.SAdd(ctx, s.indexKey(), e.Key).Err(); err != nil {
		return redisError("index instance", e.Key, err)
	}
	return nil
}

func (s *RedisStore) LoadInstance(ctx context.Context, key string) (*Entity, error) {
	raw, err := s.client.Get(ctx, s.instanceKey(key)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, storeNotFound(key)
	}
	if err != nil {
		return nil, redisError("load instance", key, err)
	}
	var e Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "unmarshal instance %q: %v", key, err).WithCause(err)
	}
	return &e, nil
}

// SaveExecutionState rewrites the instance under WATCH so a concurrent
// writer makes the transaction fail instead of being overwritten.
func (s *RedisStore) SaveExecutionState(ctx context.Context, key string, st ExecutionState) error {
	k := s.instanceKey(key)
	err := s.client.Watch(ctx, func(tx *backend.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, backend.Nil) {
			return storeNotFound(key)
		}
		if err != nil {
			return err
		}
		var e Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		st.Apply(&e, time.Now().UTC())
		next, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p backend.Pipeliner) error {
			p.Set(ctx, k, next, 0)
			return nil
		})
		return err
	}, k)

	var wErr *schema.WaypointError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &wErr):
		return wErr
	case errors.Is(err, backend.TxFailedErr):
		return schema.NewErrorf(schema.ErrCodeConflict, "instance %q changed during save", key).WithCause(err)
	default:
		return redisError("save instance", key, err)
	}
}

func (s *RedisStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*Entity, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, redisError("list instances", "", err)
	}

	out := make([]*Entity, 0, len(keys))
	for _, key := range keys {
		e, err := s.LoadInstance(ctx, key)
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sortEntities(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, event *Event) error {
	seq, err := s.client.Incr(ctx, s.seqKey(event.InstanceKey)).Result()
	if err != nil {
		return redisError("next event sequence", event.InstanceKey, err)
	}
	event.Sequence = seq
	event.ID = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	raw, err := json.Marshal(event)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal event: %v", err).WithCause(err)
	}
	if err := s.client.RPush(ctx, s.eventsKey(event.InstanceKey), raw).Err(); err != nil {
		return redisError("append event", event.InstanceKey, err)
	}
	return nil
}

func (s *RedisStore) GetEvents(ctx context.Context, key string, since int64) ([]*Event, error) {
	raws, err := s.client.LRange(ctx, s.eventsKey(key), 0, -1).Result()
	if err != nil {
		return nil, redisError("get events", key, err)
	}
	var out []*Event
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "unmarshal event: %v", err).WithCause(err)
		}
		if ev.Sequence > since {
			out = append(out, &ev)
		}
	}
	return out, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

func redisError(op, key string, err error) *schema.WaypointError {
	if key == "" {
		return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s %q: %v", op, key, err).WithCause(err)
}

var _ Store = (*RedisStore)(nil)
