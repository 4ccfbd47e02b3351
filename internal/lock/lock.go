// Package lock gives one runner at a time exclusive ownership of a workflow
// instance, in process or across processes through Redis.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/waypoint/pkg/schema"
)

// UnlockFunc releases a held lock.
type UnlockFunc func(ctx context.Context) error

// Locker acquires exclusive locks by key. Lock blocks until the lock is
// held or ctx is done. ttl bounds how long a crashed holder can keep a
// distributed lock; in-process lockers ignore it.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// MemoryLocker is an in-process Locker. A key's slot lives only while
// someone holds or waits for it.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*slot)}
}

func (l *MemoryLocker) acquire(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *MemoryLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string, _ time.Duration) (UnlockFunc, error) {
	s := l.acquire(key)
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, lockTimeout(key, ctx.Err())
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
		return nil
	}, nil
}

func lockTimeout(key string, err error) *schema.WaypointError {
	return schema.NewErrorf(schema.ErrCodeLock, "lock %q not acquired: %v", key, err).
		WithCause(err).
		WithDetails(map[string]any{"key": key})
}

var _ Locker = (*MemoryLocker)(nil)
