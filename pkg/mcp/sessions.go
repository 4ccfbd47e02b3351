package mcp

import (
	"sort"
	"sync"
)

// SessionRegistry maps instance keys to the MCP sessions watching them.
// A session starts watching an instance when it runs or queues a
// transition on it.
type SessionRegistry struct {
	mu       sync.RWMutex
	watchers map[string]map[string]struct{} // instance key → session IDs
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{watchers: make(map[string]map[string]struct{})}
}

// Watch subscribes sessionID to events of the instance stored under key.
func (r *SessionRegistry) Watch(key, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[key]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[key] = set
	}
	set[sessionID] = struct{}{}
}

// SessionsFor returns the sessions watching key, sorted.
func (r *SessionRegistry) SessionsFor(key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.watchers[key]))
	for sid := range r.watchers[key] {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

// Remove drops every watch held by sessionID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, set := range r.watchers {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.watchers, key)
		}
	}
}
