package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_WatchAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Watch("doc-1", "session-b")
	r.Watch("doc-1", "session-a")
	r.Watch("doc-1", "session-a")

	assert.Equal(t, []string{"session-a", "session-b"}, r.SessionsFor("doc-1"))
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()
	assert.Empty(t, r.SessionsFor("unknown"))
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Watch("doc-1", "session-abc")
	r.Watch("doc-2", "session-abc")
	r.Watch("doc-2", "session-xyz")

	r.Remove("session-abc")

	assert.Empty(t, r.SessionsFor("doc-1"))
	assert.Equal(t, []string{"session-xyz"}, r.SessionsFor("doc-2"))

	r.Remove("session-xyz")
	assert.Empty(t, r.watchers, "empty watch sets are dropped")
}
