package isolation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/pkg/schema"
)

var testFields = Fields{
	State:   []string{"count"},
	Args:    []string{"input"},
	Context: []string{"tenant"},
	Runtime: []string{"instance"},
	Shared:  []string{"hits"},
}

func TestFields_RoleOf(t *testing.T) {
	tests := []struct {
		field string
		role  Role
		ok    bool
	}{
		{"count", RoleState, true},
		{"input", RoleArgs, true},
		{"tenant", RoleContext, true},
		{"instance", RoleRuntime, true},
		{"hits", RoleShared, true},
		{"unknown", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			role, ok := testFields.RoleOf(tt.field)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.role, role)
		})
	}
}

func TestInvocation_ReadsByRole(t *testing.T) {
	m := NewManager()
	inv := m.Enter("counter", testFields, Scope{
		State:   NewScratchState(map[string]any{"count": 3}),
		Args:    map[string]any{"input": "a"},
		Context: map[string]any{"tenant": "acme"},
		Runtime: map[string]any{"instance": "i-1"},
	})

	for field, want := range map[string]any{"count": 3, "input": "a", "tenant": "acme", "instance": "i-1", "hits": nil} {
		got, err := inv.Get(field)
		require.NoError(t, err, field)
		assert.Equal(t, want, got, field)
	}
	assert.Equal(t, "counter", inv.Block())
}

func TestInvocation_ReadOnlyRoles(t *testing.T) {
	inv := NewManager().Enter("counter", testFields, Scope{})

	for _, field := range []string{"input", "tenant", "instance"} {
		err := inv.Set(field, "x")
		require.Error(t, err, field)
		assert.True(t, schema.IsCode(err, schema.ErrCodeIsolationViolation))
		assert.Contains(t, err.Error(), "read-only during execution")
	}
}

func TestInvocation_UndeclaredField(t *testing.T) {
	inv := NewManager().Enter("counter", testFields, Scope{})

	err := inv.Set("other", 1)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeIsolationViolation))
	assert.Contains(t, err.Error(), `"other"`)
	assert.Contains(t, err.Error(), "state")
	assert.Contains(t, err.Error(), "shared")

	_, err = inv.Get("other")
	assert.True(t, schema.IsCode(err, schema.ErrCodeIsolationViolation))
}

func TestInvocation_StateIsPerInvocation(t *testing.T) {
	m := NewManager()
	a := m.Enter("counter", testFields, Scope{})
	b := m.Enter("counter", testFields, Scope{})

	require.NoError(t, a.Set("count", 1))
	got, err := b.Get("count")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInvocation_SharedIsPerBlock(t *testing.T) {
	m := NewManager()
	a := m.Enter("counter", testFields, Scope{})
	b := m.Enter("counter", testFields, Scope{})
	other := m.Enter("other", testFields, Scope{})

	require.NoError(t, a.Set("hits", 5))

	got, err := b.Get("hits")
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	got, err = other.Get("hits")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInvocation_ArgsAreFrozen(t *testing.T) {
	args := map[string]any{"input": map[string]any{"n": 1}}
	inv := NewManager().Enter("counter", testFields, Scope{Args: args})

	args["input"].(map[string]any)["n"] = 2
	got, err := inv.Get("input")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 1}, got)

	// Mutating a returned copy must not leak either.
	got.(map[string]any)["n"] = 3
	assert.Equal(t, map[string]any{"n": 1}, inv.Args()["input"])
}

func TestInvocation_NamespaceKeepsDeclaredFields(t *testing.T) {
	scope := Scope{
		Args:    map[string]any{"input": "a", "extra": "b"},
		Context: map[string]any{"tenant": "acme", "secret": "s"},
		Runtime: map[string]any{"instance": "i-1", "call": "go.0"},
	}
	inv := NewManager().Enter("counter", testFields, scope)

	assert.Equal(t, map[string]any{"input": "a"}, inv.Namespace(RoleArgs))
	assert.Equal(t, map[string]any{"tenant": "acme"}, inv.Namespace(RoleContext))
	assert.Equal(t, map[string]any{"instance": "i-1"}, inv.Namespace(RoleRuntime))
	assert.Empty(t, inv.Namespace(RoleShared))

	all := NewManager().Enter("reader", Fields{Context: []string{FieldAll}}, scope)
	assert.Equal(t, scope.Context, all.Namespace(RoleContext))
	assert.Empty(t, all.Namespace(RoleArgs))

	_, err := all.Get("tenant")
	assert.True(t, schema.IsCode(err, schema.ErrCodeIsolationViolation))
}

func TestSharedStore_UpdateIsAtomic(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv := m.Enter("counter", testFields, Scope{})
			inv.Shared().Update("hits", func(cur any, ok bool) any {
				if !ok {
					return 1
				}
				return cur.(int) + 1
			})
		}()
	}
	wg.Wait()

	got, ok := m.Shared("counter").Get("hits")
	require.True(t, ok)
	assert.Equal(t, 50, got)
	assert.Equal(t, map[string]any{"hits": 50}, m.Shared("counter").Snapshot())
}

func TestScratchState(t *testing.T) {
	seed := map[string]any{"a": []any{1}}
	s := NewScratchState(seed)
	seed["a"] = nil

	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, []any{1}, v)

	require.NoError(t, s.Set("b", 2))
	assert.Equal(t, map[string]any{"a": []any{1}, "b": 2}, s.Snapshot())
}
