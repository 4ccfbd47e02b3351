package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderASCII(t *testing.T) {
	m, err := Build(reviewWorkflow(), &Overlay{Place: "review", Visited: []string{"start", "draft"}})
	require.NoError(t, err)

	out := RenderASCII(m)
	assert.True(t, strings.HasPrefix(out, "=== review ===\n\n"))
	assert.Contains(t, out, "│ review │")
	assert.Contains(t, out, "│ [HERE] │")
	assert.Contains(t, out, "[DONE]")
	assert.Equal(t, 3, strings.Count(out, "▼"), "one connector between each of the four levels")
	assert.Contains(t, out, "  review ─→ end  approve [manual]\n")
	assert.Contains(t, out, "  draft ─→ draft  send [onError]\n")
	assert.Contains(t, out, "  start ─→ draft  submit\n")
}

func TestMakeBox(t *testing.T) {
	box := makeBox(&Node{ID: "a", Label: "ab\nignored"})
	assert.Equal(t, []string{"┌────┐", "│ ab │", "└────┘"}, box.lines)
	assert.Equal(t, 6, box.width)
}
