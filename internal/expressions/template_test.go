package expressions

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rendis/waypoint/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplate_Render(t *testing.T) {
	tl := NewTemplateLanguage(0)
	data := map[string]any{"state": map[string]any{"name": "Ada", "tags": []any{"x", "y"}}}

	out, err := tl.Render(context.Background(), "Hi {{state.name}}!", data, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada!", out)

	out, err = tl.Render(context.Background(), "{{#each state.tags}}[{{this}}]{{/each}}", data, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "[x][y]", out)
}

func TestTemplate_EscapesHTML(t *testing.T) {
	tl := NewTemplateLanguage(0)
	data := map[string]any{"v": "<b>"}

	out, err := tl.Render(context.Background(), "{{v}}", data, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;", out)

	out, err = tl.Render(context.Background(), "{{{v}}}", data, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "<b>", out)
}

func TestTemplate_Helpers(t *testing.T) {
	tl := NewTemplateLanguage(0)
	helpers := Helpers{"upper": func(s string) string { return strings.ToUpper(s) }}

	out, err := tl.Render(context.Background(), "{{upper name}}", map[string]any{"name": "ada"}, helpers, "")
	require.NoError(t, err)
	assert.Equal(t, "ADA", out)

	// Same source without helpers: the cached template has none registered.
	out, _ = tl.Render(context.Background(), "{{upper name}}", map[string]any{"name": "ada"}, nil, "")
	assert.NotEqual(t, "ADA", out)
}

func TestTemplate_ReservedHelper(t *testing.T) {
	tl := NewTemplateLanguage(0)

	for _, name := range []string{"if", "each", "equal"} {
		_, err := tl.Render(context.Background(), "{{x}}", nil, Helpers{name: func() string { return "" }}, "")
		require.Error(t, err, name)
		assert.True(t, schema.IsCode(err, schema.ErrCodeEvaluationError), name)
	}
}

func TestTemplate_InvalidHelper(t *testing.T) {
	tl := NewTemplateLanguage(0)

	_, err := tl.Render(context.Background(), "{{x}}", nil, Helpers{"bad": "not a function"}, "")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeEvaluationError))
}

func TestTemplate_TooLong(t *testing.T) {
	tl := NewTemplateLanguage(0)

	_, err := tl.Render(context.Background(), strings.Repeat("a", MaxTemplateLength+1), nil, nil, "")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpressionTooLong))
	assert.Equal(t, 0, tl.Len(), "oversized templates are rejected before compilation")
}

func TestTemplate_CompileError(t *testing.T) {
	tl := NewTemplateLanguage(0)

	_, err := tl.Render(context.Background(), "{{#if x}}open", nil, nil, "")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeEvaluationError))
}

func TestTemplate_CacheEvictsOldestInsertion(t *testing.T) {
	tl := NewTemplateLanguage(2)
	ctx := context.Background()

	for _, src := range []string{"a {{x}}", "b {{x}}", "a {{x}}", "c {{x}}"} {
		_, err := tl.Render(ctx, src, map[string]any{"x": 1}, nil, "")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, tl.Len())
	tl.mu.Lock()
	defer tl.mu.Unlock()
	_, hasA := tl.cache.Get("\x00a {{x}}")
	_, hasB := tl.cache.Get("\x00b {{x}}")
	_, hasC := tl.cache.Get("\x00c {{x}}")
	assert.False(t, hasA, "a was inserted first and lookups do not refresh it")
	assert.True(t, hasB)
	assert.True(t, hasC)
}

func TestTemplate_CacheNamespaces(t *testing.T) {
	tl := NewTemplateLanguage(0)
	ctx := context.Background()

	for _, ns := range []string{"", "wf-a", "wf-b"} {
		_, err := tl.Render(ctx, "{{x}}", map[string]any{"x": 1}, nil, ns)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, tl.Len())
}

func TestTemplate_Concurrent(t *testing.T) {
	tl := NewTemplateLanguage(8)

	var wg sync.WaitGroup
	errs := make([]error, 40)
	for i := range 40 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			src := fmt.Sprintf("n{{n}}-%d", idx%10)
			out, err := tl.Render(context.Background(), src, map[string]any{"n": idx}, nil, "")
			if err == nil && out != fmt.Sprintf("n%d-%d", idx, idx%10) {
				err = fmt.Errorf("unexpected output %q", out)
			}
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "goroutine %d", i)
	}
	assert.LessOrEqual(t, tl.Len(), 8)
}
