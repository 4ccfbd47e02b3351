package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

type fixedValidator struct {
	name     string
	priority int
	result   ValidatorResult
	order    *[]string
}

func (v fixedValidator) Name() string  { return v.name }
func (v fixedValidator) Priority() int { return v.priority }
func (v fixedValidator) Validate(context.Context, *store.Entity, map[string]any) ValidatorResult {
	if v.order != nil {
		*v.order = append(*v.order, v.name)
	}
	return v.result
}

func TestPipeline_RunsByPriority(t *testing.T) {
	var order []string
	p := NewPipeline(
		fixedValidator{name: "late", priority: 30, result: ValidatorResult{Valid: true}, order: &order},
		fixedValidator{name: "early", priority: 1, result: ValidatorResult{Valid: true}, order: &order},
		fixedValidator{name: "middle", priority: 10, result: ValidatorResult{Valid: true}, order: &order},
	)
	out := p.Validate(context.Background(), &store.Entity{}, nil)
	assert.True(t, out.Valid)
	assert.Equal(t, []string{"early", "middle", "late"}, order)
	assert.Empty(t, out.HashRecordUpdates)
}

func TestPipeline_CollectsInvalidHashes(t *testing.T) {
	p := NewPipeline(
		fixedValidator{name: "a", result: ValidatorResult{Valid: false, Target: "x", Hash: "1"}},
		fixedValidator{name: "b", result: ValidatorResult{Valid: true, Target: "y", Hash: "2"}},
		fixedValidator{name: "c", result: ValidatorResult{Valid: false}},
	)
	out := p.Validate(context.Background(), &store.Entity{}, nil)
	assert.False(t, out.Valid)
	assert.Equal(t, map[string]string{"x": "1"}, out.HashRecordUpdates)
	assert.Equal(t, []string{"a", "c"}, out.Invalid)
}

func TestFreshInstanceValidator(t *testing.T) {
	v := FreshInstanceValidator{}
	ctx := context.Background()

	assert.False(t, v.Validate(ctx, &store.Entity{Place: schema.PlaceStart}, nil).Valid)
	assert.False(t, v.Validate(ctx, &store.Entity{Place: schema.PlaceStart, History: []byte("[]")}, nil).Valid)
	assert.True(t, v.Validate(ctx, &store.Entity{Place: schema.PlaceStart, History: []byte(`[{"step":"invalidation"}]`)}, nil).Valid)
	assert.True(t, v.Validate(ctx, &store.Entity{Place: "review"}, nil).Valid)
}

func TestFingerprintValidator(t *testing.T) {
	v := FingerprintValidator{}
	ctx := context.Background()
	args := map[string]any{"b": 2, "a": []any{1, "x"}}

	first := v.Validate(ctx, &store.Entity{}, args)
	assert.False(t, first.Valid)
	assert.Equal(t, HashTargetArgs, first.Target)
	assert.Len(t, first.Hash, 64)

	e := &store.Entity{HashRecord: map[string]string{HashTargetArgs: first.Hash}}
	assert.True(t, v.Validate(ctx, e, map[string]any{"a": []any{1, "x"}, "b": 2}).Valid)
	assert.False(t, v.Validate(ctx, e, map[string]any{"a": []any{1, "x"}, "b": 3}).Valid)
}

func TestFingerprint_NilEqualsEmpty(t *testing.T) {
	assert.Equal(t, Fingerprint(map[string]any{}), Fingerprint(map[string]any(nil)))
	assert.Empty(t, Fingerprint(func() {}))
}

func TestDefinitionValidator(t *testing.T) {
	ctx := context.Background()
	e := &store.Entity{HashRecord: map[string]string{HashTargetDefinition: "abc"}}

	assert.True(t, DefinitionValidator{Hash: "abc"}.Validate(ctx, e, nil).Valid)

	res := DefinitionValidator{Hash: "def"}.Validate(ctx, e, nil)
	assert.False(t, res.Valid)
	assert.Equal(t, HashTargetDefinition, res.Target)
	assert.Equal(t, "def", res.Hash)
}
