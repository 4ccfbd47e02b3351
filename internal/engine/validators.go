package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

// Hash record targets written by the built-in validators.
const (
	HashTargetArgs       = "args"
	HashTargetDefinition = "definition"
)

// ValidatorResult is one validator's verdict on a persisted instance.
// Target and Hash name the hash record entry to store when the run goes
// ahead; an empty Target records nothing.
type ValidatorResult struct {
	Valid  bool
	Target string
	Hash   string
}

// Validator decides whether a persisted result is still valid for the
// current invocation.
type Validator interface {
	Name() string
	Priority() int
	Validate(ctx context.Context, e *store.Entity, args map[string]any) ValidatorResult
}

// ValidationOutcome aggregates a pipeline run.
type ValidationOutcome struct {
	Valid             bool
	HashRecordUpdates map[string]string
	// Invalid names the validators that rejected the instance.
	Invalid []string
}

// Pipeline runs validators in ascending priority order.
type Pipeline struct {
	validators []Validator
}

// NewPipeline sorts validators by priority. Equal priorities keep their
// given order.
func NewPipeline(validators ...Validator) *Pipeline {
	sorted := append([]Validator(nil), validators...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Pipeline{validators: sorted}
}

// Validate runs every validator. The outcome is valid only when all are.
func (p *Pipeline) Validate(ctx context.Context, e *store.Entity, args map[string]any) ValidationOutcome {
	out := ValidationOutcome{Valid: true, HashRecordUpdates: map[string]string{}}
	for _, v := range p.validators {
		res := v.Validate(ctx, e, args)
		if res.Valid {
			continue
		}
		out.Valid = false
		out.Invalid = append(out.Invalid, v.Name())
		if res.Target != "" {
			out.HashRecordUpdates[res.Target] = res.Hash
		}
	}
	return out
}

// FreshInstanceValidator rejects instances that never ran a transition.
type FreshInstanceValidator struct{}

func (FreshInstanceValidator) Name() string  { return "fresh_instance" }
func (FreshInstanceValidator) Priority() int { return 0 }

func (FreshInstanceValidator) Validate(_ context.Context, e *store.Entity, _ map[string]any) ValidatorResult {
	fresh := e.Place == schema.PlaceStart && !hasHistory(e.History)
	return ValidatorResult{Valid: !fresh}
}

func hasHistory(raw json.RawMessage) bool {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return false
	}
	return len(list) > 0
}

// FingerprintValidator compares the invocation arguments against the ones
// the instance last ran with.
type FingerprintValidator struct{}

func (FingerprintValidator) Name() string  { return "fingerprint" }
func (FingerprintValidator) Priority() int { return 10 }

func (FingerprintValidator) Validate(_ context.Context, e *store.Entity, args map[string]any) ValidatorResult {
	hash := Fingerprint(args)
	return ValidatorResult{
		Valid:  hash != "" && e.HashRecord[HashTargetArgs] == hash,
		Target: HashTargetArgs,
		Hash:   hash,
	}
}

// Fingerprint is the sha256 of the canonical JSON form of v. Map keys are
// sorted by encoding/json, so equal values hash equal. It returns "" for
// values that cannot be encoded.
func Fingerprint(v any) string {
	if m, ok := v.(map[string]any); ok && m == nil {
		v = map[string]any{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// DefinitionValidator detects a changed workflow definition.
type DefinitionValidator struct {
	Hash string
}

func (DefinitionValidator) Name() string  { return "definition" }
func (DefinitionValidator) Priority() int { return 20 }

func (v DefinitionValidator) Validate(_ context.Context, e *store.Entity, _ map[string]any) ValidatorResult {
	return ValidatorResult{
		Valid:  v.Hash != "" && e.HashRecord[HashTargetDefinition] == v.Hash,
		Target: HashTargetDefinition,
		Hash:   v.Hash,
	}
}
