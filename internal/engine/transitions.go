package engine

import (
	"context"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/pkg/schema"
)

// Candidate is a transition leaving the current place together with the
// result of its condition.
type Candidate struct {
	Transition schema.Transition
	Holds      bool
}

// AvailableTransitions lists the transitions leaving place, in declaration
// order, with their conditions evaluated against data. Conditions see the
// transition with its calls stripped.
func AvailableTransitions(
	ctx context.Context,
	eval *expressions.Evaluator,
	def *schema.WorkflowDefinition,
	place string,
	data map[string]any,
	opts expressions.Options,
) ([]Candidate, error) {
	var out []Candidate
	for _, tr := range def.Transitions {
		if !tr.From.Matches(place) || !def.HasPlace(tr.To) {
			continue
		}
		cond := tr.WithoutCalls()
		holds, err := eval.EvaluateCondition(ctx, cond.If, data, opts)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeEvaluationFailed, "condition of transition %q: %v", tr.ID, err).
				WithCause(err).
				WithTransition(tr.ID)
		}
		out = append(out, Candidate{Transition: cond, Holds: holds})
	}
	return out, nil
}

// SelectTransition picks the transition to run. A pending explicit id wins
// when it names an available transition whose condition holds; otherwise the
// first automatic transition whose condition holds is chosen. The returned
// transition still needs its calls restored by the caller.
func SelectTransition(candidates []Candidate, pending string) (*schema.Transition, bool) {
	if pending != "" {
		for i := range candidates {
			if candidates[i].Transition.ID == pending && candidates[i].Holds {
				return &candidates[i].Transition, true
			}
		}
	}
	for i := range candidates {
		if candidates[i].Holds && candidates[i].Transition.Automatic() {
			return &candidates[i].Transition, true
		}
	}
	return nil, false
}
