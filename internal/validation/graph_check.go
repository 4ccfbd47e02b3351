package validation

import (
	"fmt"

	"github.com/rendis/waypoint/pkg/schema"
)

// validateGraph walks the place graph from start (following both to and
// onError edges) and warns about places no run can ever reach.
func validateGraph(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	reachable := map[string]bool{schema.PlaceStart: true}
	queue := []string{schema.PlaceStart}

	for len(queue) > 0 {
		place := queue[0]
		queue = queue[1:]
		for i := range def.Transitions {
			tr := &def.Transitions[i]
			if !tr.From.Matches(place) {
				continue
			}
			for _, next := range []string{tr.To, tr.OnError} {
				if next != "" && !reachable[next] {
					reachable[next] = true
					queue = append(queue, next)
				}
			}
		}
	}

	for i, p := range def.Places {
		if !reachable[p] {
			result.AddWarning(fmt.Sprintf("places[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("place %q is unreachable from %q", p, schema.PlaceStart))
		}
	}
	if !reachable[schema.PlaceEnd] {
		result.AddWarning("transitions", schema.ErrCodeValidation,
			fmt.Sprintf("no transition path leads to %q", schema.PlaceEnd))
	}

	return result
}
