package validation

import (
	"fmt"

	"github.com/rendis/waypoint/pkg/schema"
)

// validateSemantic checks references the JSON Schema cannot express:
// unique transition ids, declared places, registered tools.
func validateSemantic(def *schema.WorkflowDefinition, lookup ToolLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for i, p := range def.Places {
		if p == schema.PlaceStart || p == schema.PlaceEnd {
			result.AddWarning(fmt.Sprintf("places[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("place %q is reserved and need not be declared", p))
		}
		if p == schema.PlaceAny {
			result.AddError(fmt.Sprintf("places[%d]", i), schema.ErrCodeValidation,
				`"*" cannot be declared as a place`)
		}
	}

	seen := make(map[string]int, len(def.Transitions))
	for i := range def.Transitions {
		tr := &def.Transitions[i]
		path := fmt.Sprintf("transitions[%d]", i)

		if first, dup := seen[tr.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate transition id %q (first declared at transitions[%d])", tr.ID, first))
		} else {
			seen[tr.ID] = i
		}
		if tr.ID == schema.TransitionInvalidation {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("transition id %q is reserved", schema.TransitionInvalidation))
		}

		validateTransitionSemantic(def, tr, path, lookup, result)
	}

	return result
}

func validateTransitionSemantic(def *schema.WorkflowDefinition, tr *schema.Transition, path string, lookup ToolLookup, result *schema.ValidationResult) {
	for j, from := range tr.From {
		if from != schema.PlaceAny && !def.HasPlace(from) {
			result.AddError(fmt.Sprintf("%s.from[%d]", path, j), schema.ErrCodeValidation,
				fmt.Sprintf("references undeclared place %q", from))
		}
	}

	if !def.HasPlace(tr.To) {
		result.AddError(path+".to", schema.ErrCodeValidation,
			fmt.Sprintf("references undeclared place %q", tr.To))
	}

	if tr.OnError != "" && !def.HasPlace(tr.OnError) {
		result.AddError(path+".onError", schema.ErrCodeValidation,
			fmt.Sprintf("references undeclared place %q", tr.OnError))
	}

	if tr.Trigger == schema.TriggerManual && tr.If != nil {
		result.AddWarning(path+".if", schema.ErrCodeValidation,
			"condition on a manual transition is still evaluated when it is requested")
	}

	ids := make(map[string]bool, len(tr.Call))
	for j := range tr.Call {
		call := &tr.Call[j]
		callPath := fmt.Sprintf("%s.call[%d]", path, j)

		if lookup != nil && !lookup.Has(call.Tool) {
			result.AddError(callPath+".tool", schema.ErrCodeToolNotFound,
				fmt.Sprintf("tool %q not registered", call.Tool))
		}

		id := call.ResultID(tr.ID, j)
		if ids[id] {
			result.AddWarning(callPath+".id", schema.ErrCodeValidation,
				fmt.Sprintf("result id %q is used twice in one transition; the later result overwrites the earlier", id))
		}
		ids[id] = true
	}
}
