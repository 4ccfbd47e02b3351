package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Reserved places bounding every workflow graph.
const (
	PlaceStart = "start"
	PlaceEnd   = "end"

	// PlaceAny in a transition's from list matches every place.
	PlaceAny = "*"

	// TransitionInvalidation is the synthetic transition injected when a
	// persisted result is no longer valid for the current invocation.
	TransitionInvalidation = "invalidation"
)

// Trigger decides how a transition becomes eligible.
type Trigger string

const (
	// TriggerManual transitions only fire when requested explicitly.
	TriggerManual Trigger = "manual"
	// TriggerOnEntry transitions fire automatically when their condition holds.
	TriggerOnEntry Trigger = "onEntry"
)

// WorkflowDefinition is the declarative form of a workflow block.
// Definitions are loaded from YAML or JSON files or registered in code.
type WorkflowDefinition struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Places      []string       `json:"places,omitempty" yaml:"places,omitempty"`
	Transitions []Transition   `json:"transitions" yaml:"transitions"`
	StateSchema map[string]any `json:"stateSchema,omitempty" yaml:"stateSchema,omitempty"`
	ArgsSchema  map[string]any `json:"argsSchema,omitempty" yaml:"argsSchema,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// HasPlace reports whether place is declared or reserved.
func (d *WorkflowDefinition) HasPlace(place string) bool {
	if place == PlaceStart || place == PlaceEnd {
		return true
	}
	return slices.Contains(d.Places, place)
}

// Transition finds a declared transition by id.
func (d *WorkflowDefinition) Transition(id string) (*Transition, bool) {
	for i := range d.Transitions {
		if d.Transitions[i].ID == id {
			return &d.Transitions[i], true
		}
	}
	return nil, false
}

// Transition is a conditioned edge between places carrying tool calls.
type Transition struct {
	ID      string     `json:"id" yaml:"id"`
	From    FromPlaces `json:"from" yaml:"from"`
	To      string     `json:"to" yaml:"to"`
	Trigger Trigger    `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	If      any        `json:"if,omitempty" yaml:"if,omitempty"` // bool or expression/template string
	OnError string     `json:"onError,omitempty" yaml:"onError,omitempty"`
	Call    []ToolCall `json:"call,omitempty" yaml:"call,omitempty"`
}

// Automatic reports whether the transition may be selected without an
// explicit request. An empty trigger counts as onEntry.
func (t *Transition) Automatic() bool {
	return t.Trigger == "" || t.Trigger == TriggerOnEntry
}

// AllowsPlace reports whether place is a legal outcome of the transition.
func (t *Transition) AllowsPlace(place string) bool {
	return place == t.To || (t.OnError != "" && place == t.OnError)
}

// WithoutCalls returns a shallow copy whose tool calls are stripped so that
// condition evaluation never touches call payloads.
func (t Transition) WithoutCalls() Transition {
	t.Call = nil
	return t
}

// FromPlaces is the source side of a transition: one place, a list, or "*".
type FromPlaces []string

// Matches reports whether place is covered.
func (f FromPlaces) Matches(place string) bool {
	for _, p := range f {
		if p == PlaceAny || p == place {
			return true
		}
	}
	return false
}

func (f *FromPlaces) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*f = FromPlaces{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("from must be a place or a list of places: %w", err)
	}
	*f = many
	return nil
}

func (f *FromPlaces) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*f = FromPlaces{node.Value}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*f = many
		return nil
	default:
		return fmt.Errorf("line %d: from must be a place or a list of places", node.Line)
	}
}

// ToolCall invokes one tool inside a transition.
type ToolCall struct {
	ID     string            `json:"id,omitempty" yaml:"id,omitempty"`
	Tool   string            `json:"tool" yaml:"tool"`
	Args   any               `json:"args,omitempty" yaml:"args,omitempty"`
	Assign map[string]string `json:"assign,omitempty" yaml:"assign,omitempty"`
}

// ResultID is the key the call's result is recorded under.
func (c *ToolCall) ResultID(transitionID string, index int) string {
	if c.ID != "" {
		return c.ID
	}
	return fmt.Sprintf("%s.%d", transitionID, index)
}

// ToolResult is what a tool returns: data plus optional effects.
type ToolResult struct {
	Data    any      `json:"data"`
	Effects *Effects `json:"effects,omitempty"`
}

// Effects are side effects a tool proposes to the running transition.
type Effects struct {
	SetTransitionPlace   string     `json:"setTransitionPlace,omitempty"`
	AddWorkflowDocuments []Document `json:"addWorkflowDocuments,omitempty"`
}

// Document is a versioned content record. Documents sharing a MessageID form
// an append-only chain where only the newest is valid.
type Document struct {
	ID            string     `json:"id"`
	MessageID     string     `json:"messageId"`
	Content       any        `json:"content"`
	ContentType   string     `json:"contentType,omitempty"`
	Version       int        `json:"version"`
	CreatedAt     time.Time  `json:"createdAt"`
	Invalidated   bool       `json:"invalidated,omitempty"`
	InvalidatedAt *time.Time `json:"invalidatedAt,omitempty"`
}
