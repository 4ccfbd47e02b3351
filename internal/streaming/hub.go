// Package streaming fans out engine events to in-process observers.
package streaming

import "context"

// StreamEvent is a real-time event emitted while an instance runs.
type StreamEvent struct {
	Instance   string `json:"instance"`
	Workflow   string `json:"workflow,omitempty"`
	Transition string `json:"transition,omitempty"`
	EventType  string `json:"type"`
	Payload    any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	Instance   string   `json:"instance,omitempty"`
	EventTypes []string `json:"types,omitempty"`
}

// EventHub provides pub/sub for real-time instance events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
