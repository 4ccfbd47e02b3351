package schema

// Event type constants for the per-instance event log.
const (
	EventInstanceCreated     = "instance_created"
	EventRunStarted          = "run_started"
	EventRunSkipped          = "run_skipped"
	EventRunCompleted        = "run_completed"
	EventRunFailed           = "run_failed"
	EventInvalidated         = "invalidated"
	EventTransitionCompleted = "transition_completed"
	EventToolFailed          = "tool_failed"
	EventErrorHandlerInvoked = "error_handler_invoked"
	EventDocumentAdded       = "document_added"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusActive    InstanceStatus = "active"
	InstanceStatusCompleted InstanceStatus = "completed"
)
