package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

// EventAppender is satisfied by every store.Store; the engine records its
// history through it.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ErrorHandlerResult describes the outcome of a failed tool call.
type ErrorHandlerResult struct {
	// Handled is true when the transition routes the failure.
	Handled bool
	// Place is the onError place the transition moves to.
	Place string
}

// HandleTransitionError decides what a failed tool call means for the
// running transition. Transitions with an onError place absorb the failure:
// it is logged, recorded as error_handler_invoked and the place moves to
// onError. Without onError the failure is unhandled and the caller must
// propagate it.
func HandleTransitionError(
	ctx context.Context,
	events EventAppender,
	logger *slog.Logger,
	instance string,
	tr *schema.Transition,
	callErr error,
) *ErrorHandlerResult {
	if tr.OnError == "" {
		return &ErrorHandlerResult{Handled: false}
	}

	logger.WarnContext(ctx, "tool call failed, routing to onError",
		slog.String("on_error", tr.OnError),
		slog.String("code", schema.CodeOf(callErr)),
		slog.String("error", callErr.Error()),
	)

	payload, _ := json.Marshal(map[string]any{
		"error":    callErr.Error(),
		"code":     schema.CodeOf(callErr),
		"on_error": tr.OnError,
	})
	if err := events.AppendEvent(ctx, &store.Event{
		InstanceKey: instance,
		Transition:  tr.ID,
		Type:        schema.EventErrorHandlerInvoked,
		Payload:     payload,
	}); err != nil {
		logger.ErrorContext(ctx, "append error_handler_invoked event", slog.String("error", err.Error()))
	}

	return &ErrorHandlerResult{Handled: true, Place: tr.OnError}
}
