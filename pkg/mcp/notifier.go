package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/waypoint/internal/streaming"
)

// Notifier pushes instance events to watching sessions.
type Notifier interface {
	Notify(ctx context.Context, event streaming.StreamEvent) error
}

// sender is the part of *server.MCPServer the notifier uses.
type sender interface {
	SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error
}

// MCPNotifier implements Notifier using MCP server notifications.
type MCPNotifier struct {
	mcpServer sender
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP notifications.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends event to every session watching its instance.
// Best-effort: sessions that went away are dropped silently.
func (n *MCPNotifier) Notify(_ context.Context, event streaming.StreamEvent) error {
	payload := map[string]any{
		"level":  "info",
		"logger": "waypoint",
		"data":   event,
	}
	var errs []error
	for _, sessionID := range n.sessions.SessionsFor(event.Instance) {
		err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			n.sessions.Remove(sessionID)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forward subscribes to hub and notifies watchers until ctx is cancelled.
func (n *MCPNotifier) Forward(ctx context.Context, hub streaming.EventHub) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			_ = n.Notify(ctx, event)
		}
	}
}
