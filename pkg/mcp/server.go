// Package mcp exposes the engine to agents as Model Context Protocol tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/registry"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/streaming"
)

// Engine is the slice of *engine.Processor the MCP tools call.
type Engine interface {
	Run(ctx context.Context, req engine.RunRequest) (*engine.RunResult, error)
	Inspect(ctx context.Context, key string) (*engine.InstanceView, error)
	Events(ctx context.Context, key string, since int64) ([]*store.Event, error)
	Instances(ctx context.Context, filter store.InstanceFilter) ([]*store.Entity, error)
	RequestTransition(ctx context.Context, key, id string) error
	Visited(ctx context.Context, key string) ([]string, error)
}

// Workflows resolves workflow blocks. Satisfied by *registry.Registry.
type Workflows interface {
	Workflow(name string) (*registry.Block, error)
	Names() []string
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Engine    Engine
	Workflows Workflows
	// Hub, when set, feeds instance events to the sessions watching them.
	Hub    streaming.EventHub
	Logger *slog.Logger
}

// Server wraps an MCP server with waypoint tool handlers.
type Server struct {
	engine    Engine
	workflows Workflows
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		engine:    deps.Engine,
		workflows: deps.Workflows,
		hub:       deps.Hub,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	s.mcpServer = server.NewMCPServer(
		"waypoint",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Waypoint drives resumable workflow instances through places and transitions. "+
			"Use waypoint.run to advance an instance, waypoint.status to inspect it, waypoint.transition to queue a manual transition, "+
			"waypoint.query to list workflows, instances or events, and waypoint.diagram to draw a workflow."),
	)
	s.mcpServer.AddTools(s.tools()...)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. Instance events are forwarded while it runs.
func (s *Server) Serve(ctx context.Context) error {
	if s.hub != nil {
		notifier := NewMCPNotifier(s.mcpServer, s.sessions)
		go func() {
			if err := notifier.Forward(ctx, s.hub); err != nil {
				s.logger.Warn("mcp event forwarding stopped", "error", err)
			}
		}()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: transitionTool(), Handler: s.handleTransition},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("waypoint.run",
		mcp.WithDescription("Run a workflow instance until no transition holds"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the registered workflow")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Instance key; the instance is created on first run")),
		mcp.WithObject("args", mcp.Description("Invocation arguments")),
		mcp.WithObject("context", mcp.Description("Caller context visible to expressions")),
		mcp.WithString("transition", mcp.Description("Transition to try before automatic ones")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("waypoint.status",
		mcp.WithDescription("Get an instance's place, state and documents"),
		mcp.WithString("key", mcp.Required(), mcp.Description("Instance key")),
	)
}

func transitionTool() mcp.Tool {
	return mcp.NewTool("waypoint.transition",
		mcp.WithDescription("Queue a transition for the instance's next run"),
		mcp.WithString("key", mcp.Required(), mcp.Description("Instance key")),
		mcp.WithString("transition", mcp.Required(), mcp.Description("Transition id")),
		mcp.WithBoolean("run", mcp.Description("Run the instance right away (default: false)")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("waypoint.query",
		mcp.WithDescription("Query workflows, instances, or events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "instances", "events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow, status, limit, key, since)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("waypoint.diagram",
		mcp.WithDescription("Draw a workflow's places and transitions. Returns ASCII art, Mermaid state diagram syntax, or a PNG image"),
		mcp.WithString("workflow", mcp.Description("Workflow name")),
		mcp.WithString("key", mcp.Description("Instance key; highlights its current and visited places")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (stateDiagram-v2), or image (PNG)"),
		),
	)
}
