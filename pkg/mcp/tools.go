package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/waypoint/internal/diagram"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

// handleRun runs one instance.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflow, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}

	s.captureSession(ctx, key)

	result, runErr := s.engine.Run(ctx, engine.RunRequest{
		Workflow:   workflow,
		Key:        key,
		Args:       mcp.ParseStringMap(req, "args", nil),
		Context:    mcp.ParseStringMap(req, "context", nil),
		Transition: req.GetString("transition", ""),
	})
	if runErr != nil {
		return errorResult("run failed", runErr), nil
	}
	return marshalResult(result)
}

// handleStatus returns the persisted view of an instance.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}

	view, viewErr := s.engine.Inspect(ctx, key)
	if viewErr != nil {
		return errorResult("status query failed", viewErr), nil
	}
	return marshalResult(view)
}

// handleTransition queues a transition and optionally runs the instance.
func (s *Server) handleTransition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required"), nil
	}
	id, err := req.RequireString("transition")
	if err != nil {
		return mcp.NewToolResultError("transition is required"), nil
	}

	s.captureSession(ctx, key)

	if reqErr := s.engine.RequestTransition(ctx, key, id); reqErr != nil {
		return errorResult("transition request failed", reqErr), nil
	}
	if !req.GetBool("run", false) {
		return marshalResult(map[string]any{"key": key, "pendingTransition": id})
	}

	view, viewErr := s.engine.Inspect(ctx, key)
	if viewErr != nil {
		return errorResult("transition queued but lookup failed", viewErr), nil
	}
	result, runErr := s.engine.Run(ctx, engine.RunRequest{Workflow: view.Workflow, Key: key})
	if runErr != nil {
		return errorResult("transition queued but run failed", runErr), nil
	}
	return marshalResult(result)
}

// handleQuery lists workflows, instances, or events.
func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return marshalResult(map[string]any{"workflows": s.workflows.Names()})
	case "instances":
		return s.queryInstances(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

func (s *Server) queryInstances(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	f := store.InstanceFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if workflow, ok := filter["workflow"].(string); ok {
		f.Workflow = workflow
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		st := schema.InstanceStatus(status)
		f.Status = &st
	}

	instances, err := s.engine.Instances(ctx, f)
	if err != nil {
		return errorResult("query failed", err), nil
	}
	return marshalResult(map[string]any{"instances": instances})
}

func (s *Server) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	key, _ := filter["key"].(string)
	if key == "" {
		return mcp.NewToolResultError("event query requires 'key' in filter"), nil
	}

	events, err := s.engine.Events(ctx, key, int64(extractInt(filter, "since", 0)))
	if err != nil {
		return errorResult("query failed", err), nil
	}
	if limit := extractInt(filter, "limit", 0); limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return marshalResult(map[string]any{"events": events})
}

// handleDiagram draws a workflow, highlighting an instance when key is set.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	workflow := req.GetString("workflow", "")
	key := req.GetString("key", "")
	if workflow == "" && key == "" {
		return mcp.NewToolResultError("at least one of workflow or key is required"), nil
	}

	var overlay *diagram.Overlay
	if key != "" {
		view, viewErr := s.engine.Inspect(ctx, key)
		if viewErr != nil {
			return errorResult("instance not found", viewErr), nil
		}
		visited, visitErr := s.engine.Visited(ctx, key)
		if visitErr != nil {
			return errorResult("event lookup failed", visitErr), nil
		}
		overlay = &diagram.Overlay{Place: view.Place, Visited: visited}
		if workflow == "" {
			workflow = view.Workflow
		}
	}

	block, blockErr := s.workflows.Workflow(workflow)
	if blockErr != nil {
		return errorResult("workflow lookup failed", blockErr), nil
	}

	model, buildErr := diagram.Build(block.Definition, overlay)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model, diagram.FormatPNG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultImage(workflow, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	}
}

// --- Internal helpers ---

// errorResult renders err with its code so agents can branch on it.
func errorResult(prefix string, err error) *mcp.CallToolResult {
	if code := schema.CodeOf(err); code != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s (%s): %v", prefix, code, err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession lets the calling session receive the instance's events.
func (s *Server) captureSession(ctx context.Context, key string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Watch(key, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
