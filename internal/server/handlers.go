package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/waypoint/internal/diagram"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

type runBody struct {
	Args       map[string]any `json:"args,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Transition string         `json:"transition,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var body runBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	res, err := s.deps.Engine.Run(r.Context(), engine.RunRequest{
		Workflow:   chi.URLParam(r, "name"),
		Key:        instanceKey(r),
		Args:       body.Args,
		Context:    body.Context,
		Transition: body.Transition,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleInstance(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Engine.Inspect(r.Context(), instanceKey(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	filter := store.InstanceFilter{
		Workflow: r.URL.Query().Get("workflow"),
		Limit:    queryInt(r, "limit", 100),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := schema.InstanceStatus(v)
		filter.Status = &status
	}

	list, err := s.deps.Engine.Instances(r.Context(), filter)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if list == nil {
		list = []*store.Entity{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Engine.Events(r.Context(), instanceKey(r), int64(queryInt(r, "since", 0)))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleRequestTransition(w http.ResponseWriter, r *http.Request) {
	key, id := instanceKey(r), chi.URLParam(r, "id")
	if err := s.deps.Engine.RequestTransition(r.Context(), key, id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"key": key, "pendingTransition": id})
}

func (s *Server) handleWorkflows(w http.ResponseWriter, _ *http.Request) {
	names := s.deps.Workflows.Names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	block, err := s.deps.Workflows.Workflow(chi.URLParam(r, "name"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block.Definition)
}

// handleDiagram renders a workflow graph. With ?key= the instance's current
// and visited places are highlighted.
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	block, err := s.deps.Workflows.Workflow(chi.URLParam(r, "name"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	var overlay *diagram.Overlay
	if key := r.URL.Query().Get("key"); key != "" {
		view, err := s.deps.Engine.Inspect(ctx, key)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		visited, err := s.deps.Engine.Visited(ctx, key)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		overlay = &diagram.Overlay{Place: view.Place, Visited: visited}
	}

	model, err := diagram.Build(block.Definition, overlay)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		writeText(w, "text/plain; charset=utf-8", diagram.RenderMermaid(model))
	case "ascii":
		writeText(w, "text/plain; charset=utf-8", diagram.RenderASCII(model))
	case "png", "svg":
		img, err := diagram.RenderImage(ctx, model, diagram.Format(format))
		if err != nil {
			s.deps.Logger.Error("render diagram", "workflow", block.Name(), "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		contentType := "image/png"
		if format == "svg" {
			contentType = "image/svg+xml"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(img)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown diagram format %q", format))
	}
}

func (s *Server) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Schedules == nil {
		writeError(w, http.StatusNotFound, "scheduler disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Schedules.Jobs())
}

// writeEngineError maps error codes onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(schema.CodeOf(err))
	if status >= http.StatusInternalServerError {
		s.deps.Logger.Error("request failed", "error", err)
	}

	var we *schema.WaypointError
	if errors.As(err, &we) {
		writeJSON(w, status, map[string]any{"error": we.Error(), "code": we.Code, "transition": we.Transition, "details": we.Details})
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeNotFound, schema.ErrCodeToolNotFound:
		return http.StatusNotFound
	case schema.ErrCodeValidation, schema.ErrCodeInvalidFormat, schema.ErrCodeExpressionTooLong,
		schema.ErrCodeForbiddenProperty:
		return http.StatusBadRequest
	case schema.ErrCodeConflict, schema.ErrCodeTransitionNotAllowed, schema.ErrCodeLock:
		return http.StatusConflict
	case schema.ErrCodeEvaluationFailed, schema.ErrCodeEvaluationError, schema.ErrCodeIsolationViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
