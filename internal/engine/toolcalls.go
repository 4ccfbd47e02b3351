package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/metrics"
	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/pkg/schema"
)

// runCalls executes a transition's tool calls in order and returns the
// place the transition resolves to.
func (p *Processor) runCalls(ctx context.Context, r *run, tr *schema.Transition) (string, error) {
	place := tr.To
	proposed := false
	for i := range tr.Call {
		next, err := p.runCall(ctx, r, tr, &tr.Call[i], i)
		if err == nil {
			if next == "" {
				continue
			}
			// Last proposal wins.
			if proposed && next != place {
				r.logger.Warn("place proposal overridden by a later call",
					slog.String("transition", tr.ID),
					slog.String("previous", place),
					slog.String("place", next),
				)
			}
			place, proposed = next, true
			continue
		}

		if schema.IsCode(err, schema.ErrCodeToolNotFound) {
			return "", attachTransition(err, tr.ID)
		}
		p.record(ctx, r.logger, r.entity.Key, r.block.Name(), tr.ID, schema.EventToolFailed, map[string]any{
			"tool":  tr.Call[i].Tool,
			"call":  tr.Call[i].ResultID(tr.ID, i),
			"error": err.Error(),
			"code":  schema.CodeOf(err),
		})
		handled := HandleTransitionError(ctx, p.store, r.logger.With(slog.String("transition", tr.ID)), r.entity.Key, tr, err)
		if !handled.Handled {
			return "", attachTransition(err, tr.ID)
		}
		r.lastError = err.Error()
		return handled.Place, nil
	}
	r.lastError = ""
	return place, nil
}

// runCall executes one tool call and applies its result. It returns the
// place proposed by the tool, or "".
func (p *Processor) runCall(ctx context.Context, r *run, tr *schema.Transition, call *schema.ToolCall, index int) (string, error) {
	tool, err := p.tools.Get(call.Tool)
	if err != nil {
		return "", err
	}
	ctx = logging.WithTool(ctx, tool.Name())
	resultID := call.ResultID(tr.ID, index)
	runtime := r.runtime(tr.ID, resultID)

	evaluated, err := p.eval.EvaluateDeep(ctx, call.Args, r.data(runtime), r.opts())
	if err != nil {
		return "", err
	}
	args, err := toolArgs(tool.Name(), evaluated)
	if err != nil {
		return "", err
	}
	if err := tool.Validate(args); err != nil {
		return "", err
	}

	inv := p.isolation.Enter(tool.Name(), tool.Schema().Fields, isolation.Scope{
		State:   isolation.NewScratchState(nil),
		Args:    args,
		Context: r.context,
		Runtime: runtime,
	})
	start := time.Now()
	res, err := tool.Execute(ctx, inv)
	elapsed := time.Since(start)
	if err != nil {
		p.metrics.ToolCall(tool.Name(), metrics.OutcomeError, elapsed)
		return "", err
	}
	p.metrics.ToolCall(tool.Name(), metrics.OutcomeOK, elapsed)
	if res == nil {
		res = &schema.ToolResult{}
	}

	r.ws.SetToolResult(resultID, res.Data)
	if err := p.assign(ctx, r, call, res.Data); err != nil {
		return "", err
	}
	return p.applyEffects(ctx, r, tr, res.Effects), nil
}

func toolArgs(tool string, v any) (map[string]any, error) {
	switch args := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return args, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "arguments of tool %q must be an object, got %T", tool, v)
	}
}

// assign evaluates every assign expression against the call's result and
// merges the values into the state as one update.
func (p *Processor) assign(ctx context.Context, r *run, call *schema.ToolCall, data any) error {
	if len(call.Assign) == 0 {
		return nil
	}
	fields := make([]string, 0, len(call.Assign))
	for f := range call.Assign {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	env := expressions.ResultData(data)
	partial := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := p.eval.Evaluate(ctx, call.Assign[f], env, r.opts())
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeEvaluationFailed, "assign %q: %v", f, err).WithCause(err)
		}
		partial[f] = v
	}
	return r.ws.Update(partial)
}

// applyEffects adds proposed documents and returns the proposed place.
func (p *Processor) applyEffects(ctx context.Context, r *run, tr *schema.Transition, eff *schema.Effects) string {
	if eff == nil {
		return ""
	}
	if len(eff.AddWorkflowDocuments) > 0 {
		for _, doc := range r.ws.AddDocuments(eff.AddWorkflowDocuments...) {
			r.logger.Debug("document added",
				slog.String("document", doc.ID),
				slog.String("message", doc.MessageID),
				slog.Int("version", doc.Version),
			)
			p.publish(ctx, r.logger, streaming.StreamEvent{
				Instance:   r.entity.Key,
				Workflow:   r.block.Name(),
				Transition: tr.ID,
				EventType:  schema.EventDocumentAdded,
				Payload:    doc,
			})
		}
	}
	return eff.SetTransitionPlace
}

func attachTransition(err error, id string) error {
	if wErr, ok := err.(*schema.WaypointError); ok {
		if wErr.Transition == "" {
			wErr.Transition = id
		}
		return wErr
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err).WithTransition(id)
}
