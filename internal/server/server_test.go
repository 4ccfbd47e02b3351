package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/registry"
	"github.com/rendis/waypoint/internal/scheduler"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/pkg/schema"
)

// fakeEngine records calls and returns canned values.
type fakeEngine struct {
	lastRun     engine.RunRequest
	runErr      error
	requested   [2]string
	instances   []*store.Entity
	lastFilter  store.InstanceFilter
	events      []*store.Event
	lastSince   int64
	view        *engine.InstanceView
	visited     []string
	transitionE error
}

func (f *fakeEngine) Run(_ context.Context, req engine.RunRequest) (*engine.RunResult, error) {
	f.lastRun = req
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &engine.RunResult{Key: req.Key, Workflow: req.Workflow, Place: "review", Transitions: []string{"submit"}}, nil
}

func (f *fakeEngine) Inspect(_ context.Context, key string) (*engine.InstanceView, error) {
	if f.view == nil || f.view.Key != key {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "instance %q not found", key)
	}
	return f.view, nil
}

func (f *fakeEngine) Events(_ context.Context, _ string, since int64) ([]*store.Event, error) {
	f.lastSince = since
	return f.events, nil
}

func (f *fakeEngine) Instances(_ context.Context, filter store.InstanceFilter) ([]*store.Entity, error) {
	f.lastFilter = filter
	return f.instances, nil
}

func (f *fakeEngine) RequestTransition(_ context.Context, key, id string) error {
	f.requested = [2]string{key, id}
	return f.transitionE
}

func (f *fakeEngine) Visited(context.Context, string) ([]string, error) { return f.visited, nil }

type fakeWorkflows map[string]*schema.WorkflowDefinition

func (f fakeWorkflows) Workflow(name string) (*registry.Block, error) {
	def, ok := f[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not registered", name)
	}
	return &registry.Block{Definition: def}, nil
}

func (f fakeWorkflows) Names() []string {
	var out []string
	for name := range f {
		out = append(out, name)
	}
	return out
}

type fakeSchedules []scheduler.JobStatus

func (f fakeSchedules) Jobs() []scheduler.JobStatus { return f }

func reviewDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name:   "review",
		Places: []string{"draft"},
		Transitions: []schema.Transition{
			{ID: "submit", From: schema.FromPlaces{schema.PlaceStart}, To: "draft"},
			{ID: "approve", From: schema.FromPlaces{"draft"}, To: schema.PlaceEnd, Trigger: schema.TriggerManual},
		},
	}
}

func newTestServer(eng *fakeEngine, hub streaming.EventHub) http.Handler {
	return New(Deps{
		Engine:    eng,
		Workflows: fakeWorkflows{"review": reviewDef()},
		Hub:       hub,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("waypoint_runs_total 1\n"))
		}),
		Schedules: fakeSchedules{{Job: scheduler.Job{ID: "nightly"}}},
		Logger:    logging.NewNop(),
	}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRun(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestServer(eng, nil)

	w := do(t, h, http.MethodPost, "/v1/workflows/review/instances/doc-1/run",
		`{"args":{"amount":3},"transition":"approve"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "review", eng.lastRun.Workflow)
	assert.Equal(t, "doc-1", eng.lastRun.Key)
	assert.Equal(t, "approve", eng.lastRun.Transition)
	assert.EqualValues(t, 3, eng.lastRun.Args["amount"])

	var res engine.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, []string{"submit"}, res.Transitions)
}

func TestRun_EmptyBody(t *testing.T) {
	eng := &fakeEngine{}
	w := do(t, newTestServer(eng, nil), http.MethodPost, "/v1/workflows/review/instances/doc-1/run", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, eng.lastRun.Args)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"validation", `{}`, schema.NewError(schema.ErrCodeValidation, "bad args"), http.StatusBadRequest},
		{"unknown workflow", `{}`, schema.NewError(schema.ErrCodeNotFound, "nope"), http.StatusNotFound},
		{"conflict", `{}`, schema.NewError(schema.ErrCodeConflict, "other workflow"), http.StatusConflict},
		{"tool failure", `{}`, schema.NewError(schema.ErrCodeExecution, "boom").WithTransition("submit"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestServer(&fakeEngine{runErr: tt.err}, nil), http.MethodPost,
				"/v1/workflows/review/instances/doc-1/run", tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	w := do(t, newTestServer(&fakeEngine{runErr: schema.NewError(schema.ErrCodeExecution, "boom").WithTransition("submit")}, nil),
		http.MethodPost, "/v1/workflows/review/instances/doc-1/run", `{}`)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, schema.ErrCodeExecution, body["code"])
	assert.Equal(t, "submit", body["transition"])
}

func TestInstanceRoutes(t *testing.T) {
	eng := &fakeEngine{
		view:      &engine.InstanceView{Key: "doc-1", Workflow: "review", Place: "draft"},
		instances: []*store.Entity{{Key: "doc-1", Workflow: "review"}},
		events:    []*store.Event{{Sequence: 3, Type: schema.EventRunCompleted}},
	}
	h := newTestServer(eng, nil)

	w := do(t, h, http.MethodGet, "/v1/instances/doc-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"place":"draft"`)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/instances/ghost", "").Code)

	w = do(t, h, http.MethodGet, "/v1/instances?workflow=review&status=active&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "review", eng.lastFilter.Workflow)
	require.NotNil(t, eng.lastFilter.Status)
	assert.Equal(t, schema.InstanceStatusActive, *eng.lastFilter.Status)
	assert.Equal(t, 5, eng.lastFilter.Limit)

	w = do(t, h, http.MethodGet, "/v1/instances/doc-1/events?since=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, eng.lastSince)
	assert.Contains(t, w.Body.String(), schema.EventRunCompleted)

	eng.events = nil
	w = do(t, h, http.MethodGet, "/v1/instances/doc-1/events", "")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestRequestTransition(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestServer(eng, nil)

	w := do(t, h, http.MethodPost, "/v1/instances/doc-1/transitions/approve", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, [2]string{"doc-1", "approve"}, eng.requested)

	eng.transitionE = schema.NewError(schema.ErrCodeNotFound, "no such transition")
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/v1/instances/doc-1/transitions/nope", "").Code)
}

func TestInstanceRoutes_EscapedChildKey(t *testing.T) {
	const child = "doc-1/review/0"
	eng := &fakeEngine{view: &engine.InstanceView{Key: child, Workflow: "review", Place: "draft"}}
	h := newTestServer(eng, nil)

	w := do(t, h, http.MethodGet, "/v1/instances/doc-1%2Freview%2F0", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"place":"draft"`)

	w = do(t, h, http.MethodPost, "/v1/instances/doc-1%2Freview%2F0/transitions/approve", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, [2]string{child, "approve"}, eng.requested)

	w = do(t, h, http.MethodPost, "/v1/workflows/review/instances/doc-1%2Freview%2F0/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, child, eng.lastRun.Key)
}

func TestWorkflowRoutes(t *testing.T) {
	h := newTestServer(&fakeEngine{}, nil)

	w := do(t, h, http.MethodGet, "/v1/workflows", "")
	assert.JSONEq(t, `["review"]`, w.Body.String())

	w = do(t, h, http.MethodGet, "/v1/workflows/review", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"review"`)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/workflows/ghost", "").Code)
}

func TestDiagram(t *testing.T) {
	eng := &fakeEngine{
		view:    &engine.InstanceView{Key: "doc-1", Place: "draft"},
		visited: []string{schema.PlaceStart, "draft"},
	}
	h := newTestServer(eng, nil)

	w := do(t, h, http.MethodGet, "/v1/workflows/review/diagram", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "stateDiagram-v2"))
	assert.NotContains(t, w.Body.String(), "class p_draft current")

	w = do(t, h, http.MethodGet, "/v1/workflows/review/diagram?key=doc-1", "")
	assert.Contains(t, w.Body.String(), "class p_draft current")
	assert.Contains(t, w.Body.String(), "class p_start visited")

	w = do(t, h, http.MethodGet, "/v1/workflows/review/diagram?format=ascii&key=doc-1", "")
	assert.Contains(t, w.Body.String(), "[HERE]")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/workflows/review/diagram?format=gif", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/workflows/review/diagram?key=ghost", "").Code)
}

func TestAmbientRoutes(t *testing.T) {
	h := newTestServer(&fakeEngine{}, nil)

	assert.JSONEq(t, `{"status":"ok"}`, do(t, h, http.MethodGet, "/healthz", "").Body.String())
	assert.Contains(t, do(t, h, http.MethodGet, "/metrics", "").Body.String(), "waypoint_runs_total")
	assert.Contains(t, do(t, h, http.MethodGet, "/v1/schedules", "").Body.String(), `"id":"nightly"`)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/stream", "").Code, "no hub configured")
}

func TestInstanceStream(t *testing.T) {
	hub := streaming.NewMemoryHub()
	srv := httptest.NewServer(newTestServer(&fakeEngine{}, hub))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/instances/doc-1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Equal(t, 1, hub.Subscribers())
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{Instance: "other", EventType: schema.EventRunStarted}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{Instance: "doc-1", EventType: schema.EventTransitionCompleted}))

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	assert.Equal(t, "event: "+schema.EventTransitionCompleted, scanner.Text())
	require.True(t, scanner.Scan())
	assert.Contains(t, scanner.Text(), `"instance":"doc-1"`)
}
