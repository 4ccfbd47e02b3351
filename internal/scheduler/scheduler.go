// Package scheduler re-runs workflow instances on cron schedules. Runs whose
// arguments did not change are skipped by the engine, so frequent schedules
// only cost a validation pass.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/waypoint/internal/engine"
)

// DefaultInterval is how often due jobs are checked.
const DefaultInterval = 30 * time.Second

// Runner runs one instance. Satisfied by *engine.Processor.
type Runner interface {
	Run(ctx context.Context, req engine.RunRequest) (*engine.RunResult, error)
}

// Job re-invokes one instance on a cron schedule.
type Job struct {
	ID       string         `mapstructure:"id" json:"id"`
	Cron     string         `mapstructure:"cron" json:"cron"`
	Workflow string         `mapstructure:"workflow" json:"workflow"`
	Key      string         `mapstructure:"key" json:"key"`
	Args     map[string]any `mapstructure:"args" json:"args,omitempty"`
	Context  map[string]any `mapstructure:"context" json:"context,omitempty"`
}

// JobStatus reports a job's timing and last outcome.
type JobStatus struct {
	Job
	NextRunAt     time.Time  `json:"nextRunAt"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastRunStatus string     `json:"lastRunStatus,omitempty"`
	LastSkipped   bool       `json:"lastSkipped,omitempty"`
}

// Run statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type entry struct {
	job      Job
	schedule cron.Schedule
	status   JobStatus
}

// Scheduler checks its jobs on a ticker and runs those that are due.
type Scheduler struct {
	runner   Runner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	cancel  context.CancelFunc
	done    chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler with no jobs.
func New(runner Runner, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: DefaultInterval,
		now:      func() time.Time { return time.Now().UTC() },
		entries:  make(map[string]*entry),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. Its first run is the next cron time after now.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" {
		job.ID = job.Workflow + "/" + job.Key
	}
	if job.Workflow == "" || job.Key == "" {
		return fmt.Errorf("schedule %q: workflow and key are required", job.ID)
	}
	schedule, err := s.parser.Parse(job.Cron)
	if err != nil {
		return fmt.Errorf("schedule %q: parse cron expression %q: %w", job.ID, job.Cron, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[job.ID]; dup {
		return fmt.Errorf("schedule %q already registered", job.ID)
	}
	s.entries[job.ID] = &entry{
		job:      job,
		schedule: schedule,
		status:   JobStatus{Job: job, NextRunAt: schedule.Next(s.now())},
	}
	return nil
}

// Remove unregisters a job. Unknown IDs are ignored.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Jobs returns the status of every job ordered by ID.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Jobs())), slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every job that is due now. It returns how many ran.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.status.NextRunAt.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].job.ID < due[j].job.ID })

	ran := 0
	for _, e := range due {
		if !s.tryAcquire(e.job.ID) {
			continue // already running (dedup)
		}
		s.runJob(ctx, e, now)
		s.releaseJob(e.job.ID)
		ran++
	}
	return ran
}

// runJob runs one job and moves its next run past now.
func (s *Scheduler) runJob(ctx context.Context, e *entry, now time.Time) {
	s.logger.Info("running scheduled job",
		slog.String("job_id", e.job.ID),
		slog.String("workflow", e.job.Workflow),
		slog.String("key", e.job.Key),
	)

	res, err := s.runner.Run(ctx, engine.RunRequest{
		Workflow: e.job.Workflow,
		Key:      e.job.Key,
		Args:     e.job.Args,
		Context:  e.job.Context,
	})
	status := StatusSuccess
	if err != nil {
		status = StatusError
		s.logger.Error("scheduled job execution failed",
			slog.String("job_id", e.job.ID),
			slog.String("error", err.Error()),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e.status.LastRunAt = &now
	e.status.LastRunStatus = status
	e.status.LastSkipped = res != nil && res.Skipped
	e.status.NextRunAt = e.schedule.Next(now)
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	s.logger.Info("scheduler stopped")
	return nil
}
