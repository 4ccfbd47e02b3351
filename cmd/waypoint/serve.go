package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/scheduler"
	"github.com/rendis/waypoint/internal/server"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
	cmd.Flags().String("listen", "", "listen address (default :4200)")
	_ = c.v.BindPFlag("listen_addr", cmd.Flags().Lookup("listen"))
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(a.processor, c.logger)
	for _, job := range c.cfg.Schedules {
		if err := sched.Add(job); err != nil {
			return fmt.Errorf("schedules: %w", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = sched.Stop() }()

	c.watchConfig(sched)

	srv := server.New(server.Deps{
		Engine:    a.processor,
		Workflows: a.workflows,
		Hub:       a.hub,
		Metrics:   a.metrics.Handler(),
		Schedules: sched,
		Logger:    c.logger,
	})
	c.logger.Info("waypoint serving",
		slog.String("addr", c.cfg.ListenAddr),
		slog.Int("workflows", len(a.workflows.Names())),
		slog.Int("schedules", len(c.cfg.Schedules)),
	)
	return srv.ListenAndServe(ctx, c.cfg.ListenAddr)
}

// watchConfig re-reads the config file on change. Schedules are swapped in
// place; anything else is reported as needing a restart.
func (c *cli) watchConfig(sched *scheduler.Scheduler) {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	var mu sync.Mutex
	current := c.cfg
	c.v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		next, err := loadConfig(c.v, c.configPath)
		if err != nil {
			c.logger.Warn("config reload rejected", slog.String("file", e.Name), slog.String("error", err.Error()))
			return
		}
		d := diffConfigs(current, next)
		if len(d.RestartNeeded) > 0 {
			c.logger.Warn("config changes need a restart", slog.Any("fields", d.RestartNeeded))
		}
		if d.SchedulesChanged {
			applySchedules(sched, current.Schedules, next.Schedules, c.logger)
		}
		current = next
	})
	c.v.WatchConfig()
}

// applySchedules replaces the jobs from old with the jobs from next.
func applySchedules(sched *scheduler.Scheduler, old, next []scheduler.Job, logger *slog.Logger) {
	for _, job := range old {
		sched.Remove(jobID(job))
	}
	for _, job := range next {
		if err := sched.Add(job); err != nil {
			logger.Warn("schedule not loaded", slog.String("job_id", jobID(job)), slog.String("error", err.Error()))
		}
	}
	logger.Info("schedules reloaded", slog.Int("jobs", len(sched.Jobs())))
}

func jobID(job scheduler.Job) string {
	if job.ID != "" {
		return job.ID
	}
	return job.Workflow + "/" + job.Key
}
