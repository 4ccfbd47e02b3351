package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/isolation"
	"github.com/rendis/waypoint/internal/lock"
	"github.com/rendis/waypoint/internal/metrics"
	"github.com/rendis/waypoint/internal/registry"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/internal/tools"
	"github.com/rendis/waypoint/internal/validation"
)

// app is the wired process: one processor over one store, shared by every
// command.
type app struct {
	cfg       Config
	logger    *slog.Logger
	tools     *tools.Registry
	validator *validation.WorkflowValidator
	workflows *registry.Registry
	store     store.Store
	locker    lock.Locker
	hub       *streaming.MemoryHub
	metrics   *metrics.Metrics
	processor *engine.Processor
}

// newApp builds every component from cfg. Workflow definitions are loaded
// from cfg.WorkflowsDir when it exists.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, tools: tools.NewRegistry()}

	wv, err := validation.NewWorkflowValidator(a.tools)
	if err != nil {
		return nil, fmt.Errorf("create validator: %w", err)
	}
	a.validator = wv
	if err := tools.RegisterBuiltins(a.tools, wv.Schemas()); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.workflows = registry.New(wv, logger)
	a.hub = streaming.NewMemoryHub()
	a.metrics = metrics.New()
	a.processor = engine.NewProcessor(engine.Config{
		MaxIterations: cfg.MaxIterations,
		LockTTL:       cfg.LockTTL,
	}, engine.Deps{
		Workflows: a.workflows,
		Tools:     a.tools,
		Store:     a.store,
		Locker:    a.locker,
		Evaluator: expressions.NewEvaluator(wv.Schemas(), cfg.TemplateCache),
		Isolation: isolation.NewManager(),
		Hub:       a.hub,
		Metrics:   a.metrics,
		Logger:    logger,
	})
	// Fan-out runs children through the same processor, so it is registered
	// after the processor exists. Definitions referencing it load afterwards.
	if err := tools.RegisterFanout(a.tools, a.processor.RunChild, cfg.PoolSize, wv.Schemas()); err != nil {
		a.Close()
		return nil, fmt.Errorf("register fanout: %w", err)
	}

	if err := a.loadWorkflows(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store {
	case StoreMemory:
		a.store = store.NewMemoryStore()
		a.locker = lock.NewMemoryLocker()
	case StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("connect redis %s: %w", a.cfg.RedisAddr, err)
		}
		a.store = store.NewRedisStore(client, store.WithPrefix(a.cfg.RedisPrefix))
		a.locker = lock.NewRedisLocker(client, a.cfg.RedisPrefix+"lock:")
	default:
		if dir := filepath.Dir(strings.TrimPrefix(a.cfg.DBPath, "file:")); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create db directory: %w", err)
			}
		}
		s, err := store.NewLibSQLStore(a.cfg.dsn())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return fmt.Errorf("migrate store: %w", err)
		}
		a.store = s
		a.locker = lock.NewMemoryLocker()
	}
	a.logger.Info("store opened", slog.String("backend", a.cfg.Store))
	return nil
}

func (a *app) loadWorkflows() error {
	dir := a.cfg.WorkflowsDir
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("workflows directory not found", slog.String("dir", dir))
		return nil
	}
	n, err := a.workflows.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}
	a.logger.Info("workflows loaded", slog.Int("count", n), slog.String("dir", dir))
	return nil
}

// Close releases the store. The redis locker shares the store's client.
func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", slog.String("error", err.Error()))
	}
	a.store = nil
}
