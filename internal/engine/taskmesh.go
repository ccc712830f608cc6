// Package engine provides the core task orchestration engine
package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh/pkg/coordinator"
	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/server"
	"github.com/taskmesh/taskmesh/pkg/supervisor"
	"github.com/taskmesh/taskmesh/pkg/types"
	"github.com/taskmesh/taskmesh/pkg/worker"
)

// Taskmesh is the main orchestration engine. It owns the coordinator,
// the supervisor, one worker per role and the HTTP surface, wired over
// a single hub.
type Taskmesh struct {
	config      *types.TaskmeshConfig
	projectRoot string
	configPath  string
	logger      logger.Logger

	hub            interfaces.TaskHub
	processManager interfaces.ProcessManager
	coordinator    *coordinator.Coordinator
	supervisor     *supervisor.Supervisor
	workers        []*worker.Worker
	server         *server.Server

	isRunning bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	mu        sync.RWMutex
}

// New creates a new Taskmesh instance with injected dependencies
func New(
	config *types.TaskmeshConfig,
	projectRoot string,
	log logger.Logger,
	deps interfaces.Dependencies,
	configPath string,
) *Taskmesh {
	if deps.Hub == nil {
		panic("Hub dependency is required")
	}

	coord := coordinator.New(config, log, deps)
	sup := supervisor.New(config.Supervisor, log, coord, deps.Notifier)

	workers := make([]*worker.Worker, 0, len(types.Roles()))
	if deps.Generator != nil {
		for _, role := range types.Roles() {
			workers = append(workers, worker.New(
				role, config.ProjectID, deps.Hub, deps.Generator, sup, log))
		}
	}

	var srv *server.Server
	if config.Server != nil && config.Server.Addr != "" {
		srv = server.New(config.Server.Addr, deps.Hub, coord, sup, log)
	}

	return &Taskmesh{
		config:         config,
		projectRoot:    projectRoot,
		configPath:     configPath,
		logger:         log,
		hub:            deps.Hub,
		processManager: deps.ProcessManager,
		coordinator:    coord,
		supervisor:     sup,
		workers:        workers,
		server:         srv,
	}
}

// Coordinator exposes the coordinator, for status queries
func (t *Taskmesh) Coordinator() *coordinator.Coordinator {
	return t.coordinator
}

// Supervisor exposes the supervisor, for escalation queries
func (t *Taskmesh) Supervisor() *supervisor.Supervisor {
	return t.supervisor
}

// StartWithContext launches the engine. Workers and the HTTP surface
// run until the context is cancelled; the coordinator runs until the
// project completes, which also winds the run down.
func (t *Taskmesh) StartWithContext(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return fmt.Errorf("taskmesh is already running")
	}
	t.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	t.group = g
	t.mu.Unlock()

	if t.processManager != nil {
		t.processManager.Start(gctx)
	}

	if t.server != nil {
		g.Go(func() error {
			return t.server.Run(gctx)
		})
	}

	for _, w := range t.workers {
		w := w
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		err := t.coordinator.Start(gctx)
		// A finished run takes the workers and server down with it
		cancel()
		if err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	if t.logger != nil {
		t.logger.Info("Taskmesh started",
			logger.WithField("project", t.config.ProjectID),
			logger.WithField("workers", len(t.workers)))
	}

	return nil
}

// Wait blocks until the run completes or fails
func (t *Taskmesh) Wait() error {
	t.mu.RLock()
	g := t.group
	t.mu.RUnlock()

	if g == nil {
		return fmt.Errorf("taskmesh is not running")
	}

	err := g.Wait()

	t.mu.Lock()
	t.isRunning = false
	t.mu.Unlock()

	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// StopWithContext stops the engine and waits for the loops to exit
func (t *Taskmesh) StopWithContext(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	running := t.isRunning
	t.mu.Unlock()

	if !running {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan error, 1)
	go func() { done <- t.Wait() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// IsRunning reports whether the engine is active
func (t *Taskmesh) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isRunning
}
