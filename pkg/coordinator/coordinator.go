// Package coordinator produces, prioritizes and throttles generation
// tasks and runs the accept/rework/escalate decision engine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/types"
	"github.com/taskmesh/taskmesh/pkg/utils"
)

// ErrStructureTimeout is returned when the project structure cannot be
// fetched within the configured deadline. This is the only failure that
// halts the whole run.
var ErrStructureTimeout = errors.New("structure fetch timed out")

// HighPriorityFile is always ordered first when present in a structure
const HighPriorityFile = "idea.md"

// StructureSourceFunc adapts a function to interfaces.StructureSource
type StructureSourceFunc func(ctx context.Context) (types.ProjectStructure, error)

// FetchStructure implements interfaces.StructureSource
func (f StructureSourceFunc) FetchStructure(ctx context.Context) (types.ProjectStructure, error) {
	return f(ctx)
}

// Coordinator owns the per-file-per-role status map and decides what
// work to create, when, and how much of it may be outstanding at once.
// It is the single writer of file/role status; the hub separately owns
// per-subtask status, reconciled one-directionally into this view.
type Coordinator struct {
	cfg             *types.TaskmeshConfig
	logger          logger.Logger
	hub             interfaces.TaskHub
	store           interfaces.ContentStore
	advisor         interfaces.Advisor
	notifier        interfaces.RunNotifier
	structureSource interfaces.StructureSource

	testableExts *utils.ExtensionSet

	mu             sync.Mutex
	files          []string
	statuses       map[types.TaskKey]types.TaskState
	subtaskToKey   map[string]types.TaskKey
	inflight       map[types.TaskKey]string
	reworkAttempts map[string]int
	reworkContext  map[string]string
	localRetries   map[types.TaskKey]int

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a coordinator. Hub and config are required; store,
// advisor, notifier and structure source may be nil depending on which
// operations are driven.
func New(cfg *types.TaskmeshConfig, log logger.Logger, deps interfaces.Dependencies) *Coordinator {
	if deps.Hub == nil {
		panic("Hub dependency is required")
	}
	if cfg.Coordinator == nil {
		panic("Coordinator config is required")
	}

	return &Coordinator{
		cfg:             cfg,
		logger:          log,
		hub:             deps.Hub,
		store:           deps.Store,
		advisor:         deps.Advisor,
		notifier:        deps.Notifier,
		structureSource: deps.StructureSource,
		testableExts:    utils.NewExtensionSet(cfg.Coordinator.TestableExtensions),
		statuses:        make(map[types.TaskKey]types.TaskState),
		subtaskToKey:    make(map[string]types.TaskKey),
		inflight:        make(map[types.TaskKey]string),
		reworkAttempts:  make(map[string]int),
		reworkContext:   make(map[string]string),
		localRetries:    make(map[types.TaskKey]int),
	}
}

// Initialize fetches the project structure, polling with the configured
// interval until success or the structure timeout. On timeout the run
// halts with ErrStructureTimeout.
func (c *Coordinator) Initialize(ctx context.Context) error {
	if c.structureSource == nil {
		return fmt.Errorf("no structure source configured")
	}

	timeout := 300 * time.Second
	poll := 2 * time.Second
	if s := c.cfg.Structure; s != nil {
		if s.TimeoutSeconds > 0 {
			timeout = time.Duration(s.TimeoutSeconds) * time.Second
		}
		if s.PollIntervalMS > 0 {
			poll = time.Duration(s.PollIntervalMS) * time.Millisecond
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		structure, err := c.structureSource.FetchStructure(fetchCtx)
		cancel()
		if err == nil {
			c.SeedFromStructure(structure)
			return nil
		}

		if c.logger != nil {
			c.logger.Warn("Structure fetch failed, retrying", logger.WithField("error", err))
		}

		if time.Now().Add(poll).After(deadline) {
			return fmt.Errorf("%w after %s: %v", ErrStructureTimeout, timeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// SeedFromStructure flattens a structure and seeds the three logical
// tasks for every file: executor and documenter start pending, tester
// starts pending only when the extension is testable and is otherwise
// skipped immediately.
func (c *Coordinator) SeedFromStructure(structure types.ProjectStructure) {
	files := FlattenStructure(structure)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.files = files
	for _, file := range files {
		c.statuses[types.TaskKey{Filename: file, Role: types.RoleExecutor}] = types.TaskStatePending
		c.statuses[types.TaskKey{Filename: file, Role: types.RoleDocumenter}] = types.TaskStatePending

		testerKey := types.TaskKey{Filename: file, Role: types.RoleTester}
		if c.testableExts.Contains(file) {
			c.statuses[testerKey] = types.TaskStatePending
		} else {
			c.statuses[testerKey] = types.TaskStateSkipped
		}
	}

	if c.logger != nil {
		c.logger.Info(fmt.Sprintf("Seeded %d task(s) across %d file(s)",
			len(c.statuses), len(files)))
	}
}

// Start runs the coordinator cycle until completion or cancellation
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator is already running")
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if err := c.Initialize(ctx); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}

	c.wg.Add(1)
	defer c.wg.Done()

	for {
		done, err := c.RunCycle(ctx)
		if err != nil {
			return err
		}
		if done {
			c.finishRun()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cycleSleep()):
		}
	}
}

// Stop cancels a running coordinator and waits for the loop to exit
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.running = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// RunCycle performs one coordination cycle: reconcile worker progress
// from the hub, then submit as many prioritized tasks as the dynamic
// concurrency limit allows. Returns true when every task is terminal.
func (c *Coordinator) RunCycle(ctx context.Context) (bool, error) {
	c.Reconcile()

	slots := c.slotsAvailable()
	if slots > 0 {
		candidates := c.Prioritize(ctx)
		submitted := 0
		for _, key := range candidates {
			if submitted >= slots {
				break
			}
			if c.submitTask(ctx, key) {
				submitted++
			}
		}
		if submitted > 0 && c.logger != nil {
			c.logger.Debug(fmt.Sprintf("Submitted %d task(s) this cycle (slots: %d)",
				submitted, slots))
		}
	}

	return c.IsComplete(), nil
}

// Reconcile folds the hub's per-subtask statuses into the coordinator's
// file/role view. Only tasks the coordinator considers in flight adopt
// hub state, so applying the same snapshot twice is a no-op and decision
// outcomes are never regressed by stale hub state.
func (c *Coordinator) Reconcile() {
	hubStatuses := c.hub.AllStatuses()

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, hubState := range hubStatuses {
		key, ok := c.subtaskToKey[id]
		if !ok {
			continue
		}
		if c.inflight[key] != id {
			continue
		}

		current := c.statuses[key]
		if !current.IsActive() && current != types.TaskStatePending {
			continue
		}
		// The hub's pending just means queued; the coordinator already
		// tracks that as sent.
		if hubState == types.TaskStatePending {
			continue
		}

		if current != hubState {
			c.statuses[key] = hubState
			if hubState == types.TaskStateErrorProcessing {
				// Keyed by file/role so the count survives redistribution
				// minting fresh subtask IDs
				c.localRetries[key]++
			}
		}
		if hubState.IsTerminal() {
			delete(c.inflight, key)
		}

		// Delivered code completes a documenter task outright, and an
		// executor task too when the file has no test gate. Tested
		// executors wait for the decision engine.
		if hubState == types.TaskStateCodeReceived {
			switch key.Role {
			case types.RoleDocumenter:
				c.statuses[key] = types.TaskStateAccepted
				delete(c.inflight, key)
			case types.RoleExecutor:
				testerKey := types.TaskKey{Filename: key.Filename, Role: types.RoleTester}
				switch c.statuses[testerKey] {
				case types.TaskStateSkipped:
					c.statuses[key] = types.TaskStateAccepted
					delete(c.inflight, key)
				case types.TaskStateNeedsRework:
					// A rework delivery reopens the file's test gate
					c.statuses[testerKey] = types.TaskStatePending
				}
			}
		}
	}
}

// IsComplete reports whether every file/role task is terminal
func (c *Coordinator) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, state := range c.statuses {
		if !state.IsTerminal() {
			return false
		}
	}
	return len(c.statuses) > 0
}

// Statuses returns a snapshot of the file/role status map
func (c *Coordinator) Statuses() map[types.TaskKey]types.TaskState {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make(map[types.TaskKey]types.TaskState, len(c.statuses))
	for k, v := range c.statuses {
		snapshot[k] = v
	}
	return snapshot
}

// Status returns the state of one file/role task
func (c *Coordinator) Status(key types.TaskKey) (types.TaskState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.statuses[key]
	return state, ok
}

// ReworkAttempts returns the rework counter for a file
func (c *Coordinator) ReworkAttempts(file string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reworkAttempts[file]
}

// SetLocalRetries primes the retry counter for the logical task behind a
// subtask. Used when ingesting failure reports that happened before
// escalation. Counts only move up, never down.
func (c *Coordinator) SetLocalRetries(taskID string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.subtaskToKey[taskID]
	if !ok {
		return
	}
	if count > c.localRetries[key] {
		c.localRetries[key] = count
	}
}

// LocalRetries returns the failure count recorded for a logical task
func (c *Coordinator) LocalRetries(key types.TaskKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localRetries[key]
}

// TaskKeyFor resolves a subtask ID to its logical file/role task
func (c *Coordinator) TaskKeyFor(subtaskID string) (types.TaskKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.subtaskToKey[subtaskID]
	return key, ok
}

// Private methods

func (c *Coordinator) finishRun() {
	accepted, partial := 0, 0
	c.mu.Lock()
	for _, state := range c.statuses {
		if state.IsSuccess() {
			accepted++
		} else {
			partial++
		}
	}
	c.mu.Unlock()

	if c.logger != nil {
		if partial == 0 {
			c.logger.Success(fmt.Sprintf("Run complete: %d task(s) done", accepted))
		} else {
			c.logger.Warn(fmt.Sprintf("Run complete with %d task(s) needing attention", partial))
		}
	}
	if c.notifier != nil {
		c.notifier.NotifyRunComplete(c.cfg.ProjectID, accepted, partial)
	}
}

func (c *Coordinator) cycleSleep() time.Duration {
	cfg := c.cfg.Coordinator

	c.mu.Lock()
	active, pending := 0, 0
	for _, state := range c.statuses {
		switch {
		case state.IsActive():
			active++
		case state == types.TaskStatePending || state == types.TaskStateFetchFailed:
			pending++
		}
	}
	c.mu.Unlock()

	switch {
	case active > 0:
		return msOrDefault(cfg.ActiveCycleMS, 2000)
	case pending > 0:
		return msOrDefault(cfg.PendingCycleMS, 5000)
	default:
		return msOrDefault(cfg.IdleCycleMS, 10000)
	}
}

func msOrDefault(ms, fallback int) time.Duration {
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}
