package coordinator

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/types"
)

const (
	fetchTimeout   = 30 * time.Second
	advisorTimeout = 15 * time.Second
)

// Prioritize returns the submittable tasks for this cycle in order:
// high-priority files first, then pending executors, then testers and
// documenters whose executor has reached a done state. Ties within a
// role preserve discovery order. An advisory signal may reorder which
// roles are serviced first but can never relax the executor-done
// precondition.
func (c *Coordinator) Prioritize(ctx context.Context) []types.TaskKey {
	roleOrder := c.roleOrder(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	var result []types.TaskKey
	seen := make(map[types.TaskKey]bool)

	appendIfEligible := func(key types.TaskKey) {
		if seen[key] {
			return
		}
		if !c.submittableLocked(key) {
			return
		}
		seen[key] = true
		result = append(result, key)
	}

	// High-priority files come first regardless of role grouping
	for _, file := range c.files {
		if path.Base(file) != HighPriorityFile {
			continue
		}
		for _, role := range roleOrder {
			appendIfEligible(types.TaskKey{Filename: file, Role: role})
		}
	}

	for _, role := range roleOrder {
		for _, file := range c.files {
			appendIfEligible(types.TaskKey{Filename: file, Role: role})
		}
	}

	return result
}

// submittableLocked reports whether a task may be submitted this cycle.
// Callers must hold c.mu.
func (c *Coordinator) submittableLocked(key types.TaskKey) bool {
	state, ok := c.statuses[key]
	if !ok {
		return false
	}
	// fetch_failed tasks are re-queued on the next cycle
	if state != types.TaskStatePending && state != types.TaskStateFetchFailed {
		return false
	}
	// A pending task with a live subtask (a rework submitted straight to
	// the hub) must not be submitted again.
	if _, live := c.inflight[key]; live {
		return false
	}

	if key.Role == types.RoleTester || key.Role == types.RoleDocumenter {
		executor := c.statuses[types.TaskKey{Filename: key.Filename, Role: types.RoleExecutor}]
		if !executor.ExecutorDone() {
			return false
		}
	}
	return true
}

// roleOrder consults the advisor for the order roles are serviced in.
// Malformed or unavailable advice falls back to the static order.
func (c *Coordinator) roleOrder(ctx context.Context) []types.Role {
	static := types.Roles()
	if c.advisor == nil {
		return static
	}

	c.mu.Lock()
	pending := make(map[types.Role]int)
	for key, state := range c.statuses {
		if state == types.TaskStatePending || state == types.TaskStateFetchFailed {
			pending[key.Role]++
		}
	}
	c.mu.Unlock()

	advCtx, cancel := context.WithTimeout(ctx, advisorTimeout)
	defer cancel()

	order, err := c.advisor.SuggestRoleOrder(advCtx, pending)
	if err != nil {
		if c.logger != nil {
			c.logger.Debug("Role order advice unavailable", logger.WithField("error", err))
		}
		return static
	}

	// The advice must be a permutation of the known roles
	if len(order) != len(static) {
		return static
	}
	seen := make(map[types.Role]bool, len(order))
	for _, role := range order {
		if _, err := types.ParseRole(string(role)); err != nil || seen[role] {
			if c.logger != nil {
				c.logger.Warn("Discarding malformed role order advice")
			}
			return static
		}
		seen[role] = true
	}
	return order
}

// submitTask marks a task sending, builds its subtask and submits it to
// the hub. Tester and documenter tasks first fetch the file's current
// content; a failed fetch re-queues the task for the next cycle instead
// of abandoning it. Returns true when a submission consumed a slot.
func (c *Coordinator) submitTask(ctx context.Context, key types.TaskKey) bool {
	c.mu.Lock()
	if !c.submittableLocked(key) {
		c.mu.Unlock()
		return false
	}
	c.statuses[key] = types.TaskStateSending
	reworkCtx := c.reworkContext[key.Filename]
	isRework := false
	if key.Role == types.RoleExecutor && reworkCtx != "" {
		isRework = true
	}
	c.mu.Unlock()

	var code string
	if key.Role == types.RoleTester || key.Role == types.RoleDocumenter {
		if c.store == nil {
			code = ""
		} else {
			fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
			content, err := c.store.Fetch(fetchCtx, key.Filename)
			cancel()
			if err != nil {
				if c.logger != nil {
					c.logger.Warn(fmt.Sprintf("Content fetch failed for %s, re-queuing", key.Filename),
						logger.WithField("role", key.Role),
						logger.WithField("error", err))
				}
				c.mu.Lock()
				c.statuses[key] = types.TaskStateFetchFailed
				c.mu.Unlock()
				return false
			}
			code = content
		}
	}

	subtask := types.Subtask{
		Role:     key.Role,
		Filename: key.Filename,
		TaskText: c.taskText(key, reworkCtx),
		Code:     code,
		IsRework: isRework,
	}

	id, err := c.hub.Submit(subtask)
	if err != nil {
		if c.logger != nil {
			c.logger.Error(fmt.Sprintf("Failed to submit %s task for %s", key.Role, key.Filename),
				logger.WithField("error", err))
		}
		c.mu.Lock()
		c.statuses[key] = types.TaskStateFailedToSend
		c.mu.Unlock()
		return false
	}

	c.mu.Lock()
	c.statuses[key] = types.TaskStateSent
	c.subtaskToKey[id] = key
	c.inflight[key] = id
	if isRework {
		delete(c.reworkContext, key.Filename)
	}
	c.mu.Unlock()

	return true
}

// taskText composes the instruction text for a subtask
func (c *Coordinator) taskText(key types.TaskKey, reworkCtx string) string {
	var text string
	switch key.Role {
	case types.RoleExecutor:
		text = fmt.Sprintf("Implement the file %s for project %s.", key.Filename, c.cfg.ProjectID)
	case types.RoleTester:
		text = fmt.Sprintf("Write tests for the file %s.", key.Filename)
	case types.RoleDocumenter:
		text = fmt.Sprintf("Write documentation for the file %s.", key.Filename)
	}
	if reworkCtx != "" {
		text += "\n\nPrevious attempt failed:\n" + reworkCtx
	}
	return text
}
