package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/types"
)

// ErrRetriesExhausted is returned when an escalated task's combined
// retry count reaches the global cap. The task is permanently failed and
// no redistribution subtask is created.
var ErrRetriesExhausted = errors.New("global retry limit reached")

// Redistribute handles an escalated task: it checks the combined retry
// count against the global cap, fetches the task's current artifact
// best-effort, and resubmits the work as a rework subtask embedding the
// reported error. Implements interfaces.Redistributor.
func (c *Coordinator) Redistribute(ctx context.Context, record *types.EscalationRecord) (string, error) {
	globalMax := 5
	if c.cfg.Supervisor != nil && c.cfg.Supervisor.GlobalMaxRetries > 0 {
		globalMax = c.cfg.Supervisor.GlobalMaxRetries
	}

	c.mu.Lock()
	key, known := c.subtaskToKey[record.TaskID]
	local := 0
	if known {
		local = c.localRetries[key]
	}
	c.mu.Unlock()
	globalRetries := local + record.LocalRetries

	if globalRetries >= globalMax {
		if known {
			c.mu.Lock()
			c.statuses[key] = types.TaskStatePermanentlyFailed
			delete(c.inflight, key)
			c.mu.Unlock()
		}
		if c.logger != nil {
			c.logger.Error(fmt.Sprintf("Task %s exhausted %d/%d global retries", record.TaskID, globalRetries, globalMax))
		}
		return "", fmt.Errorf("%w: task %s has %d retries", ErrRetriesExhausted, record.TaskID, globalRetries)
	}

	role := types.RoleExecutor
	filename := record.TaskID
	if known {
		role = key.Role
		filename = key.Filename
	}

	// Content fetch is best-effort: redistribution proceeds without it
	var content string
	if c.store != nil && known {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		fetched, err := c.store.Fetch(fetchCtx, filename)
		cancel()
		if err != nil {
			if c.logger != nil {
				c.logger.Warn(fmt.Sprintf("Proceeding without content for %s", filename),
					logger.WithField("error", err))
			}
		} else {
			content = fetched
		}
	}

	subtask := types.Subtask{
		Role:     role,
		Filename: filename,
		TaskText: fmt.Sprintf("Redo the %s task for %s.\n\nPrevious failure:\n%s", role, filename, record.ErrorMessage),
		Code:     content,
		IsRework: true,
	}

	id, err := c.hub.Submit(subtask)
	if err != nil {
		return "", fmt.Errorf("failed to resubmit escalated task %s: %w", record.TaskID, err)
	}

	if known {
		c.mu.Lock()
		c.statuses[key] = types.TaskStateSent
		c.subtaskToKey[id] = key
		c.inflight[key] = id
		c.mu.Unlock()
	}

	if c.logger != nil {
		c.logger.Info(fmt.Sprintf("Redistributed task %s as %s", record.TaskID, id))
	}

	return id, nil
}
