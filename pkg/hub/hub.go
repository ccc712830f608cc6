// Package hub provides the central task queue and status authority
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/types"
	"github.com/taskmesh/taskmesh/pkg/utils"
)

// Validation errors returned at the hub boundary
var (
	ErrInvalidRole    = errors.New("invalid role")
	ErrUnsafePath     = errors.New("unsafe path")
	ErrUnknownSubtask = errors.New("unknown subtask")
)

const commitTimeout = 30 * time.Second

// Hub decouples task producers from workers. It owns the per-role FIFO
// queues and the per-subtask status map; it never reorders work, all
// prioritization happens before submission.
type Hub struct {
	logger logger.Logger
	store  interfaces.ContentStore

	queues    map[types.Role][]*types.Subtask
	subtasks  map[string]types.Subtask
	statuses  map[string]types.TaskState
	observers []interfaces.HubObserver

	mu sync.RWMutex
	wg sync.WaitGroup
}

// New creates a new hub. The content store may be nil when commit
// write-back is handled elsewhere.
func New(log logger.Logger, store interfaces.ContentStore) *Hub {
	queues := make(map[types.Role][]*types.Subtask)
	for _, role := range types.Roles() {
		queues[role] = nil
	}

	return &Hub{
		logger:   log,
		store:    store,
		queues:   queues,
		subtasks: make(map[string]types.Subtask),
		statuses: make(map[string]types.TaskState),
	}
}

// Submit validates and enqueues a subtask, returning its id. Subtasks
// with an unknown role or a path that could escape the project root are
// rejected without being enqueued.
func (h *Hub) Submit(subtask types.Subtask) (string, error) {
	if _, err := types.ParseRole(string(subtask.Role)); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidRole, subtask.Role)
	}
	if !utils.IsSafePath(subtask.Filename) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, subtask.Filename)
	}

	if subtask.ID == "" {
		subtask.ID = uuid.New().String()
	}

	h.mu.Lock()
	h.subtasks[subtask.ID] = subtask
	h.statuses[subtask.ID] = types.TaskStatePending
	h.queues[subtask.Role] = append(h.queues[subtask.Role], &subtask)
	queued := len(h.queues[subtask.Role])
	h.mu.Unlock()

	if h.logger != nil {
		h.logger.Debug(fmt.Sprintf("Queued %s subtask for %s (queue size: %d)",
			subtask.Role, subtask.Filename, queued))
	}

	h.broadcast(interfaces.HubEvent{
		Type:      interfaces.HubEventSubmitted,
		SubtaskID: subtask.ID,
		Role:      subtask.Role,
		Status:    types.TaskStatePending,
	})

	return subtask.ID, nil
}

// PullNext dequeues the next subtask for a role without blocking. The
// second return value is false when the queue is empty.
func (h *Hub) PullNext(role types.Role) (*types.Subtask, bool) {
	if _, err := types.ParseRole(string(role)); err != nil {
		return nil, false
	}

	h.mu.Lock()
	queue := h.queues[role]
	if len(queue) == 0 {
		h.mu.Unlock()
		return nil, false
	}

	subtask := queue[0]
	h.queues[role] = queue[1:]
	h.statuses[subtask.ID] = types.TaskStateProcessing
	h.mu.Unlock()

	h.broadcast(interfaces.HubEvent{
		Type:      interfaces.HubEventPulled,
		SubtaskID: subtask.ID,
		Role:      role,
		Status:    types.TaskStateProcessing,
	})

	return subtask, true
}

// ReportResult applies a worker report to the subtask's status.
// Applying the same report twice yields the same status as applying it
// once. A code report carrying file content schedules a fire-and-forget
// commit to the content store, the only external side effect the hub
// triggers.
func (h *Hub) ReportResult(report types.Report) error {
	h.mu.Lock()
	subtask, ok := h.subtasks[report.SubtaskID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSubtask, report.SubtaskID)
	}

	var next types.TaskState
	switch report.Kind {
	case types.ReportKindCode:
		next = types.TaskStateCodeReceived
	case types.ReportKindTestResult:
		next = types.TaskStateTested
	case types.ReportKindStatusUpdate:
		if report.Status == "" {
			h.mu.Unlock()
			return fmt.Errorf("status update for %s carries no status", report.SubtaskID)
		}
		next = report.Status
	default:
		h.mu.Unlock()
		return fmt.Errorf("unknown report kind: %s", report.Kind)
	}

	h.statuses[report.SubtaskID] = next
	h.mu.Unlock()

	if report.Kind == types.ReportKindCode && report.Content != "" && h.store != nil {
		file := report.File
		if file == "" {
			file = subtask.Filename
		}
		h.scheduleCommit(file, report.Content)
	}

	h.broadcast(interfaces.HubEvent{
		Type:      interfaces.HubEventReported,
		SubtaskID: report.SubtaskID,
		Role:      subtask.Role,
		Status:    next,
	})

	return nil
}

// SubtaskStatus returns the status of a single subtask
func (h *Hub) SubtaskStatus(id string) (types.TaskState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	status, ok := h.statuses[id]
	return status, ok
}

// AllStatuses returns a snapshot of every subtask status for
// reconciliation polling.
func (h *Hub) AllStatuses() map[string]types.TaskState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snapshot := make(map[string]types.TaskState, len(h.statuses))
	for id, status := range h.statuses {
		snapshot[id] = status
	}
	return snapshot
}

// QueueDepth returns the number of queued subtasks for a role
func (h *Hub) QueueDepth(role types.Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.queues[role])
}

// AddObserver registers a broadcast observer
func (h *Hub) AddObserver(observer interfaces.HubObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, observer)
}

// Wait blocks until outstanding commit side effects finish. Intended for
// shutdown and tests.
func (h *Hub) Wait() {
	h.wg.Wait()
}

// Private methods

// broadcast fans an event out to all observers. A failing observer is
// logged and dropped, never retried.
func (h *Hub) broadcast(event interfaces.HubEvent) {
	h.mu.Lock()
	observers := make([]interfaces.HubObserver, len(h.observers))
	copy(observers, h.observers)
	h.mu.Unlock()

	var dropped []interfaces.HubObserver
	for _, obs := range observers {
		if err := obs.Notify(event); err != nil {
			if h.logger != nil {
				h.logger.Warn("Dropping hub observer", logger.WithField("error", err))
			}
			dropped = append(dropped, obs)
		}
	}

	if len(dropped) == 0 {
		return
	}

	h.mu.Lock()
	kept := h.observers[:0]
	for _, obs := range h.observers {
		failed := false
		for _, d := range dropped {
			if obs == d {
				failed = true
				break
			}
		}
		if !failed {
			kept = append(kept, obs)
		}
	}
	h.observers = kept
	h.mu.Unlock()
}

func (h *Hub) scheduleCommit(file, content string) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		defer cancel()

		commitID, err := h.store.Commit(ctx, file, content)
		if err != nil {
			if h.logger != nil {
				h.logger.Warn(fmt.Sprintf("Commit failed for %s", file),
					logger.WithField("error", err))
			}
			return
		}
		if h.logger != nil {
			h.logger.Debug(fmt.Sprintf("Committed %s as %s", file, commitID))
		}
	}()
}
