// Package supervisor detects sustained task failure and drives the
// escalation and redistribution protocol.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/pkg/coordinator"
	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/types"
)

// Supervisor tracks per-task failure counts against the local retry cap
// and hands tasks that exceed it to the coordinator for redistribution.
// Escalation records move pending → redistributing → redistributed or
// redistribution_failed; a redistributed record is archived immediately.
type Supervisor struct {
	cfg           *types.SupervisorConfig
	logger        logger.Logger
	redistributor interfaces.Redistributor
	notifier      interfaces.RunNotifier

	mu       sync.Mutex
	failures map[string]int
	records  map[string]*types.EscalationRecord
	archive  []*types.EscalationRecord
}

// New creates a supervisor
func New(cfg *types.SupervisorConfig, log logger.Logger, redistributor interfaces.Redistributor, notifier interfaces.RunNotifier) *Supervisor {
	if cfg == nil {
		cfg = &types.SupervisorConfig{LocalMaxRetries: 3, GlobalMaxRetries: 5}
	}
	return &Supervisor{
		cfg:           cfg,
		logger:        log,
		redistributor: redistributor,
		notifier:      notifier,
		failures:      make(map[string]int),
		records:       make(map[string]*types.EscalationRecord),
	}
}

// taskResolver maps a subtask ID to its logical file/role task. The
// coordinator implements it; failure counts keyed by logical task stay
// monotonic across the fresh subtask IDs each redistribution mints.
type taskResolver interface {
	TaskKeyFor(subtaskID string) (types.TaskKey, bool)
}

// NoteFailure records one failure for a task. When the local retry cap
// is exceeded the task is escalated; the returned record is non-nil in
// that case.
func (s *Supervisor) NoteFailure(ctx context.Context, taskID, projectID, errorMessage string) (*types.EscalationRecord, error) {
	s.mu.Lock()
	key := s.failureKeyLocked(taskID)
	s.failures[key]++
	count := s.failures[key]
	localMax := s.cfg.LocalMaxRetries
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug(fmt.Sprintf("Task %s failure %d/%d", taskID, count, localMax))
	}

	if count <= localMax {
		return nil, nil
	}
	return s.Escalate(ctx, taskID, projectID, errorMessage, count)
}

// Failures returns the recorded failure count for a task
func (s *Supervisor) Failures(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[s.failureKeyLocked(taskID)]
}

// failureKeyLocked resolves the counter key for a subtask ID. Subtasks
// of the same file/role share one counter; IDs the redistributor cannot
// resolve count on their own.
func (s *Supervisor) failureKeyLocked(taskID string) string {
	if resolver, ok := s.redistributor.(taskResolver); ok {
		if key, known := resolver.TaskKeyFor(taskID); known {
			return key.String()
		}
	}
	return taskID
}

// Escalate creates an escalation record and drives it through the
// redistribution protocol. Retry exhaustion and redistribution errors
// are surfaced to the caller, never silently dropped.
func (s *Supervisor) Escalate(ctx context.Context, taskID, projectID, errorMessage string, localRetries int) (*types.EscalationRecord, error) {
	record := &types.EscalationRecord{
		ID:           uuid.New().String(),
		TaskID:       taskID,
		ProjectID:    projectID,
		ErrorMessage: errorMessage,
		Status:       types.EscalationStatePending,
		LocalRetries: localRetries,
	}

	s.mu.Lock()
	s.records[taskID] = record
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.NotifyEscalation(taskID, errorMessage)
	}
	if s.logger != nil {
		s.logger.Warn(fmt.Sprintf("Escalating task %s after %d local retries", taskID, localRetries))
	}

	s.setStatus(record, types.EscalationStateRedistributing)

	newID, err := s.redistributor.Redistribute(ctx, record)
	if err != nil {
		record.FailureReason = err.Error()
		s.setStatus(record, types.EscalationStateRedistributionFailed)
		if errors.Is(err, coordinator.ErrRetriesExhausted) {
			return record, err
		}
		return record, fmt.Errorf("redistribution of task %s failed: %w", taskID, err)
	}

	record.NewSubtaskID = newID
	s.setStatus(record, types.EscalationStateRedistributed)
	s.archiveRecord(record)

	return record, nil
}

// Record returns the live escalation record for a task, if any
func (s *Supervisor) Record(taskID string) (*types.EscalationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[taskID]
	return record, ok
}

// Archive returns the redistributed records in completion order
func (s *Supervisor) Archive() []*types.EscalationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.EscalationRecord, len(s.archive))
	copy(out, s.archive)
	return out
}

// Private methods

func (s *Supervisor) setStatus(record *types.EscalationRecord, status types.EscalationState) {
	s.mu.Lock()
	record.Status = status
	s.mu.Unlock()
}

// archiveRecord moves a completed record out of the active set
func (s *Supervisor) archiveRecord(record *types.EscalationRecord) {
	s.mu.Lock()
	delete(s.records, record.TaskID)
	s.archive = append(s.archive, record)
	s.mu.Unlock()
}
