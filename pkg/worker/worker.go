// Package worker provides a reference worker loop honoring the hub's
// pull/push contract: pull one subtask, generate, report the result.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/types"
)

// FailureSink receives sustained-failure reports for escalation. The
// supervisor implements this.
type FailureSink interface {
	NoteFailure(ctx context.Context, taskID, projectID, errorMessage string) (*types.EscalationRecord, error)
}

// Worker pulls subtasks for one role and performs generation
type Worker struct {
	role      types.Role
	projectID string
	hub       interfaces.TaskHub
	generator interfaces.Generator
	failures  FailureSink
	logger    logger.Logger

	pollInterval time.Duration
}

// New creates a worker for a role
func New(role types.Role, projectID string, h interfaces.TaskHub, g interfaces.Generator, failures FailureSink, log logger.Logger) *Worker {
	return &Worker{
		role:         role,
		projectID:    projectID,
		hub:          h,
		generator:    g,
		failures:     failures,
		logger:       log,
		pollInterval: time.Second,
	}
}

// Run pulls and processes subtasks until the context is cancelled
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		subtask, ok := w.hub.PullNext(w.role)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.process(ctx, subtask)
	}
}

// ProcessOne pulls and processes at most one subtask. Returns false when
// the queue was empty.
func (w *Worker) ProcessOne(ctx context.Context) bool {
	subtask, ok := w.hub.PullNext(w.role)
	if !ok {
		return false
	}
	w.process(ctx, subtask)
	return true
}

// Private methods

func (w *Worker) process(ctx context.Context, subtask *types.Subtask) {
	log := w.logger
	if log != nil {
		log = log.WithTask(fmt.Sprintf("%s:%s", subtask.Role, subtask.Filename))
		log.Info("Processing subtask")
	}

	result, err := w.generator.Generate(ctx, &interfaces.GenerateRequest{
		Prompt:       w.prompt(subtask),
		SystemPrompt: w.systemPrompt(),
	})
	if err != nil {
		if log != nil {
			log.Error("Generation failed", logger.WithField("error", err))
		}
		w.reportFailure(ctx, subtask, err)
		return
	}

	report := types.Report{SubtaskID: subtask.ID}
	switch subtask.Role {
	case types.RoleTester:
		report.Kind = types.ReportKindTestResult
		report.File = subtask.Filename
		report.Content = result.Text
	case types.RoleDocumenter:
		report.Kind = types.ReportKindCode
		report.File = "docs/" + subtask.Filename + ".md"
		report.Content = result.Text
	default:
		report.Kind = types.ReportKindCode
		report.File = subtask.Filename
		report.Content = result.Text
	}

	if err := w.hub.ReportResult(report); err != nil && log != nil {
		log.Error("Failed to report result", logger.WithField("error", err))
	}
}

// reportFailure marks the subtask errored and feeds the failure to the
// escalation path.
func (w *Worker) reportFailure(ctx context.Context, subtask *types.Subtask, genErr error) {
	err := w.hub.ReportResult(types.Report{
		SubtaskID: subtask.ID,
		Kind:      types.ReportKindStatusUpdate,
		Status:    types.TaskStateErrorProcessing,
		Message:   genErr.Error(),
	})
	if err != nil && w.logger != nil {
		w.logger.Error("Failed to report failure", logger.WithField("error", err))
	}

	if w.failures == nil {
		return
	}
	if _, err := w.failures.NoteFailure(ctx, subtask.ID, w.projectID, genErr.Error()); err != nil && w.logger != nil {
		w.logger.Warn("Escalation did not complete", logger.WithField("error", err))
	}
}

func (w *Worker) prompt(subtask *types.Subtask) string {
	prompt := subtask.TaskText
	if subtask.Code != "" {
		prompt += "\n\nCurrent file content:\n" + subtask.Code
	}
	return prompt
}

func (w *Worker) systemPrompt() string {
	switch w.role {
	case types.RoleTester:
		return "You write focused automated tests for a single file. Reply with the test file content only."
	case types.RoleDocumenter:
		return "You document a single source file. Reply with the documentation content only."
	default:
		return "You implement a single source file. Reply with the file content only."
	}
}
