package coordinator

import (
	"context"
	"fmt"
	"path"

	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/types"
	"github.com/taskmesh/taskmesh/pkg/utils"
)

// HandleTestRecommendation runs the decision engine over an external
// test outcome. Accept marks the in-flight tester tasks and their
// files' delivered executor tasks accepted, and supersedes any queued
// rework round; rework maps each failed test artifact back to its
// source file, increments its rework counter and re-queues a rework
// executor task; a file whose rework attempts are exhausted is forced
// to manual review regardless of the upstream recommendation.
func (c *Coordinator) HandleTestRecommendation(ctx context.Context, rec types.TestRecommendation) error {
	decision, err := types.ParseRecommendation(rec.Recommendation)
	if err != nil {
		return fmt.Errorf("rejecting test recommendation: %w", err)
	}

	decision = c.confirmDecision(ctx, decision, rec.Context)

	switch decision {
	case types.RecommendationAccept:
		c.acceptTesters()
		return nil
	case types.RecommendationRework:
		for _, failed := range rec.Context.FailedFiles {
			c.reworkFile(failed, rec.Context.Details)
		}
		return nil
	case types.RecommendationManualReview:
		for _, failed := range rec.Context.FailedFiles {
			if file, ok := c.sourceFileFor(failed); ok {
				c.freezeForReview(file)
			}
		}
		return nil
	default:
		return fmt.Errorf("unhandled recommendation: %s", decision)
	}
}

// confirmDecision gives the advisor a chance to confirm or override the
// algorithmic decision. Output outside the three known decisions is
// discarded in favor of the algorithmic one. Fail closed, not open.
func (c *Coordinator) confirmDecision(ctx context.Context, algorithmic types.Recommendation, tctx types.TestContext) types.Recommendation {
	if c.advisor == nil {
		return algorithmic
	}

	advCtx, cancel := context.WithTimeout(ctx, advisorTimeout)
	defer cancel()

	advised, err := c.advisor.ConfirmDecision(advCtx, algorithmic, tctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Debug("Decision advice unavailable", logger.WithField("error", err))
		}
		return algorithmic
	}
	if _, err := types.ParseRecommendation(string(advised)); err != nil {
		if c.logger != nil {
			c.logger.Warn("Discarding malformed decision advice",
				logger.WithField("advised", advised))
		}
		return algorithmic
	}
	return advised
}

// Private methods

func (c *Coordinator) acceptTesters() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, state := range c.statuses {
		if key.Role != types.RoleTester {
			continue
		}
		reworking := state == types.TaskStateNeedsRework
		if !state.IsActive() && !reworking {
			continue
		}
		c.statuses[key] = types.TaskStateAccepted
		delete(c.inflight, key)

		executorKey := types.TaskKey{Filename: key.Filename, Role: types.RoleExecutor}
		if reworking {
			// The accept supersedes the file's queued rework round
			if !c.statuses[executorKey].IsTerminal() {
				c.statuses[executorKey] = types.TaskStateAccepted
				delete(c.inflight, executorKey)
			}
			delete(c.reworkContext, key.Filename)
			continue
		}

		// A passed test gate accepts the executor's delivered code too
		switch c.statuses[executorKey] {
		case types.TaskStateCodeReceived, types.TaskStateTested:
			c.statuses[executorKey] = types.TaskStateAccepted
			delete(c.inflight, executorKey)
		}
	}
}

// reworkFile applies the rework path for one failed test artifact. If
// the file's rework attempts are already exhausted the decision is
// overridden to manual review, the circuit breaker that prevents
// infinite rework loops.
func (c *Coordinator) reworkFile(failedTestFile, details string) {
	file, ok := c.sourceFileFor(failedTestFile)
	if !ok {
		if c.logger != nil {
			c.logger.Warn(fmt.Sprintf("No source file matches failed test %s", failedTestFile))
		}
		return
	}

	c.mu.Lock()
	attempts := c.reworkAttempts[file]
	maxAttempts := c.cfg.Coordinator.MaxReworkAttempts
	c.mu.Unlock()

	if attempts >= maxAttempts {
		c.freezeForReview(file)
		return
	}

	c.mu.Lock()
	c.reworkAttempts[file] = attempts + 1

	failureCtx := fmt.Sprintf("Tests failed for %s.", file)
	if details != "" {
		failureCtx += "\n" + details
	}
	c.reworkContext[file] = failureCtx

	executorKey := types.TaskKey{Filename: file, Role: types.RoleExecutor}
	testerKey := types.TaskKey{Filename: file, Role: types.RoleTester}
	c.statuses[testerKey] = types.TaskStateNeedsRework
	c.statuses[executorKey] = types.TaskStatePending
	delete(c.inflight, executorKey)
	delete(c.inflight, testerKey)
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info(fmt.Sprintf("Queued rework for %s (attempt %d/%d)",
			file, attempts+1, maxAttempts))
	}
}

// freezeForReview moves a file's executor and tester to review_needed
// and removes it from all pending work.
func (c *Coordinator) freezeForReview(file string) {
	c.mu.Lock()
	executorKey := types.TaskKey{Filename: file, Role: types.RoleExecutor}
	testerKey := types.TaskKey{Filename: file, Role: types.RoleTester}
	c.statuses[executorKey] = types.TaskStateReviewNeeded
	c.statuses[testerKey] = types.TaskStateReviewNeeded
	delete(c.inflight, executorKey)
	delete(c.inflight, testerKey)
	delete(c.reworkContext, file)
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Warn(fmt.Sprintf("Rework attempts exhausted for %s, manual review needed", file))
	}
	if c.notifier != nil {
		c.notifier.NotifyReviewNeeded(file)
	}
}

// sourceFileFor maps a failed test artifact to a known source file by
// stripping the test naming convention and matching against the run's
// file list, exact path first, then by base name.
func (c *Coordinator) sourceFileFor(failedTestFile string) (string, bool) {
	candidate := utils.SourceForTestFile(failedTestFile)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, file := range c.files {
		if file == candidate {
			return file, true
		}
	}
	for _, file := range c.files {
		if path.Base(file) == candidate {
			return file, true
		}
	}
	return "", false
}
