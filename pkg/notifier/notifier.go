// Package notifier surfaces run outcomes to the operator
package notifier

import (
	"fmt"

	"github.com/gen2brain/beeep"
	"github.com/taskmesh/taskmesh/pkg/logger"
)

// RunNotifier sends desktop notifications for run-level events, with a
// log-only fallback when notifications are disabled or unavailable.
type RunNotifier struct {
	enabled bool
	logger  logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled bool
}

// New creates a run notifier
func New(config Config, log logger.Logger) *RunNotifier {
	return &RunNotifier{
		enabled: config.Enabled,
		logger:  log,
	}
}

// NotifyRunComplete notifies that a generation run finished
func (n *RunNotifier) NotifyRunComplete(projectID string, accepted, partialFailures int) {
	if partialFailures == 0 {
		n.send("✅ Run Complete", fmt.Sprintf("%s: %d task(s) accepted", projectID, accepted))
		return
	}
	n.send("⚠️ Run Complete", fmt.Sprintf("%s: %d accepted, %d need attention", projectID, accepted, partialFailures))
}

// NotifyReviewNeeded notifies that a file needs manual review
func (n *RunNotifier) NotifyReviewNeeded(filename string) {
	n.send("🛑 Manual Review Needed", fmt.Sprintf("Rework attempts exhausted for %s", filename))
}

// NotifyEscalation notifies that a task was escalated
func (n *RunNotifier) NotifyEscalation(taskID string, errorMessage string) {
	n.send("⏫ Task Escalated", fmt.Sprintf("%s: %s", taskID, errorMessage))
}

// Private methods

func (n *RunNotifier) send(title, message string) {
	if !n.enabled {
		return
	}
	if err := beeep.Notify(title, message, ""); err != nil && n.logger != nil {
		n.logger.Debug("Desktop notification failed", logger.WithField("error", err))
	}
}
