// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"

	"github.com/taskmesh/taskmesh/pkg/types"
)

// GenerateRequest describes one generation call
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string
	MaxTokens    int
}

// GenerateResult is the outcome of a generation call
type GenerateResult struct {
	Text    string
	Backend string
}

// Generator is the swappable language-model capability. Implementations
// handle provider-specific transport, retries and fallbacks; callers only
// see this interface.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
	IsAvailable() bool
}

// ContentStore is the version-control collaborator. Fetch reads the
// current content of a generated file; Commit writes content back and
// returns a commit identifier.
type ContentStore interface {
	Fetch(ctx context.Context, path string) (string, error)
	Commit(ctx context.Context, path string, content string) (string, error)
}

// HubEventType classifies hub broadcast events
type HubEventType string

const (
	HubEventSubmitted HubEventType = "submitted"
	HubEventPulled    HubEventType = "pulled"
	HubEventReported  HubEventType = "reported"
)

// HubEvent is fanned out to hub observers
type HubEvent struct {
	Type      HubEventType
	SubtaskID string
	Role      types.Role
	Status    types.TaskState
}

// HubObserver receives hub events. An observer that returns an error is
// dropped and never retried.
type HubObserver interface {
	Notify(event HubEvent) error
}

// TaskHub is the central queue and status authority
type TaskHub interface {
	Submit(subtask types.Subtask) (string, error)
	PullNext(role types.Role) (*types.Subtask, bool)
	ReportResult(report types.Report) error
	SubtaskStatus(id string) (types.TaskState, bool)
	AllStatuses() map[string]types.TaskState
	AddObserver(observer HubObserver)
}

// StructureSource fetches the project structure a run is derived from
type StructureSource interface {
	FetchStructure(ctx context.Context) (types.ProjectStructure, error)
}

// Advisor is the optional language-model side channel consulted for
// prioritization hints and decision confirmation. A nil Advisor means
// the deterministic path is used.
type Advisor interface {
	SuggestRoleOrder(ctx context.Context, pending map[types.Role]int) ([]types.Role, error)
	ConfirmDecision(ctx context.Context, algorithmic types.Recommendation, tctx types.TestContext) (types.Recommendation, error)
}

// RunNotifier surfaces terminal outcomes to the operator
type RunNotifier interface {
	NotifyRunComplete(projectID string, accepted, partialFailures int)
	NotifyReviewNeeded(filename string)
	NotifyEscalation(taskID string, errorMessage string)
}

// ProcessManager handles process lifecycle
type ProcessManager interface {
	RegisterShutdownHandler(handler func())
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
}

// Redistributor accepts escalations for redistribution. The coordinator
// implements this; the supervisor depends only on the interface.
type Redistributor interface {
	Redistribute(ctx context.Context, record *types.EscalationRecord) (string, error)
}

// Dependencies contains all injectable dependencies
type Dependencies struct {
	Hub             TaskHub
	Store           ContentStore
	Generator       Generator
	Advisor         Advisor
	Notifier        RunNotifier
	StructureSource StructureSource
	ProcessManager  ProcessManager
}
