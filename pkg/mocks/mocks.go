// Package mocks provides mock implementations of interfaces for testing.
// These follow Go best practices for test doubles.
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/types"
)

// MockHub is a mock implementation of TaskHub for testing
type MockHub struct {
	mu          sync.Mutex
	queues      map[types.Role][]*types.Subtask
	statuses    map[string]types.TaskState
	observers   []interfaces.HubObserver
	SubmitError error
	ReportError error
	Submitted   []types.Subtask
	Reports     []types.Report
}

// NewMockHub creates a new mock hub
func NewMockHub() *MockHub {
	return &MockHub{
		queues:   make(map[types.Role][]*types.Subtask),
		statuses: make(map[string]types.TaskState),
	}
}

// Submit queues a subtask
func (m *MockHub) Submit(subtask types.Subtask) (string, error) {
	if m.SubmitError != nil {
		return "", m.SubmitError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if subtask.ID == "" {
		subtask.ID = uuid.New().String()
	}
	m.Submitted = append(m.Submitted, subtask)
	m.queues[subtask.Role] = append(m.queues[subtask.Role], &subtask)
	m.statuses[subtask.ID] = types.TaskStatePending
	return subtask.ID, nil
}

// PullNext dequeues the oldest subtask for a role
func (m *MockHub) PullNext(role types.Role) (*types.Subtask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[role]
	if len(queue) == 0 {
		return nil, false
	}
	subtask := queue[0]
	m.queues[role] = queue[1:]
	m.statuses[subtask.ID] = types.TaskStateProcessing
	return subtask, true
}

// ReportResult records a report and updates the subtask status
func (m *MockHub) ReportResult(report types.Report) error {
	if m.ReportError != nil {
		return m.ReportError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.statuses[report.SubtaskID]; !ok {
		return fmt.Errorf("unknown subtask: %s", report.SubtaskID)
	}
	m.Reports = append(m.Reports, report)

	switch report.Kind {
	case types.ReportKindCode:
		m.statuses[report.SubtaskID] = types.TaskStateCodeReceived
	case types.ReportKindTestResult:
		m.statuses[report.SubtaskID] = types.TaskStateTested
	case types.ReportKindStatusUpdate:
		m.statuses[report.SubtaskID] = report.Status
	}
	return nil
}

// SetStatus forces a subtask status, for driving reconcile paths
func (m *MockHub) SetStatus(id string, state types.TaskState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = state
}

// SubtaskStatus returns the status of one subtask
func (m *MockHub) SubtaskStatus(id string) (types.TaskState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.statuses[id]
	return state, ok
}

// AllStatuses returns a snapshot of all subtask statuses
func (m *MockHub) AllStatuses() map[string]types.TaskState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]types.TaskState, len(m.statuses))
	for id, state := range m.statuses {
		out[id] = state
	}
	return out
}

// AddObserver registers an observer
func (m *MockHub) AddObserver(observer interfaces.HubObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, observer)
}

// QueueDepth reports the queue length for a role
func (m *MockHub) QueueDepth(role types.Role) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[role])
}

// MockGenerator is a mock implementation of Generator for testing
type MockGenerator struct {
	mu            sync.Mutex
	GenerateError error
	Response      string
	Responses     []string
	Requests      []*interfaces.GenerateRequest
	available     bool
}

// NewMockGenerator creates a new mock generator
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{available: true}
}

// Name returns the backend name
func (m *MockGenerator) Name() string { return "mock" }

// IsAvailable reports backend availability
func (m *MockGenerator) IsAvailable() bool { return m.available }

// SetAvailable toggles backend availability
func (m *MockGenerator) SetAvailable(available bool) { m.available = available }

// Generate records the request and replies with the configured response.
// When Responses is set they are consumed in order.
func (m *MockGenerator) Generate(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.GenerateError != nil {
		return nil, m.GenerateError
	}

	text := m.Response
	if len(m.Responses) > 0 {
		text = m.Responses[0]
		m.Responses = m.Responses[1:]
	}
	return &interfaces.GenerateResult{Text: text, Backend: "mock"}, nil
}

// CallCount returns the number of generation calls made
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// MockStore is a mock implementation of ContentStore for testing
type MockStore struct {
	mu          sync.Mutex
	Files       map[string]string
	FetchError  error
	CommitError error
	Commits     []string
}

// NewMockStore creates a new mock content store
func NewMockStore() *MockStore {
	return &MockStore{Files: make(map[string]string)}
}

// Fetch returns the stored content for a path
func (m *MockStore) Fetch(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FetchError != nil {
		return "", m.FetchError
	}
	content, ok := m.Files[path]
	if !ok {
		return "", fmt.Errorf("file not found: %s", path)
	}
	return content, nil
}

// Commit stores content for a path
func (m *MockStore) Commit(ctx context.Context, path, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CommitError != nil {
		return "", m.CommitError
	}
	m.Files[path] = content
	m.Commits = append(m.Commits, path)
	return fmt.Sprintf("commit-%d", len(m.Commits)), nil
}

// MockAdvisor is a mock implementation of Advisor for testing
type MockAdvisor struct {
	RoleOrder      []types.Role
	RoleOrderError error
	Decision       types.Recommendation
	DecisionError  error
	Consulted      int
}

// NewMockAdvisor creates a new mock advisor
func NewMockAdvisor() *MockAdvisor {
	return &MockAdvisor{}
}

// SuggestRoleOrder returns the configured order
func (m *MockAdvisor) SuggestRoleOrder(ctx context.Context, pending map[types.Role]int) ([]types.Role, error) {
	m.Consulted++
	if m.RoleOrderError != nil {
		return nil, m.RoleOrderError
	}
	return m.RoleOrder, nil
}

// ConfirmDecision returns the configured decision
func (m *MockAdvisor) ConfirmDecision(ctx context.Context, algorithmic types.Recommendation, tctx types.TestContext) (types.Recommendation, error) {
	m.Consulted++
	if m.DecisionError != nil {
		return "", m.DecisionError
	}
	if m.Decision == "" {
		return algorithmic, nil
	}
	return m.Decision, nil
}

// MockNotifier is a mock implementation of RunNotifier for testing
type MockNotifier struct {
	mu            sync.Mutex
	RunsComplete  []string
	ReviewsNeeded []string
	Escalations   []string
}

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// NotifyRunComplete records a run completion notification
func (m *MockNotifier) NotifyRunComplete(projectID string, accepted, partialFailures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunsComplete = append(m.RunsComplete, projectID)
}

// NotifyReviewNeeded records a review notification
func (m *MockNotifier) NotifyReviewNeeded(filename string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReviewsNeeded = append(m.ReviewsNeeded, filename)
}

// NotifyEscalation records an escalation notification
func (m *MockNotifier) NotifyEscalation(taskID string, errorMessage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Escalations = append(m.Escalations, taskID)
}

// Reviews returns the recorded review notifications
func (m *MockNotifier) Reviews() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ReviewsNeeded))
	copy(out, m.ReviewsNeeded)
	return out
}

// MockStructureSource is a mock implementation of StructureSource for testing
type MockStructureSource struct {
	mu        sync.Mutex
	Structure types.ProjectStructure
	Errors    []error
	Fetches   int
}

// NewMockStructureSource creates a structure source that always succeeds
func NewMockStructureSource(structure types.ProjectStructure) *MockStructureSource {
	return &MockStructureSource{Structure: structure}
}

// FetchStructure consumes queued errors first, then returns the structure
func (m *MockStructureSource) FetchStructure(ctx context.Context) (types.ProjectStructure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Fetches++
	if len(m.Errors) > 0 {
		err := m.Errors[0]
		m.Errors = m.Errors[1:]
		return nil, err
	}
	return m.Structure, nil
}

// MockRedistributor is a mock implementation of Redistributor for testing
type MockRedistributor struct {
	mu                sync.Mutex
	NewSubtaskID      string
	RedistributeError error
	Records           []*types.EscalationRecord
}

// NewMockRedistributor creates a new mock redistributor
func NewMockRedistributor() *MockRedistributor {
	return &MockRedistributor{NewSubtaskID: "new-subtask"}
}

// Redistribute records the escalation and returns the configured ID
func (m *MockRedistributor) Redistribute(ctx context.Context, record *types.EscalationRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Records = append(m.Records, record)
	if m.RedistributeError != nil {
		return "", m.RedistributeError
	}
	return m.NewSubtaskID, nil
}
