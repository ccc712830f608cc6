// Package types provides core types and configurations for Taskmesh
package types

import (
	"encoding/json"
	"fmt"
)

// Role identifies the kind of work a subtask asks for
type Role string

const (
	RoleExecutor   Role = "executor"
	RoleTester     Role = "tester"
	RoleDocumenter Role = "documenter"
)

// Roles lists all known roles in a stable order
func Roles() []Role {
	return []Role{RoleExecutor, RoleTester, RoleDocumenter}
}

// ParseRole validates a role string
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleExecutor, RoleTester, RoleDocumenter:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %s", s)
	}
}

// TaskState represents the current state of a file/role task
type TaskState string

const (
	TaskStatePending           TaskState = "pending"
	TaskStateSending           TaskState = "sending"
	TaskStateSent              TaskState = "sent"
	TaskStateProcessing        TaskState = "processing"
	TaskStateCodeReceived      TaskState = "code_received"
	TaskStateTested            TaskState = "tested"
	TaskStateAccepted          TaskState = "accepted"
	TaskStateSkipped           TaskState = "skipped"
	TaskStateNeedsRework       TaskState = "needs_rework"
	TaskStateReviewNeeded      TaskState = "review_needed"
	TaskStateFailedToSend      TaskState = "failed_to_send"
	TaskStateErrorProcessing   TaskState = "error_processing"
	TaskStateFetchFailed       TaskState = "fetch_failed"
	TaskStatePermanentlyFailed TaskState = "permanently_failed"
)

// IsTerminal reports whether the state counts as done for throttle and
// completion purposes. Failure-terminal states are included.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateAccepted, TaskStateSkipped, TaskStateReviewNeeded,
		TaskStateFailedToSend, TaskStateErrorProcessing, TaskStatePermanentlyFailed:
		return true
	default:
		return false
	}
}

// IsActive reports whether the state occupies an in-flight slot
func (s TaskState) IsActive() bool {
	switch s {
	case TaskStateSending, TaskStateSent, TaskStateProcessing,
		TaskStateCodeReceived, TaskStateTested:
		return true
	default:
		return false
	}
}

// IsSuccess reports whether the state is success-terminal
func (s TaskState) IsSuccess() bool {
	return s == TaskStateAccepted || s == TaskStateSkipped
}

// ExecutorDone reports whether an executor in this state unblocks the
// file's tester and documenter tasks.
func (s TaskState) ExecutorDone() bool {
	switch s {
	case TaskStateCodeReceived, TaskStateTested, TaskStateAccepted, TaskStateReviewNeeded:
		return true
	default:
		return false
	}
}

// ReportKind classifies worker reports
type ReportKind string

const (
	ReportKindCode         ReportKind = "code"
	ReportKindTestResult   ReportKind = "testResult"
	ReportKindStatusUpdate ReportKind = "statusUpdate"
)

// ParseReportKind validates a report kind string
func ParseReportKind(s string) (ReportKind, error) {
	switch ReportKind(s) {
	case ReportKindCode, ReportKindTestResult, ReportKindStatusUpdate:
		return ReportKind(s), nil
	default:
		return "", fmt.Errorf("unknown report kind: %s", s)
	}
}

// Recommendation is a decision-engine outcome
type Recommendation string

const (
	RecommendationAccept       Recommendation = "accept"
	RecommendationRework       Recommendation = "rework"
	RecommendationManualReview Recommendation = "manual_review"
)

// ParseRecommendation validates a recommendation string. Anything outside
// the three known decisions is rejected so advisory output stays fail-closed.
func ParseRecommendation(s string) (Recommendation, error) {
	switch Recommendation(s) {
	case RecommendationAccept, RecommendationRework, RecommendationManualReview:
		return Recommendation(s), nil
	default:
		return "", fmt.Errorf("unknown recommendation: %s", s)
	}
}

// EscalationState tracks an escalated task through redistribution
type EscalationState string

const (
	EscalationStatePending              EscalationState = "pending"
	EscalationStateRedistributing       EscalationState = "redistributing"
	EscalationStateRedistributed        EscalationState = "redistributed"
	EscalationStateRedistributionFailed EscalationState = "redistribution_failed"
)

// Subtask is one unit of requested work for a single file/role pair.
// Subtasks are immutable after submission; a rework is a new subtask
// with IsRework set, never a mutation of the original.
type Subtask struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	Filename string `json:"filename"`
	TaskText string `json:"text"`
	Code     string `json:"code,omitempty"`
	IsRework bool   `json:"isRework"`
}

// TaskKey identifies a logical task by file and role
type TaskKey struct {
	Filename string `json:"filename"`
	Role     Role   `json:"role"`
}

func (k TaskKey) String() string {
	return fmt.Sprintf("%s:%s", k.Role, k.Filename)
}

// Report is a worker result pushed back to the hub
type Report struct {
	SubtaskID string             `json:"subtaskId"`
	Kind      ReportKind         `json:"type"`
	File      string             `json:"file,omitempty"`
	Content   string             `json:"content,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Message   string             `json:"message,omitempty"`
	Status    TaskState          `json:"status,omitempty"`
}

// TestContext carries the supporting detail of a test recommendation
type TestContext struct {
	FailedFiles []string `json:"failedFiles"`
	Details     string   `json:"details,omitempty"`
}

// TestRecommendation is the external test-result signal that drives the
// coordinator's decision engine.
type TestRecommendation struct {
	Recommendation string      `json:"recommendation"`
	Context        TestContext `json:"context"`
}

// EscalationRecord tracks a task handed up for redistribution
type EscalationRecord struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"taskId"`
	ProjectID     string          `json:"projectId"`
	ErrorMessage  string          `json:"errorMessage"`
	Status        EscalationState `json:"status"`
	LocalRetries  int             `json:"localRetryCount"`
	NewSubtaskID  string          `json:"newSubtaskId,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
}

// ProjectStructure is the nested directory/file tree a run is generated
// from. Object keys are directory or file names; a leaf with an absent or
// string value is a file placeholder.
type ProjectStructure map[string]any

// ParseStructure unmarshals a project structure from JSON
func ParseStructure(data []byte) (ProjectStructure, error) {
	var s ProjectStructure
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse project structure: %w", err)
	}
	return s, nil
}

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// CoordinatorConfig tunes task production and the decision engine
type CoordinatorConfig struct {
	MaxConcurrentTasks  int      `json:"maxConcurrentTasks" yaml:"maxConcurrentTasks"`
	DesiredActiveBuffer int      `json:"desiredActiveBuffer" yaml:"desiredActiveBuffer"`
	MaxReworkAttempts   int      `json:"maxReworkAttempts" yaml:"maxReworkAttempts"`
	TestableExtensions  []string `json:"testableExtensions,omitempty" yaml:"testableExtensions,omitempty"`
	// Cycle sleep intervals in milliseconds for active, pending and idle states
	ActiveCycleMS  int `json:"activeCycleMs" yaml:"activeCycleMs"`
	PendingCycleMS int `json:"pendingCycleMs" yaml:"pendingCycleMs"`
	IdleCycleMS    int `json:"idleCycleMs" yaml:"idleCycleMs"`
}

// SupervisorConfig tunes the escalation protocol
type SupervisorConfig struct {
	LocalMaxRetries  int `json:"localMaxRetries" yaml:"localMaxRetries"`
	GlobalMaxRetries int `json:"globalMaxRetries" yaml:"globalMaxRetries"`
}

// StructureConfig tunes structure fetching
type StructureConfig struct {
	TimeoutSeconds int `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	PollIntervalMS int `json:"pollIntervalMs" yaml:"pollIntervalMs"`
}

// GenerationConfig selects and tunes the generation backend
type GenerationConfig struct {
	Backend     string   `json:"backend" yaml:"backend"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Endpoint    string   `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Fallbacks   []string `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	MaxAttempts int      `json:"maxAttempts" yaml:"maxAttempts"`
}

// ServerConfig tunes the HTTP surface
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string   `json:"file" yaml:"file"`
	Level LogLevel `json:"level" yaml:"level"`
}

// TaskmeshConfig represents the main configuration
type TaskmeshConfig struct {
	Version       string              `json:"version" yaml:"version"`
	ProjectID     string              `json:"projectId" yaml:"projectId"`
	Coordinator   *CoordinatorConfig  `json:"coordinator,omitempty" yaml:"coordinator,omitempty"`
	Supervisor    *SupervisorConfig   `json:"supervisor,omitempty" yaml:"supervisor,omitempty"`
	Structure     *StructureConfig    `json:"structure,omitempty" yaml:"structure,omitempty"`
	Generation    *GenerationConfig   `json:"generation,omitempty" yaml:"generation,omitempty"`
	Server        *ServerConfig       `json:"server,omitempty" yaml:"server,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Logging       *LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty"`
}
