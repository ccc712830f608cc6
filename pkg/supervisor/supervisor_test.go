package supervisor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/taskmesh/taskmesh/pkg/coordinator"
	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/mocks"
	"github.com/taskmesh/taskmesh/pkg/supervisor"
	"github.com/taskmesh/taskmesh/pkg/types"
)

func testSupervisorConfig() *types.SupervisorConfig {
	return &types.SupervisorConfig{
		LocalMaxRetries:  3,
		GlobalMaxRetries: 5,
	}
}

func interfacesDeps(hub *mocks.MockHub) interfaces.Dependencies {
	return interfaces.Dependencies{Hub: hub}
}

func TestNoteFailureBelowCapDoesNotEscalate(t *testing.T) {
	redis := mocks.NewMockRedistributor()
	sup := supervisor.New(testSupervisorConfig(), nil, redis, nil)

	for i := 0; i < 3; i++ {
		record, err := sup.NoteFailure(context.Background(), "task-1", "proj", "boom")
		if err != nil {
			t.Fatalf("NoteFailure %d failed: %v", i, err)
		}
		if record != nil {
			t.Fatalf("failure %d escalated below the local cap", i+1)
		}
	}

	if got := sup.Failures("task-1"); got != 3 {
		t.Errorf("failure count = %d, want 3", got)
	}
	if len(redis.Records) != 0 {
		t.Error("no redistribution may happen below the local cap")
	}
}

func TestNoteFailureEscalatesWhenCapExceeded(t *testing.T) {
	redis := mocks.NewMockRedistributor()
	notifier := mocks.NewMockNotifier()
	sup := supervisor.New(testSupervisorConfig(), nil, redis, notifier)

	var record *types.EscalationRecord
	var err error
	for i := 0; i < 4; i++ {
		record, err = sup.NoteFailure(context.Background(), "task-1", "proj", "boom")
		if err != nil {
			t.Fatal(err)
		}
	}

	if record == nil {
		t.Fatal("fourth failure must escalate past a local cap of 3")
	}
	if record.Status != types.EscalationStateRedistributed {
		t.Errorf("record status = %s, want redistributed", record.Status)
	}
	if record.NewSubtaskID != "new-subtask" {
		t.Errorf("new subtask id = %s, want new-subtask", record.NewSubtaskID)
	}
	if record.LocalRetries != 4 {
		t.Errorf("record local retries = %d, want 4", record.LocalRetries)
	}
	if len(notifier.Escalations) != 1 {
		t.Errorf("escalation notifications = %v, want one", notifier.Escalations)
	}

	// Redistributed records move to the archive
	if _, live := sup.Record("task-1"); live {
		t.Error("completed record must leave the active set")
	}
	archive := sup.Archive()
	if len(archive) != 1 || archive[0].TaskID != "task-1" {
		t.Errorf("archive = %v, want the completed record", archive)
	}
}

func TestEscalateSurfacesRedistributionFailure(t *testing.T) {
	redis := mocks.NewMockRedistributor()
	redis.RedistributeError = fmt.Errorf("hub unreachable")
	sup := supervisor.New(testSupervisorConfig(), nil, redis, nil)

	record, err := sup.Escalate(context.Background(), "task-1", "proj", "boom", 4)
	if err == nil {
		t.Fatal("expected redistribution failure to surface")
	}
	if record.Status != types.EscalationStateRedistributionFailed {
		t.Errorf("record status = %s, want redistribution_failed", record.Status)
	}
	if record.FailureReason == "" {
		t.Error("expected a failure reason on the record")
	}

	// Failed records stay live for inspection
	if _, live := sup.Record("task-1"); !live {
		t.Error("failed record must remain in the active set")
	}
}

func TestEscalateExhaustedRetriesAgainstCoordinator(t *testing.T) {
	cfg := &types.TaskmeshConfig{
		Version:   "1.0",
		ProjectID: "proj",
		Coordinator: &types.CoordinatorConfig{
			MaxConcurrentTasks:  10,
			DesiredActiveBuffer: 12,
			MaxReworkAttempts:   3,
			TestableExtensions:  []string{".py"},
		},
		Supervisor: testSupervisorConfig(),
	}

	hub := mocks.NewMockHub()
	coord := coordinator.New(cfg, nil, interfacesDeps(hub))
	coord.SeedFromStructure(types.ProjectStructure{"a.py": nil})
	if _, err := coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	taskID := hub.Submitted[0].ID

	// The coordinator already saw four local failures for this subtask
	coord.SetLocalRetries(taskID, 4)
	submittedBefore := len(hub.Submitted)

	sup := supervisor.New(testSupervisorConfig(), nil, coord, nil)

	// Two supervisor-side retries push the combined count to six, past
	// the global cap of five: the task fails permanently.
	record, err := sup.Escalate(context.Background(), taskID, "proj", "boom", 2)
	if !errors.Is(err, coordinator.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if record.Status != types.EscalationStateRedistributionFailed {
		t.Errorf("record status = %s, want redistribution_failed", record.Status)
	}

	key := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}
	state, _ := coord.Status(key)
	if state != types.TaskStatePermanentlyFailed {
		t.Errorf("task state = %s, want permanently_failed", state)
	}
	if len(hub.Submitted) != submittedBefore {
		t.Error("no redistribution subtask may be created past the global cap")
	}
}

func TestFailureCountSurvivesRedistribution(t *testing.T) {
	cfg := &types.TaskmeshConfig{
		Version:   "1.0",
		ProjectID: "proj",
		Coordinator: &types.CoordinatorConfig{
			MaxConcurrentTasks:  10,
			DesiredActiveBuffer: 12,
			MaxReworkAttempts:   3,
			TestableExtensions:  []string{".py"},
		},
		Supervisor: testSupervisorConfig(),
	}

	hub := mocks.NewMockHub()
	coord := coordinator.New(cfg, nil, interfacesDeps(hub))
	coord.SeedFromStructure(types.ProjectStructure{"a.py": nil})
	if _, err := coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	firstID := hub.Submitted[0].ID

	sup := supervisor.New(testSupervisorConfig(), nil, coord, nil)

	for i := 0; i < 3; i++ {
		if _, err := sup.NoteFailure(context.Background(), firstID, "proj", "boom"); err != nil {
			t.Fatal(err)
		}
	}

	// The fourth failure escalates and redistribution mints a new
	// subtask ID for the same file/role task
	record, err := sup.NoteFailure(context.Background(), firstID, "proj", "boom")
	if err != nil {
		t.Fatal(err)
	}
	if record == nil || record.Status != types.EscalationStateRedistributed {
		t.Fatalf("record = %+v, want a redistributed escalation", record)
	}
	secondID := record.NewSubtaskID
	if secondID == "" || secondID == firstID {
		t.Fatalf("new subtask id = %q, want a fresh id", secondID)
	}

	// Both IDs share one failure counter
	if got := sup.Failures(secondID); got != 4 {
		t.Fatalf("failures under the new id = %d, want 4", got)
	}

	// The fifth failure, reported under the new ID, pushes the count to
	// the global cap: the task fails permanently instead of looping
	// through redistribution forever.
	record, err = sup.NoteFailure(context.Background(), secondID, "proj", "boom")
	if !errors.Is(err, coordinator.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if record.Status != types.EscalationStateRedistributionFailed {
		t.Errorf("record status = %s, want redistribution_failed", record.Status)
	}

	key := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}
	state, _ := coord.Status(key)
	if state != types.TaskStatePermanentlyFailed {
		t.Errorf("task state = %s, want permanently_failed", state)
	}
}

func TestEscalateRedistributesThroughCoordinator(t *testing.T) {
	cfg := &types.TaskmeshConfig{
		Version:   "1.0",
		ProjectID: "proj",
		Coordinator: &types.CoordinatorConfig{
			MaxConcurrentTasks:  10,
			DesiredActiveBuffer: 12,
			MaxReworkAttempts:   3,
			TestableExtensions:  []string{".py"},
		},
		Supervisor: testSupervisorConfig(),
	}

	hub := mocks.NewMockHub()
	coord := coordinator.New(cfg, nil, interfacesDeps(hub))
	coord.SeedFromStructure(types.ProjectStructure{"a.py": nil})
	if _, err := coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	taskID := hub.Submitted[0].ID

	sup := supervisor.New(testSupervisorConfig(), nil, coord, nil)

	record, err := sup.Escalate(context.Background(), taskID, "proj", "boom", 4)
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if record.Status != types.EscalationStateRedistributed {
		t.Errorf("record status = %s, want redistributed", record.Status)
	}
	if record.NewSubtaskID == "" || record.NewSubtaskID == taskID {
		t.Errorf("new subtask id = %q, want a fresh id", record.NewSubtaskID)
	}

	last := hub.Submitted[len(hub.Submitted)-1]
	if !last.IsRework {
		t.Error("redistributed subtask must be a rework")
	}
}
