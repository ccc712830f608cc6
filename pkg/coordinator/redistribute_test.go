package coordinator_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/taskmesh/taskmesh/pkg/coordinator"
	"github.com/taskmesh/taskmesh/pkg/types"
)

// submitOne seeds a single file and runs a cycle so the executor subtask
// is known to the coordinator.
func submitOne(t *testing.T, env *testEnv) string {
	t.Helper()

	env.coord.SeedFromStructure(types.ProjectStructure{"a.py": nil})
	if _, err := env.coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(env.hub.Submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(env.hub.Submitted))
	}
	return env.hub.Submitted[0].ID
}

func TestRedistributeCreatesReworkSubtask(t *testing.T) {
	env := newTestEnv(testConfig())
	env.store.Files["a.py"] = "broken content"
	taskID := submitOne(t, env)

	newID, err := env.coord.Redistribute(context.Background(), &types.EscalationRecord{
		TaskID:       taskID,
		ErrorMessage: "worker crashed",
		LocalRetries: 2,
	})
	if err != nil {
		t.Fatalf("Redistribute failed: %v", err)
	}
	if newID == taskID {
		t.Error("redistribution must create a new subtask, not reuse the old id")
	}

	last := env.hub.Submitted[len(env.hub.Submitted)-1]
	if last.ID != newID {
		t.Errorf("last submission id = %s, want %s", last.ID, newID)
	}
	if !last.IsRework {
		t.Error("redistributed subtask must be marked as rework")
	}
	if !strings.Contains(last.TaskText, "worker crashed") {
		t.Errorf("task text %q missing the reported error", last.TaskText)
	}
	if last.Code != "broken content" {
		t.Errorf("task code = %q, want the fetched artifact", last.Code)
	}

	key := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}
	if state, _ := env.coord.Status(key); state != types.TaskStateSent {
		t.Errorf("state after redistribution = %s, want sent", state)
	}
}

func TestRedistributeExhaustedRetries(t *testing.T) {
	env := newTestEnv(testConfig())
	taskID := submitOne(t, env)
	submittedBefore := len(env.hub.Submitted)

	// Four coordinator-side retries plus two reported by the supervisor
	// crosses the global cap of five.
	env.coord.SetLocalRetries(taskID, 4)

	_, err := env.coord.Redistribute(context.Background(), &types.EscalationRecord{
		TaskID:       taskID,
		ErrorMessage: "worker crashed",
		LocalRetries: 2,
	})
	if !errors.Is(err, coordinator.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}

	key := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}
	if state, _ := env.coord.Status(key); state != types.TaskStatePermanentlyFailed {
		t.Errorf("state = %s, want permanently_failed", state)
	}
	if len(env.hub.Submitted) != submittedBefore {
		t.Error("no subtask may be created once retries are exhausted")
	}
}

func TestRedistributeExactlyAtCapFails(t *testing.T) {
	env := newTestEnv(testConfig())
	taskID := submitOne(t, env)

	// 3 + 2 = 5 meets the cap; the comparison is >=, not >
	env.coord.SetLocalRetries(taskID, 3)

	_, err := env.coord.Redistribute(context.Background(), &types.EscalationRecord{
		TaskID:       taskID,
		LocalRetries: 2,
	})
	if !errors.Is(err, coordinator.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted at exactly the cap, got %v", err)
	}
}

func TestLocalRetriesSpanRedistributedSubtasks(t *testing.T) {
	env := newTestEnv(testConfig())
	taskID := submitOne(t, env)
	key := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}

	env.hub.SetStatus(taskID, types.TaskStateErrorProcessing)
	env.coord.Reconcile()
	if got := env.coord.LocalRetries(key); got != 1 {
		t.Fatalf("retries after first failure = %d, want 1", got)
	}

	// Redistribution mints a fresh subtask ID for the same logical task;
	// the counter keeps accumulating under it
	newID, err := env.coord.Redistribute(context.Background(), &types.EscalationRecord{
		TaskID:       taskID,
		ErrorMessage: "worker crashed",
		LocalRetries: 1,
	})
	if err != nil {
		t.Fatalf("Redistribute failed: %v", err)
	}

	env.hub.SetStatus(newID, types.TaskStateErrorProcessing)
	env.coord.Reconcile()
	if got := env.coord.LocalRetries(key); got != 2 {
		t.Errorf("retries after redistributed failure = %d, want 2", got)
	}
}

func TestRedistributeUnderCapProceedsWithoutContent(t *testing.T) {
	env := newTestEnv(testConfig())
	taskID := submitOne(t, env)

	// No store content for a.py: fetch fails but redistribution proceeds
	newID, err := env.coord.Redistribute(context.Background(), &types.EscalationRecord{
		TaskID:       taskID,
		ErrorMessage: "timeout",
		LocalRetries: 1,
	})
	if err != nil {
		t.Fatalf("Redistribute failed: %v", err)
	}
	if newID == "" {
		t.Error("expected a new subtask id")
	}
}
