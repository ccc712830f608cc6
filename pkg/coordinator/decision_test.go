package coordinator_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/taskmesh/taskmesh/pkg/mocks"
	"github.com/taskmesh/taskmesh/pkg/types"
)

// driveToTested runs a.py through executor delivery and a tester report
// so the decision engine has an in-flight tester to act on.
func driveToTested(t *testing.T, env *testEnv) {
	t.Helper()

	env.store.Files["a.py"] = "print('v1')"
	env.coord.SeedFromStructure(types.ProjectStructure{"a.py": nil})

	if _, err := env.coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	env.hub.SetStatus(env.hub.Submitted[0].ID, types.TaskStateCodeReceived)

	if _, err := env.coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, sub := range env.hub.Submitted {
		if sub.Role == types.RoleTester {
			env.hub.SetStatus(sub.ID, types.TaskStateTested)
		}
	}
	env.coord.Reconcile()

	testerKey := types.TaskKey{Filename: "a.py", Role: types.RoleTester}
	if state, _ := env.coord.Status(testerKey); state != types.TaskStateTested {
		t.Fatalf("tester state = %s, want tested", state)
	}
}

func TestUnknownRecommendationRejected(t *testing.T) {
	env := newTestEnv(testConfig())

	err := env.coord.HandleTestRecommendation(context.Background(), types.TestRecommendation{
		Recommendation: "ship_it",
	})
	if err == nil {
		t.Error("expected unknown recommendation to be rejected")
	}
}

func TestAcceptMarksTesterAndExecutorAccepted(t *testing.T) {
	env := newTestEnv(testConfig())
	driveToTested(t, env)

	err := env.coord.HandleTestRecommendation(context.Background(), types.TestRecommendation{
		Recommendation: "accept",
	})
	if err != nil {
		t.Fatal(err)
	}

	testerKey := types.TaskKey{Filename: "a.py", Role: types.RoleTester}
	executorKey := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}
	if state, _ := env.coord.Status(testerKey); state != types.TaskStateAccepted {
		t.Errorf("tester state = %s, want accepted", state)
	}
	if state, _ := env.coord.Status(executorKey); state != types.TaskStateAccepted {
		t.Errorf("executor state = %s, want accepted", state)
	}
}

func TestReworkRequeuesExecutorWithContext(t *testing.T) {
	env := newTestEnv(testConfig())
	driveToTested(t, env)
	submittedBefore := len(env.hub.Submitted)

	err := env.coord.HandleTestRecommendation(context.Background(), types.TestRecommendation{
		Recommendation: "rework",
		Context: types.TestContext{
			FailedFiles: []string{"test_a.py"},
			Details:     "assertion failed on line 7",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	testerKey := types.TaskKey{Filename: "a.py", Role: types.RoleTester}
	executorKey := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}
	if state, _ := env.coord.Status(testerKey); state != types.TaskStateNeedsRework {
		t.Errorf("tester state = %s, want needs_rework", state)
	}
	if state, _ := env.coord.Status(executorKey); state != types.TaskStatePending {
		t.Errorf("executor state = %s, want pending", state)
	}
	if got := env.coord.ReworkAttempts("a.py"); got != 1 {
		t.Errorf("rework attempts = %d, want 1", got)
	}
	if len(env.hub.Submitted) != submittedBefore {
		t.Error("decision engine must not submit directly; the cycle does")
	}

	// The next cycle submits the rework subtask with the failure context
	if _, err := env.coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	last := env.hub.Submitted[len(env.hub.Submitted)-1]
	if last.Role != types.RoleExecutor || !last.IsRework {
		t.Fatalf("expected a rework executor subtask, got %+v", last)
	}
	if want := "assertion failed on line 7"; !strings.Contains(last.TaskText, want) {
		t.Errorf("rework task text %q missing failure context %q", last.TaskText, want)
	}
}

func TestReworkRoundResubmitsTester(t *testing.T) {
	env := newTestEnv(testConfig())
	driveToTested(t, env)

	err := env.coord.HandleTestRecommendation(context.Background(), types.TestRecommendation{
		Recommendation: "rework",
		Context: types.TestContext{
			FailedFiles: []string{"test_a.py"},
			Details:     "assertion failed on line 7",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	// The next cycle submits the rework executor
	if _, err := env.coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	rework := env.hub.Submitted[len(env.hub.Submitted)-1]
	if rework.Role != types.RoleExecutor || !rework.IsRework {
		t.Fatalf("expected a rework executor subtask, got %+v", rework)
	}

	// The rework delivery reopens the test gate: the same cycle that
	// reconciles it resubmits the tester
	env.hub.SetStatus(rework.ID, types.TaskStateCodeReceived)
	if _, err := env.coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	var testerSubtasks []types.Subtask
	for _, sub := range env.hub.Submitted {
		if sub.Role == types.RoleTester {
			testerSubtasks = append(testerSubtasks, sub)
		}
	}
	if len(testerSubtasks) != 2 {
		t.Fatalf("tester submissions = %d, want 2 (one per test round)", len(testerSubtasks))
	}

	testerKey := types.TaskKey{Filename: "a.py", Role: types.RoleTester}
	if state, _ := env.coord.Status(testerKey); state != types.TaskStateSent {
		t.Fatalf("tester state = %s, want sent", state)
	}

	// The second test round concludes the file
	env.hub.SetStatus(testerSubtasks[1].ID, types.TaskStateTested)
	env.coord.Reconcile()
	err = env.coord.HandleTestRecommendation(context.Background(), types.TestRecommendation{
		Recommendation: "accept",
	})
	if err != nil {
		t.Fatal(err)
	}

	executorKey := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}
	if state, _ := env.coord.Status(testerKey); state != types.TaskStateAccepted {
		t.Errorf("tester state = %s, want accepted", state)
	}
	if state, _ := env.coord.Status(executorKey); state != types.TaskStateAccepted {
		t.Errorf("executor state = %s, want accepted", state)
	}
}

func TestAcceptResolvesQueuedRework(t *testing.T) {
	env := newTestEnv(testConfig())
	driveToTested(t, env)

	err := env.coord.HandleTestRecommendation(context.Background(), types.TestRecommendation{
		Recommendation: "rework",
		Context:        types.TestContext{FailedFiles: []string{"test_a.py"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	submittedBefore := len(env.hub.Submitted)

	// An accept lands before the rework round starts; it supersedes the
	// queued rework instead of stranding the file
	err = env.coord.HandleTestRecommendation(context.Background(), types.TestRecommendation{
		Recommendation: "accept",
	})
	if err != nil {
		t.Fatal(err)
	}

	testerKey := types.TaskKey{Filename: "a.py", Role: types.RoleTester}
	executorKey := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}
	if state, _ := env.coord.Status(testerKey); state != types.TaskStateAccepted {
		t.Errorf("tester state = %s, want accepted", state)
	}
	if state, _ := env.coord.Status(executorKey); state != types.TaskStateAccepted {
		t.Errorf("executor state = %s, want accepted", state)
	}

	if _, err := env.coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(env.hub.Submitted) != submittedBefore {
		t.Error("the superseded rework must not be submitted")
	}
}

func TestReworkCircuitBreaker(t *testing.T) {
	env := newTestEnv(testConfig())
	driveToTested(t, env)

	rec := types.TestRecommendation{
		Recommendation: "rework",
		Context:        types.TestContext{FailedFiles: []string{"test_a.py"}},
	}

	for i := 0; i < 3; i++ {
		if err := env.coord.HandleTestRecommendation(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
	if got := env.coord.ReworkAttempts("a.py"); got != 3 {
		t.Fatalf("rework attempts = %d, want 3", got)
	}
	submittedBefore := len(env.hub.Submitted)

	// The fourth failure trips the breaker: manual review, no new work
	if err := env.coord.HandleTestRecommendation(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	testerKey := types.TaskKey{Filename: "a.py", Role: types.RoleTester}
	executorKey := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}
	if state, _ := env.coord.Status(testerKey); state != types.TaskStateReviewNeeded {
		t.Errorf("tester state = %s, want review_needed", state)
	}
	if state, _ := env.coord.Status(executorKey); state != types.TaskStateReviewNeeded {
		t.Errorf("executor state = %s, want review_needed", state)
	}
	if len(env.hub.Submitted) != submittedBefore {
		t.Error("no new subtask may be created after the breaker trips")
	}
	if reviews := env.notifier.Reviews(); len(reviews) != 1 || reviews[0] != "a.py" {
		t.Errorf("review notifications = %v, want [a.py]", reviews)
	}

	// Frozen tasks stay out of subsequent cycles
	if _, err := env.coord.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(env.hub.Submitted) != submittedBefore {
		t.Error("review_needed tasks must not be resubmitted")
	}
}

func TestManualReviewRecommendation(t *testing.T) {
	env := newTestEnv(testConfig())
	driveToTested(t, env)

	err := env.coord.HandleTestRecommendation(context.Background(), types.TestRecommendation{
		Recommendation: "manual_review",
		Context:        types.TestContext{FailedFiles: []string{"test_a.py"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	executorKey := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}
	if state, _ := env.coord.Status(executorKey); state != types.TaskStateReviewNeeded {
		t.Errorf("executor state = %s, want review_needed", state)
	}
}

func TestAdvisorCanOverrideDecision(t *testing.T) {
	adv := mocks.NewMockAdvisor()
	adv.Decision = types.RecommendationManualReview

	env := newTestEnvWithAdvisor(testConfig(), adv)
	driveToTested(t, env)

	err := env.coord.HandleTestRecommendation(context.Background(), types.TestRecommendation{
		Recommendation: "rework",
		Context:        types.TestContext{FailedFiles: []string{"test_a.py"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	executorKey := types.TaskKey{Filename: "a.py", Role: types.RoleExecutor}
	if state, _ := env.coord.Status(executorKey); state != types.TaskStateReviewNeeded {
		t.Errorf("executor state = %s, want review_needed (advisor override)", state)
	}
}

func TestMalformedAdviceFailsClosed(t *testing.T) {
	adv := mocks.NewMockAdvisor()
	adv.Decision = types.Recommendation("promote_to_prod")

	env := newTestEnvWithAdvisor(testConfig(), adv)
	driveToTested(t, env)

	err := env.coord.HandleTestRecommendation(context.Background(), types.TestRecommendation{
		Recommendation: "accept",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Malformed advice is discarded; the algorithmic accept stands
	testerKey := types.TaskKey{Filename: "a.py", Role: types.RoleTester}
	if state, _ := env.coord.Status(testerKey); state != types.TaskStateAccepted {
		t.Errorf("tester state = %s, want accepted", state)
	}
}

func TestAdvisorErrorFallsBackToAlgorithmicDecision(t *testing.T) {
	adv := mocks.NewMockAdvisor()
	adv.DecisionError = fmt.Errorf("model offline")

	env := newTestEnvWithAdvisor(testConfig(), adv)
	driveToTested(t, env)

	err := env.coord.HandleTestRecommendation(context.Background(), types.TestRecommendation{
		Recommendation: "accept",
	})
	if err != nil {
		t.Fatal(err)
	}

	testerKey := types.TaskKey{Filename: "a.py", Role: types.RoleTester}
	if state, _ := env.coord.Status(testerKey); state != types.TaskStateAccepted {
		t.Errorf("tester state = %s, want accepted", state)
	}
}
