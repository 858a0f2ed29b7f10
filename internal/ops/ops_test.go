package ops

import (
	"testing"
	"time"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/plan"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testPlan builds a two-phase plan: phase-1 with task-1 and task-2 (task-2
// depends on task-1), phase-2 depending on phase-1 with task-3.
func testPlan() *plan.Plan {
	p := &plan.Plan{
		Orchestration: &plan.Orchestration{
			Metadata: plan.Metadata{PlanID: "plan-1", Name: "Test", Status: plan.StatusPending, Version: "1.0"},
			Phases: []plan.PhaseRef{
				{ID: "phase-1", Name: "Setup", File: "phases/phase-1.json", Dependencies: []string{}, Status: plan.StatusPending},
				{ID: "phase-2", Name: "Build", File: "phases/phase-2.json", Dependencies: []string{"phase-1"}, Status: plan.StatusPending},
			},
			Execution: plan.ExecutionConfig{Strategy: "sequential"},
		},
		PhaseFiles: map[string]*plan.PhaseFile{
			"phase-1": {
				PhaseID: "phase-1", PhaseName: "Setup", Dependencies: []string{}, Status: plan.StatusPending,
				Tasks: []plan.Task{
					{TaskID: "task-1", Description: "first", Status: plan.StatusPending, Dependencies: []string{}},
					{TaskID: "task-2", Description: "second", Status: plan.StatusPending, Dependencies: []string{"task-1"}},
				},
			},
			"phase-2": {
				PhaseID: "phase-2", PhaseName: "Build", Dependencies: []string{"phase-1"}, Status: plan.StatusPending,
				Tasks: []plan.Task{
					{TaskID: "task-3", Description: "third", Status: plan.StatusPending, Dependencies: []string{}},
				},
			},
		},
		State: plan.NewExecutionState(),
	}
	plan.SyncExecutionState(p)
	p.RecomputeProgress()
	return p
}

// ---------------------------------------------------------------------------
// Phases
// ---------------------------------------------------------------------------

func TestAddPhaseDerivesSlugID(t *testing.T) {
	p := testPlan()
	res := AddPhase(p, &plan.AddPhasePayload{Name: "Integration Tests!"})
	if !res.Success {
		t.Fatalf("add phase failed: %+v", res)
	}
	id := res.Data.(map[string]string)["phase_id"]
	if id != "integration-tests" {
		t.Errorf("derived id = %q, want %q", id, "integration-tests")
	}
	ref := p.Orchestration.FindPhase(id)
	if ref == nil {
		t.Fatal("phase not in orchestration")
	}
	if ref.File != "phases/integration-tests.json" {
		t.Errorf("file = %q", ref.File)
	}
	if _, exists := p.PhaseFiles[id]; !exists {
		t.Error("phase file not created")
	}
}

func TestAddPhaseRejectsCollision(t *testing.T) {
	res := AddPhase(testPlan(), &plan.AddPhasePayload{ID: "phase-1", Name: "Dup"})
	if res.Success || res.Code != errors.CodeIDCollision {
		t.Errorf("result = %+v, want ID_COLLISION", res)
	}
}

func TestAddPhaseInsertAfter(t *testing.T) {
	p := testPlan()
	res := AddPhase(p, &plan.AddPhasePayload{ID: "phase-mid", Name: "Mid", After: "phase-1"})
	if !res.Success {
		t.Fatalf("add phase failed: %+v", res)
	}
	ids := p.Orchestration.PhaseIDs()
	want := []string{"phase-1", "phase-mid", "phase-2"}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestRemovePhaseRespectsPolicy(t *testing.T) {
	p := testPlan()
	res := RemovePhase(p, "phase-1", false)
	if res.Success || res.Code != errors.CodeHasDependentPhases {
		t.Errorf("result = %+v, want HAS_DEPENDENT_PHASES", res)
	}

	res = RemovePhase(p, "phase-2", false)
	if !res.Success {
		t.Fatalf("remove phase-2 failed: %+v", res)
	}
	if p.Orchestration.HasPhase("phase-2") {
		t.Error("phase-2 still listed")
	}
	if _, exists := p.PhaseFiles["phase-2"]; exists {
		t.Error("phase-2 file still in aggregate")
	}
}

func TestRemoveCompletedPhaseNeedsForce(t *testing.T) {
	p := testPlan()
	p.State.PhaseStatuses["phase-2"] = plan.StatusCompleted

	res := RemovePhase(p, "phase-2", false)
	if res.Success || res.Code != errors.CodePhaseCompleted || !res.RequiresForce {
		t.Fatalf("result = %+v, want PHASE_COMPLETED with requires_force", res)
	}

	res = RemovePhase(p, "phase-2", true)
	if !res.Success {
		t.Fatalf("forced remove failed: %+v", res)
	}
	if len(res.Warnings) == 0 {
		t.Error("forced remove of completed phase carries no warning")
	}
}

func TestUpdatePhaseMetadataKeepsFilesInAgreement(t *testing.T) {
	p := testPlan()
	name := "Renamed"
	res := UpdatePhaseMetadata(p, &plan.UpdatePhasePayload{PhaseID: "phase-1", Name: &name}, false)
	if !res.Success {
		t.Fatalf("update failed: %+v", res)
	}
	if p.Orchestration.FindPhase("phase-1").Name != "Renamed" {
		t.Error("orchestration entry not renamed")
	}
	if p.PhaseFiles["phase-1"].PhaseName != "Renamed" {
		t.Error("phase file not renamed")
	}
}

func TestUpdatePhaseStatusTransition(t *testing.T) {
	p := testPlan()
	completed := plan.StatusCompleted
	pending := plan.StatusPending

	if res := UpdatePhaseMetadata(p, &plan.UpdatePhasePayload{PhaseID: "phase-1", Status: &completed}, false); !res.Success {
		t.Fatalf("pending->completed rejected: %+v", res)
	}
	res := UpdatePhaseMetadata(p, &plan.UpdatePhasePayload{PhaseID: "phase-1", Status: &pending}, false)
	if res.Success || res.Code != errors.CodeInvalidStatusTransition {
		t.Errorf("completed->pending result = %+v, want INVALID_STATUS_TRANSITION", res)
	}
	if res := UpdatePhaseMetadata(p, &plan.UpdatePhasePayload{PhaseID: "phase-1", Status: &pending}, true); !res.Success {
		t.Errorf("forced reset rejected: %+v", res)
	}
}

func TestReorderPhases(t *testing.T) {
	p := testPlan()
	res := ReorderPhases(p, []string{"phase-2", "phase-1"})
	if !res.Success {
		t.Fatalf("reorder failed: %+v", res)
	}
	if ids := p.Orchestration.PhaseIDs(); ids[0] != "phase-2" {
		t.Errorf("order = %v", ids)
	}
}

func TestReorderPhasesRejectsNonPermutation(t *testing.T) {
	cases := [][]string{
		{"phase-1"},
		{"phase-1", "phase-2", "phase-3"},
		{"phase-1", "phase-9"},
		{"phase-1", "phase-1"},
	}
	for _, order := range cases {
		res := ReorderPhases(testPlan(), order)
		if res.Success || res.Code != errors.CodeInvalidReorder {
			t.Errorf("ReorderPhases(%v) = %+v, want INVALID_REORDER", order, res)
		}
	}
}

func TestReorderPhasesIdempotent(t *testing.T) {
	p := testPlan()
	current := p.Orchestration.PhaseIDs()
	res := ReorderPhases(p, current)
	if !res.Success {
		t.Fatalf("identity reorder failed: %+v", res)
	}
	for i, id := range p.Orchestration.PhaseIDs() {
		if id != current[i] {
			t.Fatalf("order changed: %v", p.Orchestration.PhaseIDs())
		}
	}
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

func TestAddTask(t *testing.T) {
	p := testPlan()
	res := AddTask(p, &plan.AddTaskPayload{
		PhaseID: "phase-2",
		Task:    plan.Task{Description: "Wire up the watcher"},
	})
	if !res.Success {
		t.Fatalf("add task failed: %+v", res)
	}
	id := res.Data.(map[string]string)["task_id"]
	if id != "wire-up-the-watcher" {
		t.Errorf("derived id = %q", id)
	}
	task, pf := p.FindTask(id)
	if task == nil || pf.PhaseID != "phase-2" {
		t.Fatal("task not in target phase")
	}
	if task.Status != plan.StatusPending {
		t.Errorf("status = %s, want pending", task.Status)
	}
}

func TestAddTaskRejectsCrossPhaseCollision(t *testing.T) {
	res := AddTask(testPlan(), &plan.AddTaskPayload{
		PhaseID: "phase-2",
		Task:    plan.Task{TaskID: "task-1", Description: "dup"},
	})
	if res.Success || res.Code != errors.CodeIDCollision {
		t.Errorf("result = %+v, want ID_COLLISION", res)
	}
}

func TestRemoveTaskWithDependentsBlocked(t *testing.T) {
	res := RemoveTask(testPlan(), "task-1", true)
	if res.Success || res.Code != errors.CodeHasDependentTasks {
		t.Errorf("result = %+v, want HAS_DEPENDENT_TASKS", res)
	}
}

func TestRemoveTask(t *testing.T) {
	p := testPlan()
	res := RemoveTask(p, "task-3", false)
	if !res.Success {
		t.Fatalf("remove failed: %+v", res)
	}
	if task, _ := p.FindTask("task-3"); task != nil {
		t.Error("task-3 still present")
	}
}

func TestUpdateTaskStatusFSM(t *testing.T) {
	p := testPlan()
	inProgress := plan.StatusInProgress
	completed := plan.StatusCompleted
	pending := plan.StatusPending

	if res := UpdateTask(p, &plan.UpdateTaskPayload{TaskID: "task-1", Status: &inProgress}, false); !res.Success {
		t.Fatalf("pending->in_progress rejected: %+v", res)
	}
	if res := UpdateTask(p, &plan.UpdateTaskPayload{TaskID: "task-1", Status: &completed}, false); !res.Success {
		t.Fatalf("in_progress->completed rejected: %+v", res)
	}
	res := UpdateTask(p, &plan.UpdateTaskPayload{TaskID: "task-1", Status: &pending}, false)
	if res.Success || res.Code != errors.CodeInvalidStatusTransition {
		t.Errorf("completed->pending result = %+v, want INVALID_STATUS_TRANSITION", res)
	}
}

func TestMoveTask(t *testing.T) {
	p := testPlan()
	res := MoveTask(p, &plan.MoveTaskPayload{TaskID: "task-3", ToPhase: "phase-1", Position: 0})
	if !res.Success {
		t.Fatalf("move failed: %+v", res)
	}
	if p.PhaseFiles["phase-1"].Tasks[0].TaskID != "task-3" {
		t.Errorf("task-3 not at position 0: %v", p.PhaseFiles["phase-1"].TaskIDs())
	}
	if len(p.PhaseFiles["phase-2"].Tasks) != 0 {
		t.Error("task-3 still in source phase")
	}
}

func TestMoveTaskAppendsOnOutOfRangePosition(t *testing.T) {
	p := testPlan()
	res := MoveTask(p, &plan.MoveTaskPayload{TaskID: "task-3", ToPhase: "phase-1", Position: -1})
	if !res.Success {
		t.Fatalf("move failed: %+v", res)
	}
	tasks := p.PhaseFiles["phase-1"].TaskIDs()
	if tasks[len(tasks)-1] != "task-3" {
		t.Errorf("task-3 not appended: %v", tasks)
	}
}

func TestMoveTaskToOwnPhaseRejected(t *testing.T) {
	res := MoveTask(testPlan(), &plan.MoveTaskPayload{TaskID: "task-1", ToPhase: "phase-1"})
	if res.Success || res.Code != errors.CodeInvalidOperation {
		t.Errorf("result = %+v, want INVALID_OPERATION", res)
	}
}

func TestReorderTasks(t *testing.T) {
	p := testPlan()
	res := ReorderTasks(p, "phase-1", []string{"task-2", "task-1"})
	if !res.Success {
		t.Fatalf("reorder failed: %+v", res)
	}
	if p.PhaseFiles["phase-1"].Tasks[0].TaskID != "task-2" {
		t.Errorf("order = %v", p.PhaseFiles["phase-1"].TaskIDs())
	}

	res = ReorderTasks(p, "phase-1", []string{"task-1"})
	if res.Success || res.Code != errors.CodeInvalidReorder {
		t.Errorf("partial reorder = %+v, want INVALID_REORDER", res)
	}
}

// ---------------------------------------------------------------------------
// Metadata and dispatch
// ---------------------------------------------------------------------------

func TestUpdatePlanMetadata(t *testing.T) {
	p := testPlan()
	name := "Renamed Plan"
	strategy := "parallel"
	conc := 4
	res := UpdatePlanMetadata(p, &plan.UpdateMetadataPayload{
		Name: &name, Strategy: &strategy, MaxConcurrency: &conc,
	})
	if !res.Success {
		t.Fatalf("update failed: %+v", res)
	}
	if p.Orchestration.Metadata.Name != "Renamed Plan" {
		t.Error("name not applied")
	}
	if p.Orchestration.Execution.Strategy != "parallel" || p.Orchestration.Execution.MaxConcurrency != 4 {
		t.Errorf("execution config = %+v", p.Orchestration.Execution)
	}
}

func TestUpdatePlanMetadataRejectsUnknownStrategy(t *testing.T) {
	bad := "round-robin"
	res := UpdatePlanMetadata(testPlan(), &plan.UpdateMetadataPayload{Strategy: &bad})
	if res.Success || res.Code != errors.CodeInvalidOperation {
		t.Errorf("result = %+v, want INVALID_OPERATION", res)
	}
}

func TestApplySyncsStateAndProgress(t *testing.T) {
	p := testPlan()
	op := plan.MustOperation(plan.OpAdd, plan.TargetTask, plan.AddTaskPayload{
		PhaseID: "phase-1",
		Task:    plan.Task{TaskID: "task-4", Description: "fourth"},
	})

	res := Apply(p, op, false, testNow)
	if !res.Success {
		t.Fatalf("apply failed: %+v", res)
	}
	if _, tracked := p.State.TaskStatuses["task-4"]; !tracked {
		t.Error("new task not in execution state")
	}
	if p.Orchestration.Progress.TotalTasks != 4 {
		t.Errorf("total tasks = %d, want 4", p.Orchestration.Progress.TotalTasks)
	}
	if !p.Orchestration.Metadata.ModifiedAt.Equal(testNow) {
		t.Errorf("modified = %v, want %v", p.Orchestration.Metadata.ModifiedAt, testNow)
	}
}

func TestApplyRemovePrunesExecutionState(t *testing.T) {
	p := testPlan()
	op := plan.MustOperation(plan.OpDelete, plan.TargetTask, plan.DeleteTaskPayload{TaskID: "task-3"})

	res := Apply(p, op, false, testNow)
	if !res.Success {
		t.Fatalf("apply failed: %+v", res)
	}
	if _, tracked := p.State.TaskStatuses["task-3"]; tracked {
		t.Error("deleted task still tracked in execution state")
	}
}

func TestApplyUnknownCombination(t *testing.T) {
	op := plan.Operation{Type: plan.OpMove, Target: plan.TargetMetadata, Data: []byte(`{}`)}
	res := Apply(testPlan(), op, false, testNow)
	if res.Success || res.Code != errors.CodeUnknownOperation {
		t.Errorf("result = %+v, want UNKNOWN_OPERATION", res)
	}
}

func TestApplyFailureLeavesAggregateUntouched(t *testing.T) {
	p := testPlan()
	before := len(p.PhaseFiles["phase-1"].Tasks)
	op := plan.MustOperation(plan.OpAdd, plan.TargetTask, plan.AddTaskPayload{
		PhaseID: "phase-1",
		Task:    plan.Task{TaskID: "task-1", Description: "collides"},
	})

	res := Apply(p, op, false, testNow)
	if res.Success {
		t.Fatal("collision accepted")
	}
	if len(p.PhaseFiles["phase-1"].Tasks) != before {
		t.Error("failed apply mutated the aggregate")
	}
	if !p.Orchestration.Metadata.ModifiedAt.IsZero() {
		t.Error("failed apply advanced the modification timestamp")
	}
}
