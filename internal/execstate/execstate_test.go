package execstate

import (
	"testing"
	"time"

	"github.com/planforge/planforge/internal/plan"
)

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
					{TaskID: "task-2", Description: "second", Status: plan.StatusPending, Dependencies: []string{}},
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
	return p
}

func TestAnalyzeFreshPlan(t *testing.T) {
	a := Analyze(testPlan())
	if a.HasStarted {
		t.Error("fresh plan reported as started")
	}
	if len(a.PendingTasks) != 3 || len(a.CompletedTasks) != 0 {
		t.Errorf("pending=%v completed=%v", a.PendingTasks, a.CompletedTasks)
	}
}

func TestAnalyzeStartedPlan(t *testing.T) {
	p := testPlan()
	p.State.CurrentPhase = "phase-1"
	p.State.PhaseStatuses["phase-1"] = plan.StatusInProgress
	p.State.TaskStatuses["task-1"] = plan.StatusCompleted
	p.State.TaskStatuses["task-2"] = plan.StatusInProgress

	a := Analyze(p)
	if !a.HasStarted {
		t.Error("started plan reported as not started")
	}
	if a.CurrentPhase != "phase-1" {
		t.Errorf("currentPhase = %q", a.CurrentPhase)
	}
	if len(a.CompletedTasks) != 1 || a.CompletedTasks[0] != "task-1" {
		t.Errorf("completed = %v", a.CompletedTasks)
	}
	if len(a.InProgressTasks) != 1 || a.InProgressTasks[0] != "task-2" {
		t.Errorf("in progress = %v", a.InProgressTasks)
	}
	if len(a.PendingTasks) != 1 || a.PendingTasks[0] != "task-3" {
		t.Errorf("pending = %v", a.PendingTasks)
	}
}

func TestAnalyzeStartedAtAloneMeansStarted(t *testing.T) {
	p := testPlan()
	started := time.Now()
	p.State.StartedAt = &started

	if !Analyze(p).HasStarted {
		t.Error("StartedAt timestamp ignored")
	}
}

func TestStatusFallsBackToDocuments(t *testing.T) {
	p := testPlan()
	// Drop the state record so resolution must use the phase file.
	delete(p.State.TaskStatuses, "task-1")
	p.PhaseFiles["phase-1"].Tasks[0].Status = plan.StatusCompleted

	if got := TaskStatus(p, "task-1"); got != plan.StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
}

func TestAnalyzeDeterministicOrder(t *testing.T) {
	p := testPlan()
	p.State.TaskStatuses["task-1"] = plan.StatusCompleted
	p.State.TaskStatuses["task-3"] = plan.StatusCompleted

	first := Analyze(p).CompletedTasks
	for i := 0; i < 5; i++ {
		next := Analyze(p).CompletedTasks
		for j := range first {
			if next[j] != first[j] {
				t.Fatalf("order changed between runs: %v vs %v", next, first)
			}
		}
	}
	if first[0] != "task-1" || first[1] != "task-3" {
		t.Errorf("completed = %v, want plan order", first)
	}
}

func TestSummarize(t *testing.T) {
	p := testPlan()
	p.State.CurrentPhase = "phase-2"
	p.State.PhaseStatuses["phase-1"] = plan.StatusCompleted
	p.State.TaskStatuses["task-1"] = plan.StatusCompleted
	p.State.TaskStatuses["task-2"] = plan.StatusFailed

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Summarize(p, now)
	if s.PlanID != "plan-1" || !s.GeneratedAt.Equal(now) {
		t.Errorf("summary header = %+v", s)
	}
	if len(s.CompletedPhases) != 1 || s.CompletedPhases[0] != "phase-1" {
		t.Errorf("completedPhases = %v", s.CompletedPhases)
	}
	if len(s.CompletedTasks) != 1 || s.CompletedTasks[0] != "task-1" {
		t.Errorf("completedTasks = %v", s.CompletedTasks)
	}
	if len(s.FailedTasks) != 1 || s.FailedTasks[0] != "task-2" {
		t.Errorf("failedTasks = %v", s.FailedTasks)
	}
	if s.TotalPhases != 2 || s.TotalTasks != 3 {
		t.Errorf("totals = %d/%d", s.TotalPhases, s.TotalTasks)
	}
}
