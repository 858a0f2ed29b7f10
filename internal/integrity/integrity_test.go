package integrity

import (
	"strings"
	"testing"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/plan"
)

// testPlan builds a two-phase plan: phase-1 has task-1 and task-2 (task-2
// depends on task-1), phase-2 depends on phase-1 and has task-3 which depends
// on task-2 across the phase boundary.
func testPlan() *plan.Plan {
	return &plan.Plan{
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
				PhaseID:      "phase-1",
				PhaseName:    "Setup",
				Dependencies: []string{},
				Status:       plan.StatusPending,
				Tasks: []plan.Task{
					{TaskID: "task-1", Description: "first", Status: plan.StatusPending, Dependencies: []string{}},
					{TaskID: "task-2", Description: "second", Status: plan.StatusPending, Dependencies: []string{"task-1"}},
				},
			},
			"phase-2": {
				PhaseID:      "phase-2",
				PhaseName:    "Build",
				Dependencies: []string{"phase-1"},
				Status:       plan.StatusPending,
				Tasks: []plan.Task{
					{TaskID: "task-3", Description: "third", Status: plan.StatusPending, Dependencies: []string{"task-2"}},
				},
			},
		},
		State: plan.NewExecutionState(),
	}
}

func hasCode(errs []*errors.ValidationError, code errors.Code) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}

func TestValidateCleanPlan(t *testing.T) {
	res := Validate(testPlan())
	if !res.Valid {
		t.Fatalf("clean plan rejected: %v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestValidateMissingPhaseFile(t *testing.T) {
	p := testPlan()
	delete(p.PhaseFiles, "phase-2")

	res := Validate(p)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if !hasCode(res.Errors, errors.CodeMissingPhaseFile) {
		t.Errorf("missing MISSING_PHASE_FILE error: %v", res.Errors)
	}
}

func TestValidateOrphanedPhaseFile(t *testing.T) {
	p := testPlan()
	p.PhaseFiles["phase-9"] = &plan.PhaseFile{
		PhaseID: "phase-9", PhaseName: "Stray", Dependencies: []string{}, Status: plan.StatusPending,
	}

	res := Validate(p)
	if !res.Valid {
		t.Fatalf("orphaned file should warn, not fail: %v", res.Errors)
	}
	if !hasCode(res.Warnings, errors.CodeOrphanedPhaseFile) {
		t.Errorf("missing ORPHANED_PHASE_FILE warning: %v", res.Warnings)
	}
}

func TestValidateNameMismatchWarns(t *testing.T) {
	p := testPlan()
	p.PhaseFiles["phase-1"].PhaseName = "Renamed"

	res := Validate(p)
	if !res.Valid {
		t.Fatalf("name mismatch should warn, not fail: %v", res.Errors)
	}
	if !hasCode(res.Warnings, errors.CodePhaseNameMismatch) {
		t.Errorf("missing PHASE_NAME_MISMATCH warning: %v", res.Warnings)
	}
}

func TestValidateMissingPhaseDependency(t *testing.T) {
	p := testPlan()
	p.Orchestration.Phases[1].Dependencies = []string{"phase-0"}

	res := Validate(p)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if !hasCode(res.Errors, errors.CodeMissingPhaseDependency) {
		t.Errorf("missing MISSING_PHASE_DEPENDENCY error: %v", res.Errors)
	}
}

func TestValidateCircularPhaseDependency(t *testing.T) {
	p := testPlan()
	p.Orchestration.Phases[0].Dependencies = []string{"phase-2"}
	p.PhaseFiles["phase-1"].Dependencies = []string{"phase-2"}

	res := Validate(p)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	found := false
	for _, e := range res.Errors {
		if e.Code == errors.CodeCircularDependency && e.Path == "phases" {
			found = true
			if !strings.Contains(e.Message, "->") {
				t.Errorf("cycle message lacks a path: %q", e.Message)
			}
		}
	}
	if !found {
		t.Errorf("missing CIRCULAR_DEPENDENCY error for phases: %v", res.Errors)
	}
}

func TestValidateMissingTaskDependency(t *testing.T) {
	p := testPlan()
	p.PhaseFiles["phase-2"].Tasks[0].Dependencies = []string{"task-99"}

	res := Validate(p)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if !hasCode(res.Errors, errors.CodeMissingTaskDependency) {
		t.Errorf("missing MISSING_TASK_DEPENDENCY error: %v", res.Errors)
	}
}

func TestValidateCrossPhaseTaskDependency(t *testing.T) {
	// task-3 in phase-2 depends on task-2 in phase-1; that must resolve.
	res := Validate(testPlan())
	if hasCode(res.Errors, errors.CodeMissingTaskDependency) {
		t.Errorf("cross-phase dependency rejected: %v", res.Errors)
	}
}

func TestValidateCircularTaskDependency(t *testing.T) {
	p := testPlan()
	p.PhaseFiles["phase-1"].Tasks[0].Dependencies = []string{"task-3"}

	res := Validate(p)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if !hasCode(res.Errors, errors.CodeCircularDependency) {
		t.Errorf("missing CIRCULAR_DEPENDENCY error: %v", res.Errors)
	}
}

func TestValidateSelfDependency(t *testing.T) {
	p := testPlan()
	p.PhaseFiles["phase-1"].Tasks[0].Dependencies = []string{"task-1"}

	res := Validate(p)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if !hasCode(res.Errors, errors.CodeCircularDependency) {
		t.Errorf("self dependency not detected: %v", res.Errors)
	}
}

func TestValidateDuplicateTaskID(t *testing.T) {
	p := testPlan()
	p.PhaseFiles["phase-2"].Tasks = append(p.PhaseFiles["phase-2"].Tasks,
		plan.Task{TaskID: "task-1", Description: "dup", Status: plan.StatusPending, Dependencies: []string{}})

	res := Validate(p)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if !hasCode(res.Errors, errors.CodeDuplicateTaskID) {
		t.Errorf("missing DUPLICATE_TASK_ID error: %v", res.Errors)
	}
}

func TestFindCycleDeterministic(t *testing.T) {
	graph := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}
	first := findCycle(graph)
	if first == nil {
		t.Fatal("cycle not found")
	}
	for i := 0; i < 5; i++ {
		if got := findCycle(graph); strings.Join(got, ",") != strings.Join(first, ",") {
			t.Fatalf("nondeterministic cycle: %v vs %v", got, first)
		}
	}
	if first[0] != first[len(first)-1] {
		t.Errorf("cycle does not close on itself: %v", first)
	}
}
