package schema

import (
	"strings"
	"testing"
	"time"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/plan"
)

func TestValidateTypeMismatch(t *testing.T) {
	s := &Schema{Type: TypeString}
	res := Validate(float64(42), s)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if res.Errors[0].Code != errors.CodeTypeMismatch {
		t.Errorf("code = %s, want %s", res.Errors[0].Code, errors.CodeTypeMismatch)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	s := &Schema{
		Type:     TypeObject,
		Required: []string{"name", "status"},
		Properties: map[string]*Schema{
			"name":   {Type: TypeString},
			"status": {Type: TypeString},
		},
	}

	res := Validate(map[string]any{"name": "build"}, s)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(res.Errors), res.Errors)
	}
	if res.Errors[0].Code != errors.CodeRequiredFieldMissing {
		t.Errorf("code = %s, want %s", res.Errors[0].Code, errors.CodeRequiredFieldMissing)
	}
	if res.Errors[0].Path != "status" {
		t.Errorf("path = %q, want %q", res.Errors[0].Path, "status")
	}
}

func TestValidateEnum(t *testing.T) {
	s := &Schema{Type: TypeString, Enum: []string{"pending", "completed"}}

	if res := Validate("pending", s); !res.Valid {
		t.Errorf("valid enum value rejected: %v", res.Errors)
	}
	res := Validate("done", s)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if res.Errors[0].Code != errors.CodeInvalidEnumValue {
		t.Errorf("code = %s, want %s", res.Errors[0].Code, errors.CodeInvalidEnumValue)
	}
}

func TestValidatePattern(t *testing.T) {
	s := &Schema{Type: TypeString, Pattern: idPattern}

	for _, id := range []string{"phase-1", "a", "task-v2-1"} {
		if res := Validate(id, s); !res.Valid {
			t.Errorf("Validate(%q) rejected: %v", id, res.Errors)
		}
	}
	for _, id := range []string{"-leading", "Phase-1", "has space", ""} {
		if res := Validate(id, s); res.Valid {
			t.Errorf("Validate(%q) accepted, want pattern mismatch", id)
		}
	}
}

func TestValidateStringLength(t *testing.T) {
	s := &Schema{Type: TypeString, MinLength: intPtr(2), MaxLength: intPtr(4)}

	if res := Validate("ab", s); !res.Valid {
		t.Errorf("minimum-length value rejected: %v", res.Errors)
	}
	if res := Validate("a", s); res.Valid || res.Errors[0].Code != errors.CodeStringTooShort {
		t.Errorf("short value: valid=%v errors=%v", res.Valid, res.Errors)
	}
	if res := Validate("abcde", s); res.Valid || res.Errors[0].Code != errors.CodeStringTooLong {
		t.Errorf("long value: valid=%v errors=%v", res.Valid, res.Errors)
	}
}

func TestValidateNumberConstraints(t *testing.T) {
	s := &Schema{Type: TypeInteger, Minimum: floatPtr(0), Maximum: floatPtr(10)}

	if res := Validate(float64(5), s); !res.Valid {
		t.Errorf("in-range integer rejected: %v", res.Errors)
	}
	if res := Validate(float64(5.5), s); res.Valid {
		t.Error("fractional value accepted for integer schema")
	}
	if res := Validate(float64(-1), s); res.Valid || res.Errors[0].Code != errors.CodeValueOutOfRange {
		t.Errorf("below-minimum value: valid=%v errors=%v", res.Valid, res.Errors)
	}
	if res := Validate(float64(11), s); res.Valid {
		t.Error("above-maximum value accepted")
	}
}

func TestValidateNestedPaths(t *testing.T) {
	s := &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"phases": {
				Type: TypeArray,
				Items: &Schema{
					Type:     TypeObject,
					Required: []string{"id"},
				},
			},
		},
	}

	doc := map[string]any{
		"phases": []any{
			map[string]any{"id": "phase-1"},
			map[string]any{},
		},
	}
	res := Validate(doc, s)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if res.Errors[0].Path != "phases[1].id" {
		t.Errorf("path = %q, want %q", res.Errors[0].Path, "phases[1].id")
	}
}

func TestValidateNilSchema(t *testing.T) {
	if res := Validate("anything", nil); !res.Valid {
		t.Error("nil schema should accept any value")
	}
}

// ---------------------------------------------------------------------------
// Built-in document schemas
// ---------------------------------------------------------------------------

func testOrchestration() *plan.Orchestration {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &plan.Orchestration{
		Metadata: plan.Metadata{
			PlanID:     "plan-1",
			Name:       "Test Plan",
			Status:     plan.StatusPending,
			Version:    "1.0",
			CreatedAt:  now,
			ModifiedAt: now,
		},
		Phases: []plan.PhaseRef{
			{ID: "phase-1", Name: "Setup", File: "phases/phase-1.json", Dependencies: []string{}, Status: plan.StatusPending},
		},
		Execution: plan.ExecutionConfig{Strategy: "sequential"},
	}
}

func TestOrchestrationSchemaValid(t *testing.T) {
	res := ValidateDocument(testOrchestration(), OrchestrationSchema())
	if !res.Valid {
		t.Fatalf("valid orchestration rejected: %v", res.Errors)
	}
}

func TestOrchestrationSchemaRejectsBadStatus(t *testing.T) {
	orch := testOrchestration()
	orch.Phases[0].Status = "done"

	res := ValidateDocument(orch, OrchestrationSchema())
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	found := false
	for _, e := range res.Errors {
		if e.Code == errors.CodeInvalidEnumValue && strings.HasPrefix(e.Path, "phases[0]") {
			found = true
		}
	}
	if !found {
		t.Errorf("no enum error for phases[0].status: %v", res.Errors)
	}
}

func TestOrchestrationSchemaRejectsBadPlanID(t *testing.T) {
	orch := testOrchestration()
	orch.Metadata.PlanID = "Plan With Spaces"

	res := ValidateDocument(orch, OrchestrationSchema())
	if res.Valid {
		t.Fatal("expected validation failure")
	}
}

func TestPhaseFileSchemaValid(t *testing.T) {
	pf := &plan.PhaseFile{
		PhaseID:      "phase-1",
		PhaseName:    "Setup",
		Dependencies: []string{},
		Status:       plan.StatusPending,
		Tasks: []plan.Task{
			{TaskID: "task-1", Description: "Create scaffolding", Status: plan.StatusPending, Dependencies: []string{}},
		},
	}
	if res := ValidateDocument(pf, PhaseFileSchema()); !res.Valid {
		t.Fatalf("valid phase file rejected: %v", res.Errors)
	}
}

func TestPhaseFileSchemaRejectsEmptyTaskDescription(t *testing.T) {
	pf := &plan.PhaseFile{
		PhaseID:      "phase-1",
		PhaseName:    "Setup",
		Dependencies: []string{},
		Status:       plan.StatusPending,
		Tasks: []plan.Task{
			{TaskID: "task-1", Status: plan.StatusPending, Dependencies: []string{}},
		},
	}
	res := ValidateDocument(pf, PhaseFileSchema())
	if res.Valid {
		t.Fatal("expected validation failure")
	}
}

func TestExecutionStateSchemaValid(t *testing.T) {
	state := &plan.ExecutionState{
		CurrentPhase:  "phase-1",
		PhaseStatuses: map[string]plan.Status{"phase-1": plan.StatusInProgress},
		TaskStatuses:  map[string]plan.Status{"task-1": plan.StatusCompleted},
	}
	if res := ValidateDocument(state, ExecutionStateSchema()); !res.Valid {
		t.Fatalf("valid execution state rejected: %v", res.Errors)
	}
}

func TestValidatePlanDocuments(t *testing.T) {
	orch := testOrchestration()
	p := &plan.Plan{
		Orchestration: orch,
		PhaseFiles: map[string]*plan.PhaseFile{
			"phase-1": {
				PhaseID:      "phase-1",
				PhaseName:    "Setup",
				Dependencies: []string{},
				Status:       plan.StatusPending,
				Tasks:        []plan.Task{},
			},
		},
		State: plan.NewExecutionState(),
	}

	if res := ValidatePlanDocuments(p); !res.Valid {
		t.Fatalf("valid plan rejected: %v", res.Errors)
	}

	p.PhaseFiles["phase-1"].Status = "wrapped-up"
	res := ValidatePlanDocuments(p)
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if !strings.HasPrefix(res.Errors[0].Path, "phases.phase-1") {
		t.Errorf("path = %q, want phases.phase-1 prefix", res.Errors[0].Path)
	}
}
