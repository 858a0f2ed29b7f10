// Package ops implements the mutating primitives of the plan engine: add,
// remove, update, move, and reorder for phases and tasks, plus metadata and
// execution-config updates.
//
// Primitives mutate the in-memory plan aggregate only. Each one locates its
// target, runs the relevant policy check, and either rejects without touching
// the aggregate or applies the mutation and reports. Persistence, backups,
// and batch sequencing belong to the orchestrator.
package ops

import (
	"fmt"
	"time"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/policy"
)

// Result is the outcome of one primitive.
type Result struct {
	// Success is true when the mutation was applied.
	Success bool `json:"success"`
	// Code is the stable rejection code on failure.
	Code errors.Code `json:"code,omitempty"`
	// Err is the human-readable failure description.
	Err string `json:"error,omitempty"`
	// RequiresForce is true when re-submitting with force would succeed.
	RequiresForce bool `json:"requires_force,omitempty"`
	// Data carries operation-specific output, such as a derived phase id.
	Data any `json:"data,omitempty"`
	// Warnings are attached to successful but progress-destroying mutations.
	Warnings []string `json:"warnings,omitempty"`
}

func ok(data any, warnings ...string) *Result {
	return &Result{Success: true, Data: data, Warnings: warnings}
}

func fail(code errors.Code, format string, args ...any) *Result {
	return &Result{Code: code, Err: fmt.Sprintf(format, args...)}
}

func failDecision(d *policy.Decision) *Result {
	return &Result{Code: d.Code, Err: d.Reason, RequiresForce: d.RequiresForce}
}

// Apply decodes one operation and dispatches it to its primitive. The force
// flag is combined with any per-operation force field. On success the
// aggregate's execution state is re-synchronized, progress counters are
// recomputed, and the modification timestamp is advanced.
func Apply(p *plan.Plan, op plan.Operation, force bool, now time.Time) *Result {
	payload, err := op.Decode()
	if err != nil {
		var ve *errors.ValidationError
		if errors.As(err, &ve) {
			return fail(ve.Code, "%s", ve.Message)
		}
		return fail(errors.CodeInvalidOperation, "%v", err)
	}

	var res *Result
	switch pl := payload.(type) {
	case *plan.AddPhasePayload:
		res = AddPhase(p, pl)
	case *plan.DeletePhasePayload:
		res = RemovePhase(p, pl.PhaseID, pl.Force || force)
	case *plan.UpdatePhasePayload:
		res = UpdatePhaseMetadata(p, pl, pl.Force || force)
	case *plan.ReorderPhasesPayload:
		res = ReorderPhases(p, pl.Order)
	case *plan.AddTaskPayload:
		res = AddTask(p, pl)
	case *plan.DeleteTaskPayload:
		res = RemoveTask(p, pl.TaskID, pl.Force || force)
	case *plan.UpdateTaskPayload:
		res = UpdateTask(p, pl, pl.Force || force)
	case *plan.MoveTaskPayload:
		res = MoveTask(p, pl)
	case *plan.ReorderTasksPayload:
		res = ReorderTasks(p, pl.PhaseID, pl.Order)
	case *plan.UpdateMetadataPayload:
		res = UpdatePlanMetadata(p, pl)
	default:
		return fail(errors.CodeUnknownOperation, "no handler for %s", op)
	}

	if res.Success {
		plan.SyncExecutionState(p)
		p.RecomputeProgress()
		p.Touch(now)
	}
	return res
}

// ---------------------------------------------------------------------------
// Phase primitives
// ---------------------------------------------------------------------------

// AddPhase creates a phase and its file entry. When no id is supplied one is
// derived from the name; collisions with existing phase ids are rejected.
func AddPhase(p *plan.Plan, pl *plan.AddPhasePayload) *Result {
	if pl.Name == "" {
		return fail(errors.CodeInvalidOperation, "add phase: name is required")
	}

	id := pl.ID
	if id == "" {
		id = plan.Slugify(pl.Name)
	}
	if p.Orchestration.HasPhase(id) {
		return fail(errors.CodeIDCollision, "phase id %q already exists", id)
	}
	if _, exists := p.PhaseFiles[id]; exists {
		return fail(errors.CodeIDCollision, "phase file %q already exists", id)
	}

	deps := pl.Dependencies
	if deps == nil {
		deps = []string{}
	}
	tasks := make([]plan.Task, len(pl.Tasks))
	for i, t := range pl.Tasks {
		if t.TaskID == "" {
			t.TaskID = plan.Slugify(t.Description)
		}
		if t.Status == "" {
			t.Status = plan.StatusPending
		}
		if t.Dependencies == nil {
			t.Dependencies = []string{}
		}
		tasks[i] = t
	}

	ref := plan.PhaseRef{
		ID:           id,
		Name:         pl.Name,
		File:         fmt.Sprintf("%s/%s.json", plan.PhasesDirName, id),
		Type:         pl.Type,
		Dependencies: deps,
		Status:       plan.StatusPending,
	}
	insertPhaseRef(p.Orchestration, ref, pl.After)

	p.PhaseFiles[id] = &plan.PhaseFile{
		PhaseID:      id,
		PhaseName:    pl.Name,
		Description:  pl.Description,
		Dependencies: deps,
		Status:       plan.StatusPending,
		Tasks:        tasks,
	}

	return ok(map[string]string{"phase_id": id})
}

func insertPhaseRef(orch *plan.Orchestration, ref plan.PhaseRef, after string) {
	if after != "" {
		for i, existing := range orch.Phases {
			if existing.ID == after {
				orch.Phases = append(orch.Phases[:i+1],
					append([]plan.PhaseRef{ref}, orch.Phases[i+1:]...)...)
				return
			}
		}
	}
	orch.Phases = append(orch.Phases, ref)
}

// RemovePhase deletes a phase reference and its file after the deletion
// policy approves it.
func RemovePhase(p *plan.Plan, phaseID string, force bool) *Result {
	d := policy.CanDeletePhase(p, phaseID, force)
	if !d.CanProceed {
		return failDecision(d)
	}

	for i, ref := range p.Orchestration.Phases {
		if ref.ID == phaseID {
			p.Orchestration.Phases = append(p.Orchestration.Phases[:i], p.Orchestration.Phases[i+1:]...)
			break
		}
	}
	delete(p.PhaseFiles, phaseID)

	return ok(map[string]string{"phase_id": phaseID}, d.Warnings...)
}

// UpdatePhaseMetadata applies field updates to a phase, keeping the
// orchestration entry and the phase file in agreement. Status changes pass
// through the transition state machine unless forced.
func UpdatePhaseMetadata(p *plan.Plan, pl *plan.UpdatePhasePayload, force bool) *Result {
	ref := p.Orchestration.FindPhase(pl.PhaseID)
	if ref == nil {
		return fail(errors.CodePhaseNotFound, "phase %q does not exist", pl.PhaseID)
	}
	pf := p.PhaseFiles[pl.PhaseID]

	if pl.Status != nil && *pl.Status != ref.Status && !force {
		if d := policy.ValidateStatusTransition(ref.Status, *pl.Status, "phase"); !d.CanProceed {
			return failDecision(d)
		}
	}

	if pl.Name != nil {
		ref.Name = *pl.Name
		if pf != nil {
			pf.PhaseName = *pl.Name
		}
	}
	if pl.Description != nil && pf != nil {
		pf.Description = *pl.Description
	}
	if pl.Dependencies != nil {
		deps := *pl.Dependencies
		if deps == nil {
			deps = []string{}
		}
		ref.Dependencies = deps
		if pf != nil {
			pf.Dependencies = deps
		}
	}
	if pl.Status != nil {
		ref.Status = *pl.Status
		if pf != nil {
			pf.Status = *pl.Status
		}
		if p.State != nil {
			p.State.PhaseStatuses[pl.PhaseID] = *pl.Status
		}
	}

	return ok(map[string]string{"phase_id": pl.PhaseID})
}

// ReorderPhases replaces the phase ordering. The supplied list must be a
// permutation of the current ids: anything missing or extra rejects the
// whole reorder.
func ReorderPhases(p *plan.Plan, order []string) *Result {
	current := p.Orchestration.PhaseIDs()
	if res := checkPermutation(current, order, "phase"); res != nil {
		return res
	}

	byID := make(map[string]plan.PhaseRef, len(p.Orchestration.Phases))
	for _, ref := range p.Orchestration.Phases {
		byID[ref.ID] = ref
	}
	reordered := make([]plan.PhaseRef, len(order))
	for i, id := range order {
		reordered[i] = byID[id]
	}
	p.Orchestration.Phases = reordered

	return ok(map[string]any{"order": order})
}

// checkPermutation rejects a reorder list that is not exactly the current id
// set. Returns nil when the list is a valid permutation.
func checkPermutation(current, proposed []string, kind string) *Result {
	if len(proposed) != len(current) {
		return fail(errors.CodeInvalidReorder,
			"reorder must list all %d %s ids, got %d", len(current), kind, len(proposed))
	}
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	seen := make(map[string]bool, len(proposed))
	for _, id := range proposed {
		if !have[id] {
			return fail(errors.CodeInvalidReorder, "unknown %s id %q in reorder", kind, id)
		}
		if seen[id] {
			return fail(errors.CodeInvalidReorder, "duplicate %s id %q in reorder", kind, id)
		}
		seen[id] = true
	}
	return nil
}

// ---------------------------------------------------------------------------
// Task primitives
// ---------------------------------------------------------------------------

// AddTask appends or inserts a task into a phase. Task ids must be unique
// across the whole plan, not just the target phase.
func AddTask(p *plan.Plan, pl *plan.AddTaskPayload) *Result {
	pf, exists := p.PhaseFiles[pl.PhaseID]
	if !exists || p.Orchestration.FindPhase(pl.PhaseID) == nil {
		return fail(errors.CodePhaseNotFound, "phase %q does not exist", pl.PhaseID)
	}

	task := pl.Task
	if task.TaskID == "" {
		if task.Description == "" {
			return fail(errors.CodeInvalidOperation, "add task: description is required")
		}
		task.TaskID = plan.Slugify(task.Description)
	}
	if p.TaskIDSet()[task.TaskID] {
		return fail(errors.CodeIDCollision, "task id %q already exists", task.TaskID)
	}
	if task.Status == "" {
		task.Status = plan.StatusPending
	}
	if task.Dependencies == nil {
		task.Dependencies = []string{}
	}

	if pl.After != "" {
		inserted := false
		for i, existing := range pf.Tasks {
			if existing.TaskID == pl.After {
				pf.Tasks = append(pf.Tasks[:i+1], append([]plan.Task{task}, pf.Tasks[i+1:]...)...)
				inserted = true
				break
			}
		}
		if !inserted {
			pf.Tasks = append(pf.Tasks, task)
		}
	} else {
		pf.Tasks = append(pf.Tasks, task)
	}

	return ok(map[string]string{"task_id": task.TaskID, "phase_id": pl.PhaseID})
}

// RemoveTask deletes a task from whichever phase owns it after the deletion
// policy approves it.
func RemoveTask(p *plan.Plan, taskID string, force bool) *Result {
	d := policy.CanDeleteTask(p, taskID, force)
	if !d.CanProceed {
		return failDecision(d)
	}

	_, pf := p.FindTask(taskID)
	pf.RemoveTask(taskID)

	return ok(map[string]string{"task_id": taskID}, d.Warnings...)
}

// UpdateTask applies field updates to a task. Status changes pass through
// the transition state machine unless forced.
func UpdateTask(p *plan.Plan, pl *plan.UpdateTaskPayload, force bool) *Result {
	task, _ := p.FindTask(pl.TaskID)
	if task == nil {
		return fail(errors.CodeTaskNotFound, "task %q does not exist", pl.TaskID)
	}

	if pl.Status != nil && *pl.Status != task.Status && !force {
		if d := policy.ValidateStatusTransition(task.Status, *pl.Status, "task"); !d.CanProceed {
			return failDecision(d)
		}
	}

	if pl.Description != nil {
		task.Description = *pl.Description
	}
	if pl.Details != nil {
		task.Details = *pl.Details
	}
	if pl.Dependencies != nil {
		deps := *pl.Dependencies
		if deps == nil {
			deps = []string{}
		}
		task.Dependencies = deps
	}
	if pl.EstimatedTokens != nil {
		task.EstimatedTokens = *pl.EstimatedTokens
	}
	if pl.Validation != nil {
		task.Validation = *pl.Validation
	}
	if pl.Result != nil {
		task.Result = *pl.Result
	}
	if pl.Status != nil {
		task.Status = *pl.Status
		if p.State != nil {
			p.State.TaskStatuses[pl.TaskID] = *pl.Status
		}
	}

	return ok(map[string]string{"task_id": pl.TaskID})
}

// MoveTask relocates a task between phases as one logical step: the task is
// captured, removed from its source, and inserted into the target, so no
// intermediate aggregate state has it in neither or both phases.
func MoveTask(p *plan.Plan, pl *plan.MoveTaskPayload) *Result {
	task, source := p.FindTask(pl.TaskID)
	if task == nil {
		return fail(errors.CodeTaskNotFound, "task %q does not exist", pl.TaskID)
	}
	target, exists := p.PhaseFiles[pl.ToPhase]
	if !exists || p.Orchestration.FindPhase(pl.ToPhase) == nil {
		return fail(errors.CodePhaseNotFound, "target phase %q does not exist", pl.ToPhase)
	}
	if source.PhaseID == pl.ToPhase {
		return fail(errors.CodeInvalidOperation, "task %q is already in phase %q", pl.TaskID, pl.ToPhase)
	}

	moved := *task
	source.RemoveTask(pl.TaskID)

	pos := pl.Position
	if pos < 0 || pos > len(target.Tasks) {
		pos = len(target.Tasks)
	}
	target.Tasks = append(target.Tasks[:pos], append([]plan.Task{moved}, target.Tasks[pos:]...)...)

	return ok(map[string]string{
		"task_id": pl.TaskID, "from_phase": source.PhaseID, "to_phase": pl.ToPhase,
	})
}

// ReorderTasks replaces the task ordering within one phase, with the same
// permutation requirement as ReorderPhases.
func ReorderTasks(p *plan.Plan, phaseID string, order []string) *Result {
	pf, exists := p.PhaseFiles[phaseID]
	if !exists {
		return fail(errors.CodePhaseNotFound, "phase %q does not exist", phaseID)
	}
	if res := checkPermutation(pf.TaskIDs(), order, "task"); res != nil {
		return res
	}

	byID := make(map[string]plan.Task, len(pf.Tasks))
	for _, t := range pf.Tasks {
		byID[t.TaskID] = t
	}
	reordered := make([]plan.Task, len(order))
	for i, id := range order {
		reordered[i] = byID[id]
	}
	pf.Tasks = reordered

	return ok(map[string]any{"phase_id": phaseID, "order": order})
}

// ---------------------------------------------------------------------------
// Metadata primitives
// ---------------------------------------------------------------------------

var validStrategies = map[string]bool{"sequential": true, "parallel": true}

// UpdatePlanMetadata applies plan-level metadata and execution-config
// changes. The two share a payload because callers routinely adjust them
// together and neither touches phase or task structure.
func UpdatePlanMetadata(p *plan.Plan, pl *plan.UpdateMetadataPayload) *Result {
	if pl.Strategy != nil && !validStrategies[*pl.Strategy] {
		return fail(errors.CodeInvalidOperation,
			"unknown execution strategy %q (want sequential or parallel)", *pl.Strategy)
	}
	if pl.Status != nil && *pl.Status != p.Orchestration.Metadata.Status {
		if d := policy.ValidateStatusTransition(p.Orchestration.Metadata.Status, *pl.Status, "plan"); !d.CanProceed {
			return failDecision(d)
		}
	}

	md := &p.Orchestration.Metadata
	if pl.Name != nil {
		md.Name = *pl.Name
	}
	if pl.Description != nil {
		md.Description = *pl.Description
	}
	if pl.WorkType != nil {
		md.WorkType = *pl.WorkType
	}
	if pl.Status != nil {
		md.Status = *pl.Status
	}

	ec := &p.Orchestration.Execution
	if pl.Strategy != nil {
		ec.Strategy = *pl.Strategy
	}
	if pl.MaxConcurrency != nil {
		ec.MaxConcurrency = *pl.MaxConcurrency
	}
	if pl.TokenBudget != nil {
		ec.TokenBudget = *pl.TokenBudget
	}
	if pl.MaxRetries != nil {
		ec.MaxRetries = *pl.MaxRetries
	}

	return ok(nil)
}
