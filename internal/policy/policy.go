// Package policy implements update-safety decisions: whether a phase or task
// may be deleted or mutated given its execution status and a force flag,
// status-transition legality, and batch partitioning during live execution.
//
// Policy checks are the third validation layer. They assume schema-valid,
// integrity-consistent documents and decide only against execution state.
// A policy rejection never writes anything.
package policy

import (
	"fmt"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/plan"
)

// Decision is the outcome of one policy check.
type Decision struct {
	// CanProceed is true when the operation is permitted.
	CanProceed bool `json:"can_proceed"`
	// Code is set on rejection.
	Code errors.Code `json:"code,omitempty"`
	// Reason is the human-readable rejection reason.
	Reason string `json:"reason,omitempty"`
	// RequiresForce is true when re-submitting with force would succeed.
	RequiresForce bool `json:"requires_force,omitempty"`
	// Warnings are attached to permitted operations that destroy progress.
	Warnings []string `json:"warnings,omitempty"`
}

func allow(warnings ...string) *Decision {
	return &Decision{CanProceed: true, Warnings: warnings}
}

func deny(code errors.Code, reason string) *Decision {
	return &Decision{Code: code, Reason: reason}
}

// Err converts a rejecting decision into a PolicyError for the given entity.
// Calling Err on a permitting decision is a programming error.
func (d *Decision) Err(entityID string) *errors.PolicyError {
	pe := errors.NewPolicyError(d.Code, entityID, d.Reason)
	if d.RequiresForce {
		pe = pe.WithForce()
	}
	return pe
}

// ---------------------------------------------------------------------------
// Deletion
// ---------------------------------------------------------------------------

// CanDeletePhase decides whether a phase may be removed. The checks run in a
// fixed order: existence, then in-progress (never overridable, even with
// force), then completed (overridable with force), then dependent phases
// (never overridable). A forced deletion of a completed phase carries a
// progress-loss warning.
func CanDeletePhase(p *plan.Plan, phaseID string, force bool) *Decision {
	ref := p.Orchestration.FindPhase(phaseID)
	if ref == nil {
		return deny(errors.CodePhaseNotFound, fmt.Sprintf("phase %q does not exist", phaseID))
	}

	status := effectivePhaseStatus(p, phaseID)
	if status == plan.StatusInProgress {
		return deny(errors.CodePhaseInProgress,
			fmt.Sprintf("phase %q is in progress and cannot be deleted", phaseID))
	}
	if status == plan.StatusCompleted && !force {
		d := deny(errors.CodePhaseCompleted,
			fmt.Sprintf("phase %q is completed; deleting it requires force", phaseID))
		d.RequiresForce = true
		return d
	}

	if deps := p.Orchestration.DependentsOf(phaseID); len(deps) > 0 {
		return deny(errors.CodeHasDependentPhases,
			fmt.Sprintf("phase %q is a dependency of %v; remove or rewire those phases first", phaseID, deps))
	}

	if status == plan.StatusCompleted {
		return allow(fmt.Sprintf("phase %q is completed: all progress will be lost", phaseID))
	}
	return allow()
}

// CanDeleteTask mirrors CanDeletePhase at task granularity, additionally
// refusing while other tasks depend on the target.
func CanDeleteTask(p *plan.Plan, taskID string, force bool) *Decision {
	task, _ := p.FindTask(taskID)
	if task == nil {
		return deny(errors.CodeTaskNotFound, fmt.Sprintf("task %q does not exist", taskID))
	}

	status := effectiveTaskStatus(p, taskID)
	if status == plan.StatusInProgress {
		return deny(errors.CodeTaskInProgress,
			fmt.Sprintf("task %q is in progress and cannot be deleted", taskID))
	}
	if status == plan.StatusCompleted && !force {
		d := deny(errors.CodeTaskCompleted,
			fmt.Sprintf("task %q is completed; deleting it requires force", taskID))
		d.RequiresForce = true
		return d
	}

	if deps := dependentTasks(p, taskID); len(deps) > 0 {
		return deny(errors.CodeHasDependentTasks,
			fmt.Sprintf("task %q is a dependency of %v; remove or rewire those tasks first", taskID, deps))
	}

	if status == plan.StatusCompleted {
		return allow(fmt.Sprintf("task %q is completed: all progress will be lost", taskID))
	}
	return allow()
}

// dependentTasks returns ids of tasks anywhere in the plan that list taskID
// as a dependency, in phase order.
func dependentTasks(p *plan.Plan, taskID string) []string {
	var out []string
	for _, ref := range p.Orchestration.Phases {
		pf, ok := p.PhaseFiles[ref.ID]
		if !ok {
			continue
		}
		for _, t := range pf.Tasks {
			for _, dep := range t.Dependencies {
				if dep == taskID {
					out = append(out, t.TaskID)
					break
				}
			}
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Status transitions
// ---------------------------------------------------------------------------

// statusEdges is the legal transition set shared by phases and tasks.
// Completion is terminal: no ordinary update leaves completed. The only way
// back is the rollback-replan reset, which bypasses this check.
var statusEdges = map[plan.Status][]plan.Status{
	plan.StatusPending:    {plan.StatusInProgress, plan.StatusCompleted, plan.StatusBlocked},
	plan.StatusInProgress: {plan.StatusCompleted, plan.StatusFailed},
	plan.StatusBlocked:    {plan.StatusPending, plan.StatusInProgress},
	plan.StatusFailed:     {plan.StatusInProgress},
	plan.StatusCompleted:  {},
}

// ValidateStatusTransition checks one status edge. Setting a status to its
// current value is a permitted no-op.
func ValidateStatusTransition(current, next plan.Status, entity string) *Decision {
	if current == next {
		return allow()
	}
	for _, allowed := range statusEdges[current] {
		if next == allowed {
			return allow()
		}
	}
	return deny(errors.CodeInvalidStatusTransition,
		fmt.Sprintf("%s status cannot change from %s to %s", entity, current, next))
}

// ---------------------------------------------------------------------------
// Live-execution partitioning
// ---------------------------------------------------------------------------

// BlockedOperation pairs a rejected operation with the decision that
// rejected it.
type BlockedOperation struct {
	Operation plan.Operation `json:"operation"`
	Code      errors.Code    `json:"code"`
	Reason    string         `json:"reason"`
}

// Partition is the result of screening a batch against live execution.
type Partition struct {
	Allowed  []plan.Operation   `json:"allowed"`
	Blocked  []BlockedOperation `json:"blocked"`
	Warnings []string           `json:"warnings,omitempty"`
}

// ValidateUpdateDuringExecution screens a batch for application while the
// plan is executing. Additions, metadata updates, and reorders pass through;
// deleting the current phase or any in-progress entity is blocked
// unconditionally; touching completed entities requires force and carries a
// warning when forced.
func ValidateUpdateDuringExecution(p *plan.Plan, batch []plan.Operation, force bool) *Partition {
	part := &Partition{}

	for _, op := range batch {
		d := screenOperation(p, op, force)
		if d.CanProceed {
			part.Allowed = append(part.Allowed, op)
			part.Warnings = append(part.Warnings, d.Warnings...)
		} else {
			part.Blocked = append(part.Blocked, BlockedOperation{
				Operation: op, Code: d.Code, Reason: d.Reason,
			})
		}
	}
	return part
}

func screenOperation(p *plan.Plan, op plan.Operation, force bool) *Decision {
	payload, err := op.Decode()
	if err != nil {
		var ve *errors.ValidationError
		if errors.As(err, &ve) {
			return deny(ve.Code, ve.Message)
		}
		return deny(errors.CodeInvalidOperation, err.Error())
	}

	switch pl := payload.(type) {
	case *plan.DeletePhasePayload:
		if p.State != nil && p.State.CurrentPhase == pl.PhaseID {
			return deny(errors.CodePhaseInProgress,
				fmt.Sprintf("phase %q is the current execution phase", pl.PhaseID))
		}
		return screenEntity(effectivePhaseStatus(p, pl.PhaseID), "phase", pl.PhaseID, pl.Force || force)
	case *plan.UpdatePhasePayload:
		if p.State != nil && p.State.CurrentPhase == pl.PhaseID {
			return deny(errors.CodePhaseInProgress,
				fmt.Sprintf("phase %q is the current execution phase", pl.PhaseID))
		}
		return screenEntity(effectivePhaseStatus(p, pl.PhaseID), "phase", pl.PhaseID, pl.Force || force)
	case *plan.DeleteTaskPayload:
		return screenEntity(effectiveTaskStatus(p, pl.TaskID), "task", pl.TaskID, pl.Force || force)
	case *plan.UpdateTaskPayload:
		return screenEntity(effectiveTaskStatus(p, pl.TaskID), "task", pl.TaskID, pl.Force || force)
	case *plan.MoveTaskPayload:
		return screenEntity(effectiveTaskStatus(p, pl.TaskID), "task", pl.TaskID, force)
	default:
		// Additions, metadata updates, and reorders never destroy recorded
		// progress.
		return allow()
	}
}

// screenEntity applies the shared in-progress/completed gate for one entity.
func screenEntity(status plan.Status, kind, id string, force bool) *Decision {
	switch status {
	case plan.StatusInProgress:
		code := errors.CodeTaskInProgress
		if kind == "phase" {
			code = errors.CodePhaseInProgress
		}
		return deny(code, fmt.Sprintf("%s %q is in progress", kind, id))
	case plan.StatusCompleted:
		if !force {
			code := errors.CodeTaskCompleted
			if kind == "phase" {
				code = errors.CodePhaseCompleted
			}
			d := deny(code, fmt.Sprintf("%s %q is completed; modifying it requires force", kind, id))
			d.RequiresForce = true
			return d
		}
		return allow(fmt.Sprintf("%s %q is completed: recorded progress may be invalidated", kind, id))
	default:
		return allow()
	}
}

// ---------------------------------------------------------------------------
// Pre-flight batch screening
// ---------------------------------------------------------------------------

// ValidateBatch runs the update-safety checks over a whole batch before
// anything touches disk: deletion protection for existing targets and
// status-transition legality. Operations whose target does not exist yet are
// skipped here; they either refer to an entity the same batch adds, or fail
// with a not-found at apply time. Undecodable operations are likewise the
// decode pass's problem, not this one's.
func ValidateBatch(p *plan.Plan, batch []plan.Operation, force bool) ([]*errors.ValidationError, []string) {
	var violations []*errors.ValidationError
	var warnings []string

	record := func(i int, d *Decision) {
		if d.CanProceed {
			warnings = append(warnings, d.Warnings...)
			return
		}
		violations = append(violations, errors.NewValidationError(
			d.Code, fmt.Sprintf("operations[%d]", i), d.Reason))
	}

	for i, op := range batch {
		payload, err := op.Decode()
		if err != nil {
			continue
		}

		switch pl := payload.(type) {
		case *plan.DeletePhasePayload:
			if p.Orchestration.HasPhase(pl.PhaseID) {
				record(i, CanDeletePhase(p, pl.PhaseID, pl.Force || force))
			}
		case *plan.DeleteTaskPayload:
			if task, _ := p.FindTask(pl.TaskID); task != nil {
				record(i, CanDeleteTask(p, pl.TaskID, pl.Force || force))
			}
		case *plan.UpdatePhasePayload:
			if pl.Status != nil && !(pl.Force || force) && p.Orchestration.HasPhase(pl.PhaseID) {
				record(i, ValidateStatusTransition(effectivePhaseStatus(p, pl.PhaseID), *pl.Status, "phase"))
			}
		case *plan.UpdateTaskPayload:
			if pl.Status == nil || pl.Force || force {
				continue
			}
			if task, _ := p.FindTask(pl.TaskID); task != nil {
				record(i, ValidateStatusTransition(effectiveTaskStatus(p, pl.TaskID), *pl.Status, "task"))
			}
		case *plan.UpdateMetadataPayload:
			if pl.Status != nil {
				record(i, ValidateStatusTransition(p.Orchestration.Metadata.Status, *pl.Status, "plan"))
			}
		}
	}

	return violations, warnings
}

// ---------------------------------------------------------------------------
// Status resolution
// ---------------------------------------------------------------------------

// effectivePhaseStatus prefers the execution-state record over the
// orchestration listing: the state document is the source of truth for
// mid-flight progress.
func effectivePhaseStatus(p *plan.Plan, phaseID string) plan.Status {
	if p.State != nil {
		if s, ok := p.State.PhaseStatuses[phaseID]; ok {
			return s
		}
	}
	if ref := p.Orchestration.FindPhase(phaseID); ref != nil {
		return ref.Status
	}
	return plan.StatusPending
}

func effectiveTaskStatus(p *plan.Plan, taskID string) plan.Status {
	if p.State != nil {
		if s, ok := p.State.TaskStatuses[taskID]; ok {
			return s
		}
	}
	if task, _ := p.FindTask(taskID); task != nil {
		return task.Status
	}
	return plan.StatusPending
}
