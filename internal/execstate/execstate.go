// Package execstate derives read-only projections from a plan's
// execution-state document: which entities are pending, in flight, completed,
// or failed, and whether execution has started at all.
//
// The analyzer never writes. Callers that need the projection fresh re-run
// it rather than caching, since the state document may be rewritten by a
// concurrent executor at any time.
package execstate

import (
	"time"

	"github.com/planforge/planforge/internal/plan"
)

// Analysis is the derived view of one plan's execution state. Entity lists
// follow plan order, so repeated analyses of the same plan are identical.
type Analysis struct {
	HasStarted   bool   `json:"hasStarted"`
	CurrentPhase string `json:"currentPhase,omitempty"`

	PhaseStatuses map[string]plan.Status `json:"phaseStatuses"`
	TaskStatuses  map[string]plan.Status `json:"taskStatuses"`

	CompletedPhases []string `json:"completedPhases"`
	CompletedTasks  []string `json:"completedTasks"`
	InProgressTasks []string `json:"inProgressTasks"`
	FailedTasks     []string `json:"failedTasks"`
	PendingTasks    []string `json:"pendingTasks"`
}

// PhaseStatus resolves one phase's effective status: the execution-state
// record when present, the orchestration listing otherwise.
func PhaseStatus(p *plan.Plan, phaseID string) plan.Status {
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

// TaskStatus resolves one task's effective status the same way.
func TaskStatus(p *plan.Plan, taskID string) plan.Status {
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

// Analyze projects the plan's execution state into an Analysis.
func Analyze(p *plan.Plan) *Analysis {
	a := &Analysis{
		HasStarted:      p.State.HasStarted(),
		PhaseStatuses:   make(map[string]plan.Status, len(p.Orchestration.Phases)),
		TaskStatuses:    make(map[string]plan.Status),
		CompletedPhases: []string{},
		CompletedTasks:  []string{},
		InProgressTasks: []string{},
		FailedTasks:     []string{},
		PendingTasks:    []string{},
	}
	if p.State != nil {
		a.CurrentPhase = p.State.CurrentPhase
	}

	for _, ref := range p.Orchestration.Phases {
		status := PhaseStatus(p, ref.ID)
		a.PhaseStatuses[ref.ID] = status
		if status == plan.StatusCompleted {
			a.CompletedPhases = append(a.CompletedPhases, ref.ID)
		}

		pf, ok := p.PhaseFiles[ref.ID]
		if !ok {
			continue
		}
		for _, task := range pf.Tasks {
			status := TaskStatus(p, task.TaskID)
			a.TaskStatuses[task.TaskID] = status
			switch status {
			case plan.StatusCompleted:
				a.CompletedTasks = append(a.CompletedTasks, task.TaskID)
			case plan.StatusInProgress:
				a.InProgressTasks = append(a.InProgressTasks, task.TaskID)
			case plan.StatusFailed:
				a.FailedTasks = append(a.FailedTasks, task.TaskID)
			default:
				a.PendingTasks = append(a.PendingTasks, task.TaskID)
			}
		}
	}
	return a
}

// Summary is the archivable snapshot written next to the execution state
// when a rollback-replan resets a plan. Field names match the execution
// state's wire format.
type Summary struct {
	PlanID       string    `json:"planId"`
	GeneratedAt  time.Time `json:"generatedAt"`
	CurrentPhase string    `json:"currentPhase,omitempty"`

	CompletedPhases []string `json:"completedPhases"`
	CompletedTasks  []string `json:"completedTasks"`
	FailedTasks     []string `json:"failedTasks"`

	TotalPhases int `json:"totalPhases"`
	TotalTasks  int `json:"totalTasks"`

	Errors []plan.ExecutionError `json:"errors,omitempty"`
}

// Summarize builds the archival summary for the plan's current state.
func Summarize(p *plan.Plan, now time.Time) *Summary {
	a := Analyze(p)
	s := &Summary{
		PlanID:          p.Orchestration.Metadata.PlanID,
		GeneratedAt:     now.UTC(),
		CurrentPhase:    a.CurrentPhase,
		CompletedPhases: a.CompletedPhases,
		CompletedTasks:  a.CompletedTasks,
		FailedTasks:     a.FailedTasks,
		TotalPhases:     len(p.Orchestration.Phases),
		TotalTasks:      len(a.TaskStatuses),
	}
	if p.State != nil {
		s.Errors = p.State.Errors
	}
	return s
}
