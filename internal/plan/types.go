// Package plan defines the on-disk plan aggregate and its persistence layer.
//
// A plan is a directory holding three kinds of JSON documents:
//   - orchestration.json: metadata, the ordered phase reference list (the
//     authoritative dependency graph), execution configuration, derived
//     progress counters, and the append-only execution history.
//   - phases/<phase-id>.json: one file per phase, owning that phase's tasks.
//   - execution-state.json: the single source of truth for which phases and
//     tasks have started, completed, or failed.
//
// The package also provides the atomic file utilities, directory-grain
// backups, advisory locking, and plan discovery that the operation layer and
// orchestrator build on. All writes go through write-to-temp-then-rename so a
// crash mid-write cannot leave a half-written document.
package plan

import (
	"encoding/json"
	"fmt"
	"time"
)

// File and directory names within a plan directory.
const (
	OrchestrationFileName  = "orchestration.json"
	ExecutionStateFileName = "execution-state.json"
	PhasesDirName          = "phases"
	BackupsDirName         = ".backups"
	LogsBackupDirName      = ".logs-backup"
	LockFileName           = ".plan.lock"
)

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

// Status represents the execution status of a plan, phase, or task.
type Status string

const (
	// StatusPending indicates work that has not started.
	StatusPending Status = "pending"

	// StatusInProgress indicates work that is currently executing.
	// In-progress entities are never deletable, even with force.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates finished work. Completion is terminal:
	// it can only be left through an explicit reset path (rollback-replan
	// or a forced override), never through ordinary status updates.
	StatusCompleted Status = "completed"

	// StatusBlocked indicates work waiting on an unmet dependency.
	StatusBlocked Status = "blocked"

	// StatusFailed indicates work that terminated with an error.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if this is a recognized status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusBlocked, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if this status represents finished work.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// ValidStatuses returns the list of recognized status values.
func ValidStatuses() []string {
	return []string{
		string(StatusPending),
		string(StatusInProgress),
		string(StatusCompleted),
		string(StatusBlocked),
		string(StatusFailed),
	}
}

// -----------------------------------------------------------------------------
// Orchestration Document
// -----------------------------------------------------------------------------

// Metadata identifies and describes a plan. It is mutated only through
// metadata operations, never as a side effect of phase or task edits
// (timestamps excepted).
type Metadata struct {
	// PlanID uniquely identifies the plan.
	PlanID string `json:"plan_id"`

	// Name is the human-readable plan name.
	Name string `json:"name"`

	// Description explains what the plan accomplishes.
	Description string `json:"description,omitempty"`

	// WorkType classifies the work, e.g. "feature", "refactor", "bugfix".
	WorkType string `json:"work_type,omitempty"`

	// Status is the overall plan status.
	Status Status `json:"status"`

	// Version is a monotonically meaningful document version string.
	Version string `json:"version"`

	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`

	// ModifiedAt is updated on every successful structural edit.
	ModifiedAt time.Time `json:"modified_at"`
}

// PhaseRef is an orchestration-document entry referencing a phase file.
// The slice of PhaseRefs is the authoritative phase ordering and dependency
// graph; each entry's File points at the phase file owning the tasks.
type PhaseRef struct {
	// ID uniquely identifies the phase within the plan.
	ID string `json:"id"`

	// Name is the human-readable phase name. It must match the phase
	// file's phase_name; a mismatch is an integrity warning.
	Name string `json:"name"`

	// File is the phase file path relative to the plan directory,
	// e.g. "phases/phase-1.json".
	File string `json:"file"`

	// Type classifies the phase, e.g. "implementation", "validation".
	Type string `json:"type,omitempty"`

	// Dependencies lists phase ids that must complete before this phase.
	Dependencies []string `json:"dependencies"`

	// Status mirrors the phase file's status for cheap queries.
	Status Status `json:"status"`

	// EstimatedTokens is the token budget estimate for the phase.
	EstimatedTokens int `json:"estimated_tokens,omitempty"`

	// EstimatedDuration is a human-readable duration estimate.
	EstimatedDuration string `json:"estimated_duration,omitempty"`
}

// ExecutionConfig holds execution strategy configuration. This is
// configuration, not state: it never records what has actually run.
type ExecutionConfig struct {
	// Strategy is "sequential" or "parallel".
	Strategy string `json:"strategy"`

	// MaxConcurrency caps parallel phase execution; ignored when sequential.
	MaxConcurrency int `json:"max_concurrency,omitempty"`

	// TokenBudget caps total token usage for the plan, 0 = no limit.
	TokenBudget int `json:"token_budget,omitempty"`

	// MaxRetries is the retry cap for failed tasks.
	MaxRetries int `json:"max_retries,omitempty"`
}

// Progress holds derived counters recomputed after every structural change.
// It is never hand-edited; Recompute is the only writer.
type Progress struct {
	CompletedPhases int `json:"completed_phases"`
	TotalPhases     int `json:"total_phases"`
	CompletedTasks  int `json:"completed_tasks"`
	TotalTasks      int `json:"total_tasks"`
	TokensUsed      int `json:"tokens_used"`
}

// HistoryEntry records one rollback-replan event. Entries are append-only:
// they are never mutated or removed once written.
type HistoryEntry struct {
	// ID uniquely identifies the entry.
	ID string `json:"id"`

	// Timestamp is when the rollback occurred.
	Timestamp time.Time `json:"timestamp"`

	// Reason is the caller-supplied reason for the rollback.
	Reason string `json:"reason"`

	// Progress is the progress snapshot taken before the reset.
	Progress Progress `json:"progress"`

	// CompletedTasks lists the task ids that were completed before the reset.
	CompletedTasks []string `json:"completed_tasks,omitempty"`

	// CompletedPhases lists the phase ids that were completed before the reset.
	CompletedPhases []string `json:"completed_phases,omitempty"`

	// LogsBackupPath points at the archived execution logs for this event.
	LogsBackupPath string `json:"logs_backup_path,omitempty"`
}

// Orchestration is the root document of a plan. It owns the phase reference
// list; the phase files own the tasks.
type Orchestration struct {
	Metadata         Metadata        `json:"metadata"`
	Phases           []PhaseRef      `json:"phases"`
	Execution        ExecutionConfig `json:"execution"`
	Progress         Progress        `json:"progress"`
	ExecutionHistory []HistoryEntry  `json:"execution_history"`
}

// FindPhase returns a pointer to the phase reference with the given id,
// or nil if not found.
func (o *Orchestration) FindPhase(phaseID string) *PhaseRef {
	for i := range o.Phases {
		if o.Phases[i].ID == phaseID {
			return &o.Phases[i]
		}
	}
	return nil
}

// HasPhase returns true if a phase reference with the given id exists.
func (o *Orchestration) HasPhase(phaseID string) bool {
	return o.FindPhase(phaseID) != nil
}

// PhaseIDs returns the ids of all phase references in order.
func (o *Orchestration) PhaseIDs() []string {
	ids := make([]string, len(o.Phases))
	for i, p := range o.Phases {
		ids[i] = p.ID
	}
	return ids
}

// DependentsOf returns the ids of phases that list the given phase as a
// dependency.
func (o *Orchestration) DependentsOf(phaseID string) []string {
	var dependents []string
	for _, p := range o.Phases {
		for _, dep := range p.Dependencies {
			if dep == phaseID {
				dependents = append(dependents, p.ID)
				break
			}
		}
	}
	return dependents
}

// -----------------------------------------------------------------------------
// Phase File
// -----------------------------------------------------------------------------

// Task is a single unit of work within a phase. Task ids are unique across
// the whole plan, not just within their phase, which is what allows tasks to
// depend on tasks in other phases and to be moved between phases.
type Task struct {
	// TaskID uniquely identifies the task within the plan.
	TaskID string `json:"task_id"`

	// Description is the short task summary.
	Description string `json:"description"`

	// Details contains the full instructions for executing the task.
	Details string `json:"details,omitempty"`

	// Status is the task's execution status.
	Status Status `json:"status"`

	// Dependencies lists task ids that must complete before this task.
	// A task with dependents cannot be removed.
	Dependencies []string `json:"dependencies"`

	// FromRequirement links the task back to a requirement identifier.
	FromRequirement string `json:"from_requirement,omitempty"`

	// EstimatedTokens is the token budget estimate for the task.
	EstimatedTokens int `json:"estimated_tokens,omitempty"`

	// Validation describes how to verify the task's result.
	Validation string `json:"validation,omitempty"`

	// Result records the outcome once the task has run.
	Result string `json:"result,omitempty"`
}

// PhaseFile is the per-phase document owning that phase's tasks.
// Its PhaseID must equal the referencing orchestration entry's ID.
type PhaseFile struct {
	PhaseID      string   `json:"phase_id"`
	PhaseName    string   `json:"phase_name"`
	Description  string   `json:"description,omitempty"`
	Dependencies []string `json:"dependencies"`
	Status       Status   `json:"status"`
	Tasks        []Task   `json:"tasks"`
}

// FindTask returns a pointer to the task with the given id, or nil.
func (pf *PhaseFile) FindTask(taskID string) *Task {
	for i := range pf.Tasks {
		if pf.Tasks[i].TaskID == taskID {
			return &pf.Tasks[i]
		}
	}
	return nil
}

// TaskIDs returns the ids of all tasks in this phase in order.
func (pf *PhaseFile) TaskIDs() []string {
	ids := make([]string, len(pf.Tasks))
	for i, t := range pf.Tasks {
		ids[i] = t.TaskID
	}
	return ids
}

// RemoveTask deletes the task with the given id, preserving order.
// Returns true if a task was removed.
func (pf *PhaseFile) RemoveTask(taskID string) bool {
	for i := range pf.Tasks {
		if pf.Tasks[i].TaskID == taskID {
			pf.Tasks = append(pf.Tasks[:i], pf.Tasks[i+1:]...)
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Execution-State Document
// -----------------------------------------------------------------------------

// ExecutionError records one execution failure in the state document.
type ExecutionError struct {
	Timestamp time.Time `json:"timestamp"`
	PhaseID   string    `json:"phaseId,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
	Message   string    `json:"message"`
}

// ExecutionState is the only source of truth for whether a plan has started
// and what is mid-flight. It is kept synchronized with the orchestration
// document's phase and task set after every structural update, but is never
// itself the target of structural edits.
//
// Field names are camelCase on disk; the executor that consumes this
// document predates the store and its format is fixed.
type ExecutionState struct {
	CurrentPhase  string            `json:"currentPhase,omitempty"`
	PhaseStatuses map[string]Status `json:"phaseStatuses"`
	TaskStatuses  map[string]Status `json:"taskStatuses"`
	Errors        []ExecutionError  `json:"errors"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
}

// NewExecutionState returns an empty execution state with initialized maps.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{
		PhaseStatuses: make(map[string]Status),
		TaskStatuses:  make(map[string]Status),
		Errors:        make([]ExecutionError, 0),
	}
}

// HasStarted returns true if execution of the plan has begun.
func (es *ExecutionState) HasStarted() bool {
	if es == nil {
		return false
	}
	if es.StartedAt != nil {
		return true
	}
	for _, s := range es.PhaseStatuses {
		if s != StatusPending {
			return true
		}
	}
	for _, s := range es.TaskStatuses {
		if s != StatusPending {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Plan Aggregate
// -----------------------------------------------------------------------------

// Plan is the in-memory aggregate of one plan directory: the orchestration
// document, every phase file keyed by phase id, and the execution state.
type Plan struct {
	// Dir is the plan directory this aggregate was loaded from.
	Dir string `json:"-"`

	Orchestration *Orchestration        `json:"orchestration"`
	PhaseFiles    map[string]*PhaseFile `json:"phase_files"`
	State         *ExecutionState       `json:"execution_state"`
}

// FindTask locates a task anywhere in the plan. Returns the task and its
// owning phase file, or (nil, nil) if not found.
func (p *Plan) FindTask(taskID string) (*Task, *PhaseFile) {
	for _, ref := range p.Orchestration.Phases {
		pf, ok := p.PhaseFiles[ref.ID]
		if !ok {
			continue
		}
		if t := pf.FindTask(taskID); t != nil {
			return t, pf
		}
	}
	return nil, nil
}

// AllTasks returns every task in phase order.
func (p *Plan) AllTasks() []Task {
	var tasks []Task
	for _, ref := range p.Orchestration.Phases {
		if pf, ok := p.PhaseFiles[ref.ID]; ok {
			tasks = append(tasks, pf.Tasks...)
		}
	}
	return tasks
}

// TaskIDSet returns the set of every task id in the plan.
func (p *Plan) TaskIDSet() map[string]bool {
	set := make(map[string]bool)
	for _, ref := range p.Orchestration.Phases {
		if pf, ok := p.PhaseFiles[ref.ID]; ok {
			for _, t := range pf.Tasks {
				set[t.TaskID] = true
			}
		}
	}
	return set
}

// RecomputeProgress recalculates the derived progress counters from the
// phase and task statuses. It is the only writer of Progress.
func (p *Plan) RecomputeProgress() {
	var prog Progress
	prog.TotalPhases = len(p.Orchestration.Phases)
	for _, ref := range p.Orchestration.Phases {
		if ref.Status == StatusCompleted {
			prog.CompletedPhases++
		}
		pf, ok := p.PhaseFiles[ref.ID]
		if !ok {
			continue
		}
		for _, t := range pf.Tasks {
			prog.TotalTasks++
			if t.Status == StatusCompleted {
				prog.CompletedTasks++
				prog.TokensUsed += t.EstimatedTokens
			}
		}
	}
	p.Orchestration.Progress = prog
}

// Touch updates the modification timestamp on the orchestration metadata.
func (p *Plan) Touch(now time.Time) {
	p.Orchestration.Metadata.ModifiedAt = now.UTC()
}

// Clone deep-copies the aggregate via its JSON form, the same representation
// it round-trips through on disk. Used for dry-run simulation.
func (p *Plan) Clone() (*Plan, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("clone plan: %w", err)
	}
	var out Plan
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone plan: %w", err)
	}
	out.Dir = p.Dir
	return &out, nil
}
