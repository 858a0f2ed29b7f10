package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/execstate"
	"github.com/planforge/planforge/internal/plan"
)

const (
	logsBackupPrefix    = "logs-"
	summaryFileName     = "execution-summary.json"
	logsTimestampLayout = "20060102-150405"
)

// ReplanResult extends the batch result with the audit trail of the reset.
type ReplanResult struct {
	Result
	LogsBackupPath string `json:"logs_backup_path,omitempty"`
	// ResumeGuidance summarizes what was completed before the reset so the
	// caller knows where re-execution will pick up.
	ResumeGuidance string `json:"resume_guidance,omitempty"`
}

// RollbackAndReplan resets a started plan to a clean slate and then applies
// the batch: the current execution state and a derived summary are archived
// to a timestamped logs-backup directory, every phase and task status is
// reset to pending, one entry recording the prior progress is appended to
// the execution history, and only then does the batch run through the
// ordinary pipeline against the reset state on disk.
//
// A plan that has never started is refused: there is nothing to roll back,
// and a selective or standard update is the right tool.
func (e *Engine) RollbackAndReplan(ctx context.Context, batch []plan.Operation, opts Options) (*ReplanResult, error) {
	logsPath, guidance, err := e.resetPlan(ctx, opts)
	if err != nil {
		return nil, err
	}

	// The reset is on disk; the batch re-reads from there, so a batch
	// failure rolls back to the already-reset plan, never to the pre-reset
	// state.
	res, err := e.ApplyBatch(ctx, batch, opts)
	if err != nil {
		return nil, err
	}

	out := &ReplanResult{Result: *res, LogsBackupPath: logsPath, ResumeGuidance: guidance}
	if out.Message != "" {
		out.Message = fmt.Sprintf("plan reset to pending; %s", out.Message)
	}
	return out, nil
}

// resetPlan performs the archive-and-reset half of a replan under the plan
// lock, returning the logs-backup path and resume guidance.
func (e *Engine) resetPlan(ctx context.Context, opts Options) (string, string, error) {
	lock, err := plan.AcquireLock(ctx, e.store.Dir(), "", opts.LockTimeout, e.logger)
	if err != nil {
		return "", "", err
	}
	defer lock.Release()

	p, err := e.store.Load(ctx)
	if err != nil {
		return "", "", err
	}

	if !execstate.Analyze(p).HasStarted {
		return "", "", errors.NewExecutionError(errors.CodePlanNotStarted,
			"plan has not started executing; use a standard or selective update instead",
			errors.ErrPlanNotStarted)
	}

	log := e.logger.WithMode("rollback-replan")
	now := e.now()
	summary := execstate.Summarize(p, now)

	logsPath, err := e.archiveExecutionLogs(p, summary, now)
	if err != nil {
		return "", "", errors.NewExecutionError(errors.CodeBackupFailed,
			"could not archive execution logs", err)
	}
	log.Info("execution logs archived", "path", logsPath)

	priorProgress := p.Orchestration.Progress
	resetStatuses(p)
	p.Orchestration.ExecutionHistory = append(p.Orchestration.ExecutionHistory, plan.HistoryEntry{
		ID:              uuid.NewString(),
		Timestamp:       now.UTC(),
		Reason:          historyReason(opts.Reason),
		Progress:        priorProgress,
		CompletedTasks:  summary.CompletedTasks,
		CompletedPhases: summary.CompletedPhases,
		LogsBackupPath:  logsPath,
	})
	p.RecomputeProgress()
	p.Touch(now)

	if err := e.store.Save(ctx, p); err != nil {
		return "", "", errors.NewExecutionError(errors.CodeOperationFailed,
			"could not write reset plan", err).WithBackupPath(logsPath)
	}
	log.Info("plan reset", "completed_tasks_before_reset", len(summary.CompletedTasks))

	return logsPath, resumeGuidance(summary), nil
}

// archiveExecutionLogs writes the current execution state and its summary
// into .logs-backup/logs-<timestamp>/.
func (e *Engine) archiveExecutionLogs(p *plan.Plan, summary *execstate.Summary, now time.Time) (string, error) {
	dir := filepath.Join(e.store.Dir(), plan.LogsBackupDirName,
		logsBackupPrefix+now.Format(logsTimestampLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := plan.WriteJSON(filepath.Join(dir, plan.ExecutionStateFileName), p.State); err != nil {
		return "", err
	}
	if err := plan.WriteJSON(filepath.Join(dir, summaryFileName), summary); err != nil {
		return "", err
	}
	return dir, nil
}

// resetStatuses returns every phase and task to pending and clears the
// execution state, bypassing the transition state machine: the reset is the
// explicit escape hatch from terminal statuses.
func resetStatuses(p *plan.Plan) {
	for i := range p.Orchestration.Phases {
		p.Orchestration.Phases[i].Status = plan.StatusPending
	}
	for _, pf := range p.PhaseFiles {
		pf.Status = plan.StatusPending
		for i := range pf.Tasks {
			pf.Tasks[i].Status = plan.StatusPending
			pf.Tasks[i].Result = ""
		}
	}

	p.State = plan.NewExecutionState()
	plan.SyncExecutionState(p)
	p.Orchestration.Metadata.Status = plan.StatusPending
}

func historyReason(reason string) string {
	if reason == "" {
		return "rollback and replan"
	}
	return reason
}

// resumeGuidance renders a short human summary of pre-reset progress.
func resumeGuidance(s *execstate.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "before the reset, %d of %d task(s) and %d of %d phase(s) were completed",
		len(s.CompletedTasks), s.TotalTasks, len(s.CompletedPhases), s.TotalPhases)
	if len(s.CompletedPhases) > 0 {
		fmt.Fprintf(&b, "; completed phases: %s", strings.Join(s.CompletedPhases, ", "))
	}
	if len(s.FailedTasks) > 0 {
		fmt.Fprintf(&b, "; failed tasks: %s", strings.Join(s.FailedTasks, ", "))
	}
	b.WriteString("; re-execution starts from the first phase")
	return b.String()
}
