// Package orchestrator sequences batches of plan operations atomically:
// validate everything, snapshot the plan directory, apply in priority order,
// and restore from the snapshot when a batch fails midway.
//
// The engine has four terminal outcomes and always reports which one
// occurred: rejected (nothing written), committed, partially applied with a
// backup on disk, or rolled back (restored to the pre-batch state). A failed
// restore is the only case flagged for manual recovery.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/integrity"
	"github.com/planforge/planforge/internal/logging"
	"github.com/planforge/planforge/internal/ops"
	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/policy"
	"github.com/planforge/planforge/internal/schema"
)

// Options controls how a batch is applied.
type Options struct {
	// Force overrides completed-entity protection for every operation in
	// the batch. In-progress protection is never overridable.
	Force bool
	// ContinueOnError keeps applying after a failed operation instead of
	// restoring the pre-batch snapshot. Completed operations are kept and
	// the batch reports partial success.
	ContinueOnError bool
	// DryRun validates and simulates the batch in memory without taking
	// the lock, writing a backup, or touching any file.
	DryRun bool
	// SkipBlocked drops execution-blocked operations from a selective
	// batch instead of failing it.
	SkipBlocked bool
	// Reason is recorded in the execution history by RollbackAndReplan.
	Reason string
	// LockTimeout bounds the wait for the plan lock; zero means the
	// package default.
	LockTimeout time.Duration
}

// OpOutcome pairs one operation with its primitive result.
type OpOutcome struct {
	Operation plan.Operation `json:"operation"`
	Result    *ops.Result    `json:"result"`
}

// RollbackReport describes a restoration attempt after a mid-batch failure.
type RollbackReport struct {
	Attempted bool   `json:"attempted"`
	Restored  bool   `json:"restored"`
	Error     string `json:"error,omitempty"`
	// ManualRecovery is true when the restore itself failed and the plan
	// directory may be in an indeterminate state.
	ManualRecovery bool `json:"manual_recovery,omitempty"`
}

// Result is the outcome contract consumers render and branch on.
type Result struct {
	Success          bool                      `json:"success"`
	DryRun           bool                      `json:"dry_run,omitempty"`
	Completed        []OpOutcome               `json:"completed"`
	Failed           []OpOutcome               `json:"failed"`
	ValidationErrors []*errors.ValidationError `json:"validation_errors,omitempty"`
	Warnings         []string                  `json:"warnings,omitempty"`
	BackupPath       string                    `json:"backup_path,omitempty"`
	Rollback         *RollbackReport           `json:"rollback,omitempty"`
	// SkippedBlocked counts operations dropped by a selective update.
	SkippedBlocked int    `json:"skipped_blocked,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Engine applies operation batches to one plan directory.
type Engine struct {
	store  *plan.Store
	logger *logging.Logger
	now    func() time.Time
}

// NewEngine creates an engine over the given store.
func NewEngine(store *plan.Store, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Engine{store: store, logger: logger, now: time.Now}
}

// ApplyBatch runs one batch through the full pipeline: validate, backup,
// priority-sort, apply, and restore on failure. A nil error with
// Result.Success false means the batch was rejected or rolled back cleanly;
// a non-nil error means the engine itself could not proceed (lock, I/O).
func (e *Engine) ApplyBatch(ctx context.Context, batch []plan.Operation, opts Options) (*Result, error) {
	if len(batch) == 0 {
		return &Result{Success: true, Message: "nothing to do"}, nil
	}
	if opts.DryRun {
		return e.dryRun(ctx, batch, opts)
	}

	lock, err := plan.AcquireLock(ctx, e.store.Dir(), "", opts.LockTimeout, e.logger)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return e.applyLocked(ctx, batch, opts)
}

// applyLocked is ApplyBatch after the lock is held.
func (e *Engine) applyLocked(ctx context.Context, batch []plan.Operation, opts Options) (*Result, error) {
	p, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	violations, warnings := e.validate(p, batch, opts)
	if len(violations) > 0 {
		e.logger.Warn("batch rejected", "violations", len(violations))
		return rejection(violations, warnings), nil
	}

	backup, err := plan.CreateBackup(e.store.Dir())
	if err != nil {
		return nil, errors.NewExecutionError(errors.CodeBackupFailed, "could not snapshot plan directory", err)
	}
	e.logger.Debug("pre-batch backup created", "path", backup.Path)

	res := &Result{BackupPath: backup.Path, Warnings: warnings}
	sorted := sortBatch(batch)

	for _, op := range sorted {
		opRes := ops.Apply(p, op, opts.Force, e.now())
		if opRes.Success {
			// The applied aggregate must still be referentially sound;
			// an operation that breaks it never reaches disk.
			if gate := integrityGate(p); gate != nil {
				opRes = gate
			}
		}
		if opRes.Success {
			if err := e.store.Save(ctx, p); err != nil {
				opRes = &ops.Result{Code: errors.CodeOperationFailed, Err: err.Error()}
			}
		}

		if opRes.Success {
			res.Completed = append(res.Completed, OpOutcome{Operation: op, Result: opRes})
			res.Warnings = append(res.Warnings, opRes.Warnings...)
			continue
		}

		res.Failed = append(res.Failed, OpOutcome{Operation: op, Result: opRes})
		e.logger.Warn("operation failed",
			"operation", op.String(), "code", opRes.Code, "error", opRes.Err)

		if !opts.ContinueOnError {
			return e.rollback(res, backup.Path, opRes), nil
		}
		// Keep going against the last saved state: the failed operation
		// never reached disk.
		if p, err = e.store.Load(ctx); err != nil {
			return nil, errors.NewExecutionError(errors.CodeOperationFailed,
				"could not re-read plan after failed operation", err).WithBackupPath(backup.Path)
		}
	}

	res.Success = len(res.Failed) == 0
	switch {
	case res.Success:
		res.Message = fmt.Sprintf("applied %d operation(s)", len(res.Completed))
	default:
		res.Message = fmt.Sprintf("applied %d operation(s), %d failed; completed operations were kept (backup at %s)",
			len(res.Completed), len(res.Failed), backup.Path)
	}
	e.logger.Info("batch finished",
		"completed", len(res.Completed), "failed", len(res.Failed), "success", res.Success)
	return res, nil
}

// rollback restores the pre-batch snapshot after a halting failure.
func (e *Engine) rollback(res *Result, backupPath string, cause *ops.Result) *Result {
	res.Rollback = &RollbackReport{Attempted: true}
	if err := plan.RestoreBackup(e.store.Dir(), backupPath); err != nil {
		res.Rollback.Error = err.Error()
		res.Rollback.ManualRecovery = true
		res.Message = fmt.Sprintf(
			"operation failed (%s) and restoring the backup also failed: %s; manual recovery from %s may be required",
			cause.Code, err.Error(), backupPath)
		e.logger.Error("rollback failed", "backup", backupPath, "error", err)
		return res
	}
	res.Rollback.Restored = true
	res.Message = fmt.Sprintf("operation failed (%s); plan restored to its pre-batch state", cause.Code)
	e.logger.Info("plan restored from backup", "backup", backupPath)
	return res
}

// dryRun simulates the batch on a clone of the aggregate. No lock is taken
// and nothing is written.
func (e *Engine) dryRun(ctx context.Context, batch []plan.Operation, opts Options) (*Result, error) {
	p, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	violations, warnings := e.validate(p, batch, opts)
	if len(violations) > 0 {
		res := rejection(violations, warnings)
		res.DryRun = true
		return res, nil
	}

	// Each operation is tried on a clone of the last good state, so a
	// failed or integrity-breaking simulation never taints the rest.
	good, err := p.Clone()
	if err != nil {
		return nil, err
	}

	res := &Result{DryRun: true, Warnings: warnings}
	for _, op := range sortBatch(batch) {
		trial, err := good.Clone()
		if err != nil {
			return nil, err
		}
		opRes := ops.Apply(trial, op, opts.Force, e.now())
		if opRes.Success {
			if gate := integrityGate(trial); gate != nil {
				opRes = gate
			}
		}
		if opRes.Success {
			good = trial
			res.Completed = append(res.Completed, OpOutcome{Operation: op, Result: opRes})
			res.Warnings = append(res.Warnings, opRes.Warnings...)
		} else {
			res.Failed = append(res.Failed, OpOutcome{Operation: op, Result: opRes})
			if !opts.ContinueOnError {
				res.Message = fmt.Sprintf("dry run: operation would fail (%s); nothing was written", opRes.Code)
				return res, nil
			}
		}
	}
	res.Success = len(res.Failed) == 0
	res.Message = fmt.Sprintf("dry run: %d operation(s) would apply, %d would fail",
		len(res.Completed), len(res.Failed))
	return res, nil
}

// integrityGate re-validates referential integrity on the mutated aggregate.
// Returns nil when the plan is still sound, or a failing result carrying the
// first violation when the operation would commit a broken plan.
func integrityGate(p *plan.Plan) *ops.Result {
	ir := integrity.Validate(p)
	if ir.Valid {
		return nil
	}
	first := ir.Errors[0]
	return &ops.Result{
		Code: first.Code,
		Err:  fmt.Sprintf("operation would break plan integrity: %s", first.Message),
	}
}

// validate runs the pre-flight layers over the loaded plan and the batch:
// operation decoding, document schemas, integrity, and the update-safety
// policy for existing targets. All violations are collected, not just the
// first.
func (e *Engine) validate(p *plan.Plan, batch []plan.Operation, opts Options) ([]*errors.ValidationError, []string) {
	var violations []*errors.ValidationError

	for i, op := range batch {
		if _, err := op.Decode(); err != nil {
			var ve *errors.ValidationError
			if errors.As(err, &ve) {
				ve.Path = fmt.Sprintf("operations[%d]", i)
				violations = append(violations, ve)
			} else {
				violations = append(violations, errors.NewValidationErrorf(
					errors.CodeInvalidOperation, fmt.Sprintf("operations[%d]", i), "%v", err))
			}
		}
	}

	if sr := schema.ValidatePlanDocuments(p); !sr.Valid {
		violations = append(violations, sr.Errors...)
	}
	ir := integrity.Validate(p)
	if !ir.Valid {
		violations = append(violations, ir.Errors...)
	}

	policyViolations, policyWarnings := policy.ValidateBatch(p, batch, opts.Force)
	violations = append(violations, policyViolations...)

	return violations, append(warningStrings(ir.Warnings), policyWarnings...)
}

// rejection builds the nothing-was-written result for a failed pre-flight.
func rejection(violations []*errors.ValidationError, warnings []string) *Result {
	return &Result{
		ValidationErrors: violations,
		Warnings:         warnings,
		Message:          fmt.Sprintf("batch rejected: %d validation error(s); nothing was written", len(violations)),
	}
}

func warningStrings(ws []*errors.ValidationError) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Error()
	}
	return out
}

// sortBatch orders operations metadata first, then phases, then tasks, so a
// phase created in a batch exists before tasks land in it. The sort is
// stable: operations of the same priority keep their submitted order.
func sortBatch(batch []plan.Operation) []plan.Operation {
	sorted := make([]plan.Operation, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return sorted
}
