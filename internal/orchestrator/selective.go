package orchestrator

import (
	"context"
	"fmt"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/execstate"
	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/policy"
)

// selectiveDisclaimer is attached whenever a batch touches a plan that has
// started executing.
const selectiveDisclaimer = "plan is executing: updates were screened against execution state; completed and in-progress work is protected"

// SelectiveResult extends the batch result with the operations a selective
// screen rejected.
type SelectiveResult struct {
	Result
	Blocked []policy.BlockedOperation `json:"blocked,omitempty"`
}

// SelectiveUpdate applies a batch to a live plan, touching only entities
// execution has not claimed. Blocked operations fail the batch before
// anything is written unless SkipBlocked is set, in which case they are
// dropped and counted. A plan that has not started falls through to the
// ordinary pipeline unscreened.
func (e *Engine) SelectiveUpdate(ctx context.Context, batch []plan.Operation, opts Options) (*SelectiveResult, error) {
	lock, err := plan.AcquireLock(ctx, e.store.Dir(), "", opts.LockTimeout, e.logger)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	p, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if !execstate.Analyze(p).HasStarted {
		res, err := e.applyLocked(ctx, batch, opts)
		if err != nil {
			return nil, err
		}
		return &SelectiveResult{Result: *res}, nil
	}

	log := e.logger.WithMode("selective")
	part := policy.ValidateUpdateDuringExecution(p, batch, opts.Force)

	if len(part.Blocked) > 0 && !opts.SkipBlocked {
		log.Warn("selective batch blocked", "blocked", len(part.Blocked))
		return &SelectiveResult{
			Result: Result{
				ValidationErrors: []*errors.ValidationError{
					errors.NewValidationErrorf(errors.CodeBlockedDuringExecution, "operations",
						"%d operation(s) are blocked by execution state", len(part.Blocked)),
				},
				Message: fmt.Sprintf(
					"%d operation(s) are blocked by execution state; nothing was written (re-run with skip-blocked to apply the rest)",
					len(part.Blocked)),
			},
			Blocked: part.Blocked,
		}, nil
	}

	res := &SelectiveResult{Blocked: part.Blocked}
	if len(part.Allowed) > 0 {
		inner, err := e.applyLocked(ctx, part.Allowed, opts)
		if err != nil {
			return nil, err
		}
		res.Result = *inner
	} else {
		res.Success = true
		res.Message = "no operations were applicable"
	}

	res.SkippedBlocked = len(part.Blocked)
	res.Warnings = append(res.Warnings, part.Warnings...)
	res.Warnings = append(res.Warnings, selectiveDisclaimer)
	if res.SkippedBlocked > 0 {
		res.Message = fmt.Sprintf("%s; %d blocked operation(s) skipped", res.Message, res.SkippedBlocked)
	}
	log.Info("selective update finished",
		"applied", len(res.Completed), "skipped", res.SkippedBlocked)
	return res, nil
}
