// Package errors provides centralized error definitions and error handling
// utilities for the planforge codebase. It defines domain-specific errors,
// stable machine-readable error codes, error constructors with context
// wrapping, and error classification helpers.
//
// # Error Types
//
// The package provides three categories of errors, mirroring the layers a
// plan update passes through:
//
//   - ValidationError: schema or integrity violations. Nothing was written;
//     the caller must fix the input.
//   - PolicyError: update-safety violations gated on execution status and the
//     force flag. Nothing was written; the caller must add force or change
//     approach.
//   - ExecutionError: I/O failures, lock timeouts, and partial batch
//     failures. State may have been partially written; these errors carry the
//     backup path when one exists.
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewPolicyError(errors.CodePhaseCompleted, "phase-1", "phase is completed")
//	err := errors.NewExecutionError("restore failed", baseErr).WithBackupPath(path)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrPlanLocked) { ... }
//
//	var policyErr *errors.PolicyError
//	if errors.As(err, &policyErr) && policyErr.RequiresForce { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Code is a stable machine-readable error code. Codes are part of the public
// result contract: calling tooling branches on them, so they never change
// once released.
type Code string

// Schema validation codes.
const (
	CodeRequiredFieldMissing Code = "REQUIRED_FIELD_MISSING"
	CodeTypeMismatch         Code = "TYPE_MISMATCH"
	CodeInvalidEnumValue     Code = "INVALID_ENUM_VALUE"
	CodeStringTooShort       Code = "STRING_TOO_SHORT"
	CodeStringTooLong        Code = "STRING_TOO_LONG"
	CodePatternMismatch      Code = "PATTERN_MISMATCH"
	CodeValueOutOfRange      Code = "VALUE_OUT_OF_RANGE"
	CodeArrayTooShort        Code = "ARRAY_TOO_SHORT"
	CodeArrayTooLong         Code = "ARRAY_TOO_LONG"
)

// Integrity validation codes.
const (
	CodeCircularDependency     Code = "CIRCULAR_DEPENDENCY"
	CodeMissingTaskDependency  Code = "MISSING_TASK_DEPENDENCY"
	CodeMissingPhaseDependency Code = "MISSING_PHASE_DEPENDENCY"
	CodeMissingPhaseFile       Code = "MISSING_PHASE_FILE"
	CodeOrphanedPhaseFile      Code = "ORPHANED_PHASE_FILE"
	CodePhaseNameMismatch      Code = "PHASE_NAME_MISMATCH"
	CodePhaseIDMismatch        Code = "PHASE_ID_MISMATCH"
	CodeDuplicateTaskID        Code = "DUPLICATE_TASK_ID"
)

// Policy (update-safety) codes.
const (
	CodePhaseNotFound           Code = "PHASE_NOT_FOUND"
	CodePhaseInProgress         Code = "PHASE_IN_PROGRESS"
	CodePhaseCompleted          Code = "PHASE_COMPLETED"
	CodeHasDependentPhases      Code = "HAS_DEPENDENT_PHASES"
	CodeTaskNotFound            Code = "TASK_NOT_FOUND"
	CodeTaskInProgress          Code = "TASK_IN_PROGRESS"
	CodeTaskCompleted           Code = "TASK_COMPLETED"
	CodeHasDependentTasks       Code = "HAS_DEPENDENT_TASKS"
	CodeInvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"
	CodeBlockedDuringExecution  Code = "BLOCKED_DURING_EXECUTION"
)

// Operation and orchestration codes.
const (
	CodeInvalidOperation  Code = "INVALID_OPERATION"
	CodeUnknownOperation  Code = "UNKNOWN_OPERATION"
	CodeIDCollision       Code = "ID_COLLISION"
	CodeInvalidReorder    Code = "INVALID_REORDER"
	CodeBackupFailed      Code = "BACKUP_FAILED"
	CodeRestoreFailed     Code = "RESTORE_FAILED"
	CodeLockTimeout       Code = "LOCK_TIMEOUT"
	CodePlanNotStarted    Code = "PLAN_NOT_STARTED"
	CodeOperationFailed   Code = "OPERATION_FAILED"
	CodeChecksumMismatch  Code = "CHECKSUM_MISMATCH"
	CodePlanNotFound      Code = "PLAN_NOT_FOUND"
	CodePlanAlreadyExists Code = "PLAN_ALREADY_EXISTS"
	CodeDocumentCorrupted Code = "DOCUMENT_CORRUPTED"
)

// String returns the code as a string.
func (c Code) String() string {
	return string(c)
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Plan-related sentinel errors
var (
	// ErrPlanNotFound indicates that a plan directory could not be found.
	ErrPlanNotFound = New("plan not found")
	// ErrPlanExists indicates that a plan directory already exists.
	ErrPlanExists = New("plan already exists")
	// ErrPlanLocked indicates that a plan is locked by another process.
	ErrPlanLocked = New("plan is locked")
	// ErrPlanCorrupted indicates that a plan document failed to parse.
	ErrPlanCorrupted = New("plan document corrupted")
	// ErrPlanNotStarted indicates an operation that requires a started plan.
	ErrPlanNotStarted = New("plan execution has not started")
)

// Entity-related sentinel errors
var (
	// ErrPhaseNotFound indicates that a phase could not be found.
	ErrPhaseNotFound = New("phase not found")
	// ErrTaskNotFound indicates that a task could not be found.
	ErrTaskNotFound = New("task not found")
	// ErrDependencyCycle indicates a circular dependency between phases or tasks.
	ErrDependencyCycle = New("dependency cycle detected")
)

// Store and orchestration sentinel errors
var (
	// ErrNotFound indicates that a stored document could not be found.
	ErrNotFound = New("not found")
	// ErrAlreadyExists indicates that a stored document already exists.
	ErrAlreadyExists = New("already exists")
	// ErrLockTimeout indicates the plan lock could not be acquired in time.
	ErrLockTimeout = New("lock acquisition timed out")
	// ErrLockNotHeld indicates a release of a lock this process does not hold.
	ErrLockNotHeld = New("lock not held")
	// ErrBackupFailed indicates that the pre-batch backup could not be created.
	ErrBackupFailed = New("backup failed")
	// ErrRestoreFailed indicates that restoration from a backup failed.
	// This is the only error class where manual recovery may be required.
	ErrRestoreFailed = New("restore from backup failed")
	// ErrBatchRejected indicates the batch failed validation before any write.
	ErrBatchRejected = New("batch rejected by validation")
)

// -----------------------------------------------------------------------------
// ValidationError
// -----------------------------------------------------------------------------

// ValidationError represents a schema or integrity violation. It names the
// offending field path and carries a stable code so tooling can branch on it.
// Validation errors always mean nothing was written.
type ValidationError struct {
	// Code is the stable machine-readable code for this violation.
	Code Code `json:"code"`
	// Path is the document field path, e.g. "phases[2].dependencies".
	Path string `json:"path,omitempty"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// RelatedIDs lists entity ids involved (cycle members, dangling refs).
	RelatedIDs []string `json:"related_ids,omitempty"`
}

// NewValidationError creates a ValidationError with the given code, path and message.
func NewValidationError(code Code, path, message string) *ValidationError {
	return &ValidationError{Code: code, Path: path, Message: message}
}

// NewValidationErrorf is NewValidationError with a formatted message.
func NewValidationErrorf(code Code, path, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithRelated attaches related entity ids and returns the error.
func (e *ValidationError) WithRelated(ids ...string) *ValidationError {
	e.RelatedIDs = append(e.RelatedIDs, ids...)
	return e
}

// -----------------------------------------------------------------------------
// PolicyError
// -----------------------------------------------------------------------------

// PolicyError represents an update-safety rejection: the operation is
// structurally valid but not permitted given the plan's execution state.
// Policy errors always mean nothing was written.
type PolicyError struct {
	// Code is the stable machine-readable code for this rejection.
	Code Code `json:"code"`
	// EntityID is the phase or task id the decision applies to.
	EntityID string `json:"entity_id,omitempty"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// RequiresForce is true when re-submitting with force would succeed.
	RequiresForce bool `json:"requires_force,omitempty"`
}

// NewPolicyError creates a PolicyError for the given entity.
func NewPolicyError(code Code, entityID, message string) *PolicyError {
	return &PolicyError{Code: code, EntityID: entityID, Message: message}
}

// Error returns the error message.
func (e *PolicyError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.EntityID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithForce marks the error as overridable via the force flag.
func (e *PolicyError) WithForce() *PolicyError {
	e.RequiresForce = true
	return e
}

// -----------------------------------------------------------------------------
// ExecutionError
// -----------------------------------------------------------------------------

// ExecutionError represents an I/O, lock, or batch application failure.
// Unlike validation and policy errors, state may have been partially written;
// when a pre-batch backup exists its path is attached.
type ExecutionError struct {
	// Code is the stable machine-readable code for this failure.
	Code Code `json:"code"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// BackupPath is the pre-batch backup directory, when one was created.
	BackupPath string `json:"backup_path,omitempty"`
	// ManualRecovery is true when automatic restoration also failed and the
	// plan directory may be in an indeterminate state.
	ManualRecovery bool `json:"manual_recovery,omitempty"`

	cause error
}

// NewExecutionError creates an ExecutionError wrapping a cause.
func NewExecutionError(code Code, message string, cause error) *ExecutionError {
	return &ExecutionError{Code: code, Message: message, cause: cause}
}

// Error returns the error message.
func (e *ExecutionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.cause
}

// WithBackupPath attaches the pre-batch backup path and returns the error.
func (e *ExecutionError) WithBackupPath(path string) *ExecutionError {
	e.BackupPath = path
	return e
}

// WithManualRecovery flags the error as requiring manual recovery.
func (e *ExecutionError) WithManualRecovery() *ExecutionError {
	e.ManualRecovery = true
	return e
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient and the operation may
// succeed on retry. Lock timeouts are the only retryable class: validation
// and policy rejections are deterministic, and execution failures need
// inspection before retrying.
func IsRetryable(err error) bool {
	return Is(err, ErrLockTimeout) || Is(err, ErrPlanLocked)
}

// IsValidation returns true if the error is a schema or integrity violation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return As(err, &ve)
}

// IsPolicy returns true if the error is an update-safety rejection.
func IsPolicy(err error) bool {
	var pe *PolicyError
	return As(err, &pe)
}

// RequiresForce returns true if re-submitting the operation with the force
// flag would allow it to proceed.
func RequiresForce(err error) bool {
	var pe *PolicyError
	return As(err, &pe) && pe.RequiresForce
}

// RequiresManualRecovery returns true if automatic rollback failed and the
// plan directory may need manual restoration from its backup.
func RequiresManualRecovery(err error) bool {
	var ee *ExecutionError
	return As(err, &ee) && ee.ManualRecovery
}

// CodeOf extracts the stable error code from any planforge error, or the
// empty code for foreign errors.
func CodeOf(err error) Code {
	var ve *ValidationError
	if As(err, &ve) {
		return ve.Code
	}
	var pe *PolicyError
	if As(err, &pe) {
		return pe.Code
	}
	var ee *ExecutionError
	if As(err, &ee) {
		return ee.Code
	}
	return ""
}
