package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/logging"
)

// DefaultLockTimeout is the bounded wait for lock acquisition. Callers that
// cannot acquire the lock within the timeout get errors.ErrLockTimeout and
// must skip or retry rather than block indefinitely.
const DefaultLockTimeout = 5 * time.Second

// lockPollInterval is how often a waiting acquirer re-attempts the lock.
const lockPollInterval = 50 * time.Millisecond

// Lock represents an acquired advisory lock on a plan directory.
// Mutating sequences are serialized per plan directory through this lock;
// read-only projections take no lock and tolerate in-progress writes by
// re-reading.
type Lock struct {
	PlanID     string    `json:"plan_id"`
	HolderID   string    `json:"holder_id"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`

	// Internal fields (not serialized)
	lockFile string
	logger   *logging.Logger
}

// AcquireLock acquires an exclusive advisory lock on the plan directory,
// waiting up to timeout. Stale locks left by dead processes are cleaned
// automatically. Returns errors.ErrLockTimeout when the wait is exhausted.
// The logger parameter is optional and can be nil.
func AcquireLock(ctx context.Context, planDir, planID string, timeout time.Duration, logger *logging.Logger) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		lock, err := tryAcquireLock(planDir, planID, logger)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, errors.ErrPlanLocked) {
			return nil, err
		}

		if time.Now().After(deadline) {
			if logger != nil {
				logger.Warn("lock acquisition timed out",
					"plan_id", planID,
					"timeout", timeout.String(),
				)
			}
			return nil, fmt.Errorf("%w: %s after %s", errors.ErrLockTimeout, planID, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// tryAcquireLock makes a single non-blocking acquisition attempt.
func tryAcquireLock(planDir, planID string, logger *logging.Logger) (*Lock, error) {
	lockPath := filepath.Join(planDir, LockFileName)

	// Check for existing lock
	if existing, err := ReadLock(lockPath); err == nil {
		// Lock file exists - check if the process is still alive
		if isProcessAlive(existing.PID) {
			return nil, fmt.Errorf("%w: held by PID %d on %s", errors.ErrPlanLocked, existing.PID, existing.Hostname)
		}
		// Stale lock - remove it
		oldPID := existing.PID
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		if logger != nil {
			logger.Warn("stale lock cleaned",
				"plan_id", planID,
				"old_pid", oldPID,
			)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &Lock{
		PlanID:     planID,
		HolderID:   uuid.NewString(),
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now(),
		lockFile:   lockPath,
		logger:     logger,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// Use O_EXCL to fail if file already exists (race condition protection)
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			// Another process beat us to it - re-read and report
			if existing, readErr := ReadLock(lockPath); readErr == nil {
				return nil, fmt.Errorf("%w: held by PID %d on %s", errors.ErrPlanLocked, existing.PID, existing.Hostname)
			}
			return nil, errors.ErrPlanLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	if logger != nil {
		logger.Info("plan lock acquired",
			"plan_id", planID,
			"pid", lock.PID,
		)
	}

	return lock, nil
}

// Release releases the plan lock by removing the lock file.
// Safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil || l.lockFile == "" {
		return nil
	}

	// Only remove if we own the lock (holder matches)
	existing, err := ReadLock(l.lockFile)
	if err != nil {
		// Lock file doesn't exist or can't be read - nothing to do
		return nil
	}

	if existing.HolderID != l.HolderID {
		// Not our lock - don't remove it
		return errors.ErrLockNotHeld
	}

	if err := os.Remove(l.lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if l.logger != nil {
		l.logger.Info("plan lock released",
			"plan_id", l.PlanID,
		)
	}

	return nil
}

// ReadLock reads a lock file and returns the Lock info.
func ReadLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.lockFile = lockPath

	return &lock, nil
}

// IsLocked checks if a plan directory is currently locked by a live process.
// Returns the lock info if locked, nil otherwise.
func IsLocked(planDir string) (*Lock, bool) {
	lockPath := filepath.Join(planDir, LockFileName)

	lock, err := ReadLock(lockPath)
	if err != nil {
		return nil, false
	}

	// Check if the process is still alive
	if !isProcessAlive(lock.PID) {
		// Stale lock
		return lock, false
	}

	return lock, true
}

// CleanStaleLock removes a stale lock file if the owning process is no longer
// running. Returns true if a stale lock was cleaned.
// The logger parameter is optional and can be nil.
func CleanStaleLock(planDir string, logger *logging.Logger) (bool, error) {
	lockPath := filepath.Join(planDir, LockFileName)

	lock, err := ReadLock(lockPath)
	if err != nil {
		// No lock file
		return false, nil
	}

	if isProcessAlive(lock.PID) {
		// Process is still running - not stale
		return false, nil
	}

	oldPID := lock.PID
	planID := lock.PlanID

	// Stale lock - remove it
	if err := os.Remove(lockPath); err != nil {
		return false, fmt.Errorf("failed to remove stale lock: %w", err)
	}

	if logger != nil {
		logger.Warn("stale lock cleaned",
			"plan_id", planID,
			"old_pid", oldPID,
		)
	}

	return true, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	// On Unix, sending signal 0 checks if process exists without affecting it
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	return err == nil
}
