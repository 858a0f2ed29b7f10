package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "lock.timeout_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidStrategies returns the list of valid execution strategies
func ValidStrategies() []string {
	return []string{"sequential", "parallel"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePlan()...)
	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateBackup()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateWatcher()...)

	return errors
}

// validatePlan validates the PlanConfig
func (c *Config) validatePlan() []ValidationError {
	var errors []ValidationError

	if c.Plan.Dir == "" {
		errors = append(errors, ValidationError{
			Field:   "plan.dir",
			Value:   c.Plan.Dir,
			Message: "must not be empty",
		})
	}

	if c.Plan.DefaultStrategy != "" && !slices.Contains(ValidStrategies(), c.Plan.DefaultStrategy) {
		errors = append(errors, ValidationError{
			Field:   "plan.default_strategy",
			Value:   c.Plan.DefaultStrategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStrategies(), ", ")),
		})
	}

	return errors
}

// validateLock validates the LockConfig
func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError

	if c.Lock.TimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.timeout_ms",
			Value:   c.Lock.TimeoutMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateBackup validates the BackupConfig
func (c *Config) validateBackup() []ValidationError {
	var errors []ValidationError

	if c.Backup.Keep < 0 {
		errors = append(errors, ValidationError{
			Field:   "backup.keep",
			Value:   c.Backup.Keep,
			Message: "must be non-negative (0 keeps all backups)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// validateWatcher validates the WatcherConfig
func (c *Config) validateWatcher() []ValidationError {
	var errors []ValidationError

	if c.Watcher.DebounceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "watcher.debounce_ms",
			Value:   c.Watcher.DebounceMs,
			Message: "must be non-negative",
		})
	}

	for i, pattern := range c.Watcher.IgnorePatterns {
		if pattern == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("watcher.ignore_patterns[%d]", i),
				Value:   pattern,
				Message: "must not be empty",
			})
		}
	}

	return errors
}
