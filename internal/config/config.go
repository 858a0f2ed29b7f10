package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Planforge configuration
type Config struct {
	Plan    PlanConfig    `mapstructure:"plan"`
	Lock    LockConfig    `mapstructure:"lock"`
	Backup  BackupConfig  `mapstructure:"backup"`
	Logging LoggingConfig `mapstructure:"logging"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	Apply   ApplyConfig   `mapstructure:"apply"`
}

// PlanConfig controls where plan directories are created and how new
// plans are scaffolded
type PlanConfig struct {
	// Dir is the plan directory to operate on (default: ".plan")
	Dir string `mapstructure:"dir"`
	// Template is a path to a YAML scaffold template; empty uses the builtin
	Template string `mapstructure:"template"`
	// DefaultStrategy is the execution strategy for new plans
	// Options: "sequential", "parallel"
	DefaultStrategy string `mapstructure:"default_strategy"`
}

// LockConfig controls advisory lock acquisition
type LockConfig struct {
	// TimeoutMs is the bounded wait for the plan lock (in milliseconds)
	TimeoutMs int `mapstructure:"timeout_ms"`
	// CleanStale removes lock files whose owning process is gone (default: true)
	CleanStale bool `mapstructure:"clean_stale"`
}

// Timeout returns the lock timeout as a duration
func (l LockConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutMs) * time.Millisecond
}

// BackupConfig controls directory snapshots taken before batch writes
type BackupConfig struct {
	// Keep is the number of backups retained by prune (0 = keep all)
	Keep int `mapstructure:"keep"`
	// VerifyChecksums re-hashes files against the manifest on restore (default: true)
	VerifyChecksums bool `mapstructure:"verify_checksums"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled turns on logging to .logs/debug.log in the plan directory
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
}

// WatcherConfig controls the plan directory watcher
type WatcherConfig struct {
	// DebounceMs coalesces rapid event bursts (in milliseconds)
	DebounceMs int `mapstructure:"debounce_ms"`
	// IgnorePatterns are extra glob patterns excluded from change detection,
	// on top of the builtin ignores for backups, logs, locks, and temp files
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
}

// Debounce returns the watcher debounce as a duration
func (w WatcherConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// ApplyConfig controls default batch application behavior
type ApplyConfig struct {
	// ContinueOnError keeps applying remaining operations after a failure
	// instead of rolling back (default: false)
	ContinueOnError bool `mapstructure:"continue_on_error"`
	// SkipBlocked makes selective updates apply the allowed subset when some
	// operations are blocked by execution state (default: false)
	SkipBlocked bool `mapstructure:"skip_blocked"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Plan: PlanConfig{
			Dir:             ".plan",
			Template:        "",
			DefaultStrategy: "sequential",
		},
		Lock: LockConfig{
			TimeoutMs:  5000,
			CleanStale: true,
		},
		Backup: BackupConfig{
			Keep:            0,
			VerifyChecksums: true,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Watcher: WatcherConfig{
			DebounceMs:     250,
			IgnorePatterns: nil,
		},
		Apply: ApplyConfig{
			ContinueOnError: false,
			SkipBlocked:     false,
		},
	}
}

// SetDefaults registers all default values with viper
func SetDefaults() {
	defaults := Default()

	// Plan defaults
	viper.SetDefault("plan.dir", defaults.Plan.Dir)
	viper.SetDefault("plan.template", defaults.Plan.Template)
	viper.SetDefault("plan.default_strategy", defaults.Plan.DefaultStrategy)

	// Lock defaults
	viper.SetDefault("lock.timeout_ms", defaults.Lock.TimeoutMs)
	viper.SetDefault("lock.clean_stale", defaults.Lock.CleanStale)

	// Backup defaults
	viper.SetDefault("backup.keep", defaults.Backup.Keep)
	viper.SetDefault("backup.verify_checksums", defaults.Backup.VerifyChecksums)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	// Watcher defaults
	viper.SetDefault("watcher.debounce_ms", defaults.Watcher.DebounceMs)
	viper.SetDefault("watcher.ignore_patterns", defaults.Watcher.IgnorePatterns)

	// Apply defaults
	viper.SetDefault("apply.continue_on_error", defaults.Apply.ContinueOnError)
	viper.SetDefault("apply.skip_blocked", defaults.Apply.SkipBlocked)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "planforge")
	}
	// Fall back to ~/.config/planforge
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planforge"
	}
	return filepath.Join(home, ".config", "planforge")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
