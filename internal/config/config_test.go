package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Plan.Dir != ".plan" {
		t.Errorf("Plan.Dir = %q, want %q", cfg.Plan.Dir, ".plan")
	}
	if cfg.Plan.DefaultStrategy != "sequential" {
		t.Errorf("Plan.DefaultStrategy = %q, want %q", cfg.Plan.DefaultStrategy, "sequential")
	}

	if cfg.Lock.TimeoutMs != 5000 {
		t.Errorf("Lock.TimeoutMs = %d, want 5000", cfg.Lock.TimeoutMs)
	}
	if !cfg.Lock.CleanStale {
		t.Error("Lock.CleanStale should be true by default")
	}

	if cfg.Backup.Keep != 0 {
		t.Errorf("Backup.Keep = %d, want 0", cfg.Backup.Keep)
	}
	if !cfg.Backup.VerifyChecksums {
		t.Error("Backup.VerifyChecksums should be true by default")
	}

	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}

	if cfg.Watcher.DebounceMs != 250 {
		t.Errorf("Watcher.DebounceMs = %d, want 250", cfg.Watcher.DebounceMs)
	}

	if cfg.Apply.ContinueOnError {
		t.Error("Apply.ContinueOnError should be false by default")
	}
	if cfg.Apply.SkipBlocked {
		t.Error("Apply.SkipBlocked should be false by default")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("Default() config should validate cleanly, got: %v", ValidationErrors(errs))
	}
}

func TestLockConfig_Timeout(t *testing.T) {
	tests := []struct {
		ms       int
		expected time.Duration
	}{
		{5000, 5 * time.Second},
		{750, 750 * time.Millisecond},
		{0, 0},
	}

	for _, tt := range tests {
		cfg := LockConfig{TimeoutMs: tt.ms}
		result := cfg.Timeout()
		if result != tt.expected {
			t.Errorf("Timeout() with %dms = %v, want %v", tt.ms, result, tt.expected)
		}
	}
}

func TestWatcherConfig_Debounce(t *testing.T) {
	cfg := WatcherConfig{DebounceMs: 250}
	if got := cfg.Debounce(); got != 250*time.Millisecond {
		t.Errorf("Debounce() = %v, want 250ms", got)
	}
}

func TestSetDefaultsAndLoad(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Plan.Dir != ".plan" {
		t.Errorf("Plan.Dir = %q, want %q", cfg.Plan.Dir, ".plan")
	}
	if cfg.Lock.Timeout() != 5*time.Second {
		t.Errorf("Lock.Timeout() = %v, want 5s", cfg.Lock.Timeout())
	}
	if cfg.Watcher.Debounce() != 250*time.Millisecond {
		t.Errorf("Watcher.Debounce() = %v, want 250ms", cfg.Watcher.Debounce())
	}
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	content := []byte(`
plan:
  dir: docs/plan
lock:
  timeout_ms: 750
logging:
  level: debug
watcher:
  ignore_patterns:
    - "*.swp"
`)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	SetDefaults()
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Plan.Dir != "docs/plan" {
		t.Errorf("Plan.Dir = %q, want %q", cfg.Plan.Dir, "docs/plan")
	}
	if cfg.Lock.Timeout() != 750*time.Millisecond {
		t.Errorf("Lock.Timeout() = %v, want 750ms", cfg.Lock.Timeout())
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	// Defaults still apply for untouched sections
	if !cfg.Backup.VerifyChecksums {
		t.Error("Backup.VerifyChecksums should keep its default")
	}
	if len(cfg.Watcher.IgnorePatterns) != 1 || cfg.Watcher.IgnorePatterns[0] != "*.swp" {
		t.Errorf("Watcher.IgnorePatterns = %v, want [*.swp]", cfg.Watcher.IgnorePatterns)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("logging.level", "trace")
	viper.Set("lock.timeout_ms", -1)

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject an invalid config")
	}
}

func TestGetFallsBackToDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("logging.level", "nope")

	cfg := Get()
	if cfg.Logging.Level != "info" {
		t.Errorf("Get() should fall back to defaults, got level %q", cfg.Logging.Level)
	}
}

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := ConfigDir(); got != filepath.Join("/tmp/xdg", "planforge") {
		t.Errorf("ConfigDir() = %q, want xdg path", got)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	if got := ConfigDir(); got != filepath.Join(home, ".config", "planforge") {
		t.Errorf("ConfigDir() = %q, want ~/.config/planforge", got)
	}
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	want := filepath.Join("/tmp/xdg", "planforge", "config.yaml")
	if got := ConfigFile(); got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
}
