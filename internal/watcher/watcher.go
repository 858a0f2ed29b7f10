// Package watcher observes a plan directory for external changes and
// delivers freshly re-read aggregates to a callback. Observers are passive:
// they take no lock and always re-read rather than cache, so a transiently
// in-progress write is resolved by the next event.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/planforge/planforge/internal/logging"
	"github.com/planforge/planforge/internal/plan"
)

// DefaultDebounce coalesces the event bursts an atomic multi-file save
// produces into one reload.
const DefaultDebounce = 250 * time.Millisecond

// defaultIgnores are path patterns (relative to the plan directory) that
// never trigger a reload: our own bookkeeping and temp files.
var defaultIgnores = []string{
	plan.BackupsDirName + "/**",
	plan.LogsBackupDirName + "/**",
	logging.LogDirName + "/**",
	plan.LockFileName,
	".tmp-*",
	"**/.tmp-*",
}

// Handler receives the re-read plan after a change settles. A nil plan with
// a non-nil error means the reload failed (for example mid-rewrite).
type Handler func(p *plan.Plan, err error)

// Watcher tails one plan directory.
type Watcher struct {
	store    *plan.Store
	logger   *logging.Logger
	debounce time.Duration
	ignores  []glob.Glob

	fsw *fsnotify.Watcher
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the settle window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithIgnorePatterns adds glob patterns (relative to the plan directory)
// whose events are dropped.
func WithIgnorePatterns(patterns ...string) Option {
	return func(w *Watcher) {
		for _, p := range patterns {
			if g, err := glob.Compile(p, '/'); err == nil {
				w.ignores = append(w.ignores, g)
			} else {
				w.logger.Warn("ignoring unparseable watch pattern", "pattern", p, "error", err)
			}
		}
	}
}

// New creates a watcher over the store's plan directory.
func New(store *plan.Store, logger *logging.Logger, opts ...Option) (*Watcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	w := &Watcher{
		store:    store,
		logger:   logger,
		debounce: DefaultDebounce,
	}
	WithIgnorePatterns(defaultIgnores...)(w)
	for _, opt := range opts {
		opt(w)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.fsw = fsw
	return w, nil
}

// Run watches until the context is cancelled, invoking handler after each
// settled burst of changes. fsnotify only watches directories reliably, so
// both the plan root and the phases directory are registered.
func (w *Watcher) Run(ctx context.Context, handler Handler) error {
	defer w.fsw.Close()

	dir := w.store.Dir()
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	phasesDir := filepath.Join(dir, plan.PhasesDirName)
	if plan.DirExists(phasesDir) {
		if err := w.fsw.Add(phasesDir); err != nil {
			return err
		}
	}
	w.logger.Info("watching plan directory", "dir", dir)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.ignored(event.Name) {
				continue
			}
			w.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			p, err := w.store.Load(ctx)
			if err != nil {
				w.logger.Warn("reload failed after change", "error", err)
			}
			handler(p, err)
		}
	}
}

// ignored reports whether a changed path matches an ignore pattern.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.store.Dir(), path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return true
	}
	for _, g := range w.ignores {
		if g.Match(rel) {
			return true
		}
	}
	return false
}
