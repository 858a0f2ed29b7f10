package plan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/logging"
)

// Store persists one plan directory. All document writes are atomic at the
// file level; cross-file consistency for batches is the orchestrator's job
// (via directory backups), not the store's.
//
// The store's mutex serializes writes within this process only. Cross-process
// mutual exclusion is handled by the advisory plan lock (see lock.go).
type Store struct {
	dir    string
	logger *logging.Logger
	mu     sync.RWMutex
}

// NewStore creates a Store for the plan directory at dir.
// The directory does not need to exist yet; use Init to create a plan.
func NewStore(dir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the plan directory this store operates on.
func (s *Store) Dir() string {
	return s.dir
}

// Exists reports whether the directory contains a plan (an orchestration
// document is present).
func (s *Store) Exists() bool {
	return FileExists(filepath.Join(s.dir, OrchestrationFileName))
}

// Init creates a new plan directory with an orchestration document, an empty
// execution state, and an empty phases directory. Returns
// errors.ErrPlanExists if the directory already holds a plan.
func (s *Store) Init(ctx context.Context, orch *Orchestration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Exists() {
		return errors.NewExecutionError(errors.CodePlanAlreadyExists, s.dir, errors.ErrPlanExists)
	}

	if err := os.MkdirAll(filepath.Join(s.dir, PhasesDirName), 0755); err != nil {
		return fmt.Errorf("failed to create plan directory: %w", err)
	}

	if err := WriteJSON(filepath.Join(s.dir, OrchestrationFileName), orch); err != nil {
		return err
	}
	if err := WriteJSON(filepath.Join(s.dir, ExecutionStateFileName), NewExecutionState()); err != nil {
		return err
	}

	s.logger.Info("plan initialized",
		"plan_id", orch.Metadata.PlanID,
		"dir", s.dir,
	)
	return nil
}

// LoadOrchestration reads the orchestration document.
func (s *Store) LoadOrchestration(ctx context.Context) (*Orchestration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orch Orchestration
	if err := ReadJSON(filepath.Join(s.dir, OrchestrationFileName), &orch); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", errors.ErrPlanNotFound, s.dir)
		}
		if errors.Is(err, errors.ErrPlanCorrupted) {
			return nil, errors.NewExecutionError(errors.CodeDocumentCorrupted, OrchestrationFileName, err)
		}
		return nil, err
	}
	return &orch, nil
}

// SaveOrchestration writes the orchestration document atomically.
func (s *Store) SaveOrchestration(ctx context.Context, orch *Orchestration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return WriteJSON(filepath.Join(s.dir, OrchestrationFileName), orch)
}

// LoadPhase reads the phase file for the given phase id.
func (s *Store) LoadPhase(ctx context.Context, phaseID string) (*PhaseFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pf PhaseFile
	path := filepath.Join(s.dir, PhasesDirName, phaseID+".json")
	if err := ReadJSON(path, &pf); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", errors.ErrPhaseNotFound, phaseID)
		}
		if errors.Is(err, errors.ErrPlanCorrupted) {
			return nil, errors.NewExecutionError(errors.CodeDocumentCorrupted, phaseID+".json", err)
		}
		return nil, err
	}
	return &pf, nil
}

// SavePhase writes the phase file for pf.PhaseID atomically.
func (s *Store) SavePhase(ctx context.Context, pf *PhaseFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, PhasesDirName, pf.PhaseID+".json")
	return WriteJSON(path, pf)
}

// DeletePhaseFile removes the phase file for the given phase id.
func (s *Store) DeletePhaseFile(ctx context.Context, phaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, PhasesDirName, phaseID+".json")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", errors.ErrPhaseNotFound, phaseID)
		}
		return fmt.Errorf("failed to delete phase file: %w", err)
	}
	return nil
}

// ListPhaseFiles returns the phase ids of every file in the phases directory,
// including orphans that no orchestration entry references.
func (s *Store) ListPhaseFiles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, PhasesDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read phases directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// LoadExecutionState reads the execution-state document. A missing document
// is returned as an empty state rather than an error: a plan that has never
// run simply has nothing recorded yet.
func (s *Store) LoadExecutionState(ctx context.Context) (*ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st ExecutionState
	if err := ReadJSON(filepath.Join(s.dir, ExecutionStateFileName), &st); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return NewExecutionState(), nil
		}
		return nil, err
	}
	if st.PhaseStatuses == nil {
		st.PhaseStatuses = make(map[string]Status)
	}
	if st.TaskStatuses == nil {
		st.TaskStatuses = make(map[string]Status)
	}
	return &st, nil
}

// SaveExecutionState writes the execution-state document atomically.
func (s *Store) SaveExecutionState(ctx context.Context, st *ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return WriteJSON(filepath.Join(s.dir, ExecutionStateFileName), st)
}

// Load reads the whole plan aggregate: the orchestration document, every
// referenced phase file that exists, and the execution state. Missing phase
// files are not an error here; the integrity validator reports them.
func (s *Store) Load(ctx context.Context) (*Plan, error) {
	orch, err := s.LoadOrchestration(ctx)
	if err != nil {
		return nil, err
	}

	phaseFiles := make(map[string]*PhaseFile, len(orch.Phases))
	for _, ref := range orch.Phases {
		pf, err := s.LoadPhase(ctx, ref.ID)
		if err != nil {
			if errors.Is(err, errors.ErrPhaseNotFound) {
				continue
			}
			return nil, err
		}
		phaseFiles[ref.ID] = pf
	}

	st, err := s.LoadExecutionState(ctx)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Dir:           s.dir,
		Orchestration: orch,
		PhaseFiles:    phaseFiles,
		State:         st,
	}, nil
}

// Save writes the whole plan aggregate back to disk: orchestration, every
// phase file in the aggregate, and the execution state. Phase files on disk
// that are no longer in the aggregate are removed.
func (s *Store) Save(ctx context.Context, p *Plan) error {
	if err := s.SaveOrchestration(ctx, p.Orchestration); err != nil {
		return err
	}
	for _, pf := range p.PhaseFiles {
		if err := s.SavePhase(ctx, pf); err != nil {
			return err
		}
	}

	onDisk, err := s.ListPhaseFiles(ctx)
	if err != nil {
		return err
	}
	for _, id := range onDisk {
		if _, ok := p.PhaseFiles[id]; !ok {
			if err := s.DeletePhaseFile(ctx, id); err != nil && !errors.Is(err, errors.ErrPhaseNotFound) {
				return err
			}
		}
	}

	return s.SaveExecutionState(ctx, p.State)
}

// SyncExecutionState reconciles the execution-state document with the plan's
// current phase and task set: entries are added as pending for new ids and
// removed for ids that no longer exist. Existing statuses are preserved.
// The state document itself is never the target of structural edits; this
// reconciliation is the only way its key set changes.
func SyncExecutionState(p *Plan) {
	if p.State == nil {
		p.State = NewExecutionState()
	}

	phaseSet := make(map[string]bool, len(p.Orchestration.Phases))
	for _, ref := range p.Orchestration.Phases {
		phaseSet[ref.ID] = true
		if _, ok := p.State.PhaseStatuses[ref.ID]; !ok {
			p.State.PhaseStatuses[ref.ID] = StatusPending
		}
	}
	for id := range p.State.PhaseStatuses {
		if !phaseSet[id] {
			delete(p.State.PhaseStatuses, id)
		}
	}

	taskSet := p.TaskIDSet()
	for id := range taskSet {
		if _, ok := p.State.TaskStatuses[id]; !ok {
			p.State.TaskStatuses[id] = StatusPending
		}
	}
	for id := range p.State.TaskStatuses {
		if !taskSet[id] {
			delete(p.State.TaskStatuses, id)
		}
	}

	if p.State.CurrentPhase != "" && !phaseSet[p.State.CurrentPhase] {
		p.State.CurrentPhase = ""
	}
}

// NewOrchestration builds an orchestration document with sensible defaults
// for a freshly created plan.
func NewOrchestration(planID, name, description string, now time.Time) *Orchestration {
	return &Orchestration{
		Metadata: Metadata{
			PlanID:      planID,
			Name:        name,
			Description: description,
			Status:      StatusPending,
			Version:     "1.0.0",
			CreatedAt:   now.UTC(),
			ModifiedAt:  now.UTC(),
		},
		Phases: make([]PhaseRef, 0),
		Execution: ExecutionConfig{
			Strategy:       "sequential",
			MaxConcurrency: 1,
			MaxRetries:     2,
		},
		ExecutionHistory: make([]HistoryEntry, 0),
	}
}
