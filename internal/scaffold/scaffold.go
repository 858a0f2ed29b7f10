// Package scaffold turns YAML plan templates into initialized plan
// directories. Templates are the human-authored form of a plan; the JSON
// documents on disk are derived from them exactly once, at init.
package scaffold

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/integrity"
	"github.com/planforge/planforge/internal/plan"
)

func toErrs(ves []*errors.ValidationError) []error {
	out := make([]error, len(ves))
	for i, ve := range ves {
		out[i] = ve
	}
	return out
}

//go:embed default.yaml
var defaultTemplate []byte

// Template is the YAML shape of a starter plan.
type Template struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	WorkType    string `yaml:"work_type,omitempty"`

	Execution struct {
		Strategy       string `yaml:"strategy,omitempty"`
		MaxConcurrency int    `yaml:"max_concurrency,omitempty"`
		TokenBudget    int    `yaml:"token_budget,omitempty"`
		MaxRetries     int    `yaml:"max_retries,omitempty"`
	} `yaml:"execution,omitempty"`

	Phases []PhaseTemplate `yaml:"phases"`
}

// PhaseTemplate describes one phase. IDs are optional; missing ones are
// derived from names.
type PhaseTemplate struct {
	ID           string         `yaml:"id,omitempty"`
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description,omitempty"`
	Type         string         `yaml:"type,omitempty"`
	Dependencies []string       `yaml:"dependencies,omitempty"`
	Tasks        []TaskTemplate `yaml:"tasks,omitempty"`
}

// TaskTemplate describes one task within a phase template.
type TaskTemplate struct {
	ID              string   `yaml:"id,omitempty"`
	Description     string   `yaml:"description"`
	Details         string   `yaml:"details,omitempty"`
	Dependencies    []string `yaml:"dependencies,omitempty"`
	EstimatedTokens int      `yaml:"estimated_tokens,omitempty"`
	Validation      string   `yaml:"validation,omitempty"`
}

// Default returns the built-in starter template.
func Default() *Template {
	t, err := Parse(defaultTemplate)
	if err != nil {
		panic(fmt.Sprintf("built-in template is invalid: %v", err))
	}
	return t
}

// Parse decodes and validates a YAML template.
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Template) validate() error {
	if t.Name == "" {
		return errors.NewValidationError(errors.CodeRequiredFieldMissing, "name", "template needs a plan name")
	}
	if len(t.Phases) == 0 {
		return errors.NewValidationError(errors.CodeRequiredFieldMissing, "phases", "template needs at least one phase")
	}
	seen := make(map[string]bool)
	for i, ph := range t.Phases {
		if ph.Name == "" {
			return errors.NewValidationErrorf(errors.CodeRequiredFieldMissing,
				fmt.Sprintf("phases[%d].name", i), "phase needs a name")
		}
		id := ph.ID
		if id == "" {
			id = plan.Slugify(ph.Name)
		}
		if seen[id] {
			return errors.NewValidationErrorf(errors.CodeIDCollision,
				fmt.Sprintf("phases[%d]", i), "duplicate phase id %q", id)
		}
		seen[id] = true
		for j, task := range ph.Tasks {
			if task.Description == "" {
				return errors.NewValidationErrorf(errors.CodeRequiredFieldMissing,
					fmt.Sprintf("phases[%d].tasks[%d].description", i, j), "task needs a description")
			}
		}
	}
	if s := t.Execution.Strategy; s != "" && s != "sequential" && s != "parallel" {
		return errors.NewValidationErrorf(errors.CodeInvalidEnumValue,
			"execution.strategy", "%q is not one of: sequential, parallel", s)
	}
	return nil
}

// Build materializes the template into an in-memory plan aggregate.
func (t *Template) Build(planID string, now time.Time) *plan.Plan {
	if planID == "" {
		planID = plan.Slugify(t.Name)
	}

	orch := plan.NewOrchestration(planID, t.Name, t.Description, now)
	orch.Metadata.WorkType = t.WorkType
	if t.Execution.Strategy != "" {
		orch.Execution.Strategy = t.Execution.Strategy
	}
	if t.Execution.MaxConcurrency > 0 {
		orch.Execution.MaxConcurrency = t.Execution.MaxConcurrency
	}
	if t.Execution.TokenBudget > 0 {
		orch.Execution.TokenBudget = t.Execution.TokenBudget
	}
	if t.Execution.MaxRetries > 0 {
		orch.Execution.MaxRetries = t.Execution.MaxRetries
	}

	p := &plan.Plan{
		Orchestration: orch,
		PhaseFiles:    make(map[string]*plan.PhaseFile, len(t.Phases)),
		State:         plan.NewExecutionState(),
	}

	for _, ph := range t.Phases {
		id := ph.ID
		if id == "" {
			id = plan.Slugify(ph.Name)
		}
		deps := ph.Dependencies
		if deps == nil {
			deps = []string{}
		}

		tasks := make([]plan.Task, len(ph.Tasks))
		for i, tt := range ph.Tasks {
			taskID := tt.ID
			if taskID == "" {
				taskID = plan.Slugify(tt.Description)
			}
			taskDeps := tt.Dependencies
			if taskDeps == nil {
				taskDeps = []string{}
			}
			tasks[i] = plan.Task{
				TaskID:          taskID,
				Description:     tt.Description,
				Details:         tt.Details,
				Status:          plan.StatusPending,
				Dependencies:    taskDeps,
				EstimatedTokens: tt.EstimatedTokens,
				Validation:      tt.Validation,
			}
		}

		orch.Phases = append(orch.Phases, plan.PhaseRef{
			ID:           id,
			Name:         ph.Name,
			File:         fmt.Sprintf("%s/%s.json", plan.PhasesDirName, id),
			Type:         ph.Type,
			Dependencies: deps,
			Status:       plan.StatusPending,
		})
		p.PhaseFiles[id] = &plan.PhaseFile{
			PhaseID:      id,
			PhaseName:    ph.Name,
			Description:  ph.Description,
			Dependencies: deps,
			Status:       plan.StatusPending,
			Tasks:        tasks,
		}
	}

	plan.SyncExecutionState(p)
	p.RecomputeProgress()
	return p
}

// Scaffold initializes the store's directory from the template. The built
// aggregate must pass integrity before anything lands on disk, so a template
// with dangling references never becomes a plan.
func Scaffold(ctx context.Context, store *plan.Store, t *Template, planID string, now time.Time) (*plan.Plan, error) {
	p := t.Build(planID, now)

	if res := integrity.Validate(p); !res.Valid {
		return nil, errors.Join(toErrs(res.Errors)...)
	}

	if err := store.Init(ctx, p.Orchestration); err != nil {
		return nil, err
	}
	if err := store.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
