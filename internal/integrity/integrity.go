// Package integrity validates cross-document consistency of a plan: task and
// phase dependency resolution, cycle detection, and agreement between the
// orchestration phase list and the phase files on disk.
//
// Integrity runs after schema validation, so it can assume well-formed
// documents, and before policy checks, which assume a coherent dependency
// graph.
package integrity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/plan"
)

// Result collects integrity findings. Errors block an update; warnings are
// reported but do not.
type Result struct {
	Valid    bool                      `json:"valid"`
	Errors   []*errors.ValidationError `json:"errors,omitempty"`
	Warnings []*errors.ValidationError `json:"warnings,omitempty"`
}

func (r *Result) addError(e *errors.ValidationError) {
	r.Errors = append(r.Errors, e)
}

func (r *Result) addWarning(e *errors.ValidationError) {
	r.Warnings = append(r.Warnings, e)
}

// Validate runs every integrity check against the loaded plan aggregate.
func Validate(p *plan.Plan) *Result {
	res := &Result{Valid: true}

	validatePhaseReferences(p, res)
	validatePhaseDependencies(p, res)
	validateTaskDependencies(p, res)
	detectCircularTaskDependencies(p, res)

	res.Valid = len(res.Errors) == 0
	return res
}

// ---------------------------------------------------------------------------
// Phase references
// ---------------------------------------------------------------------------

// validatePhaseReferences checks the orchestration phase list against the
// loaded phase files. A listed phase whose file is missing is an error; a
// phase file nobody lists, or whose identity disagrees with its listing, is
// a warning.
func validatePhaseReferences(p *plan.Plan, res *Result) {
	listed := make(map[string]bool, len(p.Orchestration.Phases))
	for i, ref := range p.Orchestration.Phases {
		listed[ref.ID] = true

		pf, ok := p.PhaseFiles[ref.ID]
		if !ok {
			res.addError(errors.NewValidationError(
				errors.CodeMissingPhaseFile,
				fmt.Sprintf("phases[%d]", i),
				fmt.Sprintf("phase %q references file %q which does not exist", ref.ID, ref.File),
			))
			continue
		}
		if pf.PhaseID != ref.ID {
			res.addWarning(errors.NewValidationError(
				errors.CodePhaseIDMismatch,
				fmt.Sprintf("phases[%d]", i),
				fmt.Sprintf("file %q declares phase_id %q, orchestration lists %q", ref.File, pf.PhaseID, ref.ID),
			))
		}
		if pf.PhaseName != ref.Name {
			res.addWarning(errors.NewValidationError(
				errors.CodePhaseNameMismatch,
				fmt.Sprintf("phases[%d].name", i),
				fmt.Sprintf("file %q declares phase_name %q, orchestration lists %q", ref.File, pf.PhaseName, ref.Name),
			))
		}
	}

	orphans := make([]string, 0)
	for id := range p.PhaseFiles {
		if !listed[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		res.addWarning(errors.NewValidationError(
			errors.CodeOrphanedPhaseFile, "",
			fmt.Sprintf("phase file %q is not listed in the orchestration document", id),
		))
	}
}

// ---------------------------------------------------------------------------
// Phase dependencies
// ---------------------------------------------------------------------------

func validatePhaseDependencies(p *plan.Plan, res *Result) {
	ids := make(map[string]bool, len(p.Orchestration.Phases))
	for _, ref := range p.Orchestration.Phases {
		ids[ref.ID] = true
	}

	graph := make(map[string][]string, len(p.Orchestration.Phases))
	for i, ref := range p.Orchestration.Phases {
		graph[ref.ID] = ref.Dependencies
		for _, dep := range ref.Dependencies {
			if !ids[dep] {
				res.addError(errors.NewValidationError(
					errors.CodeMissingPhaseDependency,
					fmt.Sprintf("phases[%d].dependencies", i),
					fmt.Sprintf("phase %q depends on unknown phase %q", ref.ID, dep),
				))
			}
		}
	}

	if cycle := findCycle(graph); cycle != nil {
		res.addError(errors.NewValidationError(
			errors.CodeCircularDependency, "phases",
			fmt.Sprintf("circular phase dependency: %s", strings.Join(cycle, " -> ")),
		))
	}
}

// ---------------------------------------------------------------------------
// Task dependencies
// ---------------------------------------------------------------------------

// validateTaskDependencies resolves every task dependency against the full
// task id set of the plan. Dependencies may cross phase boundaries.
func validateTaskDependencies(p *plan.Plan, res *Result) {
	known := p.TaskIDSet()
	seen := make(map[string]string) // task id -> owning phase

	for _, ref := range p.Orchestration.Phases {
		pf, ok := p.PhaseFiles[ref.ID]
		if !ok {
			continue
		}
		for ti, task := range pf.Tasks {
			if owner, dup := seen[task.TaskID]; dup {
				res.addError(errors.NewValidationError(
					errors.CodeDuplicateTaskID,
					fmt.Sprintf("phases.%s.tasks[%d]", ref.ID, ti),
					fmt.Sprintf("task id %q already defined in phase %q", task.TaskID, owner),
				))
			} else {
				seen[task.TaskID] = ref.ID
			}

			for _, dep := range task.Dependencies {
				if !known[dep] {
					res.addError(errors.NewValidationError(
						errors.CodeMissingTaskDependency,
						fmt.Sprintf("phases.%s.tasks[%d].dependencies", ref.ID, ti),
						fmt.Sprintf("task %q depends on unknown task %q", task.TaskID, dep),
					))
				}
			}
		}
	}
}

func detectCircularTaskDependencies(p *plan.Plan, res *Result) {
	graph := make(map[string][]string)
	for _, pf := range p.PhaseFiles {
		for _, task := range pf.Tasks {
			graph[task.TaskID] = task.Dependencies
		}
	}

	if cycle := findCycle(graph); cycle != nil {
		res.addError(errors.NewValidationError(
			errors.CodeCircularDependency, "tasks",
			fmt.Sprintf("circular task dependency: %s", strings.Join(cycle, " -> ")),
		))
	}
}

// ---------------------------------------------------------------------------
// Cycle detection
// ---------------------------------------------------------------------------

// findCycle runs a depth-first search with an explicit recursion stack and
// returns the first cycle found as a node path ending at its start, or nil.
// Roots are visited in sorted order so the reported cycle is deterministic.
func findCycle(graph map[string][]string) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(graph))
	stack := make([]string, 0, len(graph))

	var cycle []string
	var visit func(node string) bool
	visit = func(node string) bool {
		state[node] = inStack
		stack = append(stack, node)

		for _, dep := range graph[node] {
			if _, ok := graph[dep]; !ok {
				continue // unresolved deps are reported elsewhere
			}
			switch state[dep] {
			case inStack:
				start := 0
				for i, n := range stack {
					if n == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, stack[start:]...), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[node] = done
		return false
	}

	roots := make([]string, 0, len(graph))
	for node := range graph {
		roots = append(roots, node)
	}
	sort.Strings(roots)

	for _, node := range roots {
		if state[node] == unvisited {
			if visit(node) {
				return cycle
			}
		}
	}
	return nil
}
