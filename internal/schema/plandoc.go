package schema

import "github.com/planforge/planforge/internal/plan"

// idPattern constrains plan, phase, and task identifiers: lowercase
// alphanumerics and hyphens, starting with an alphanumeric.
const idPattern = `[a-z0-9][a-z0-9-]*`

// statusEnum is the shared status value set.
var statusEnum = plan.ValidStatuses()

// OrchestrationSchema describes the orchestration.json document.
func OrchestrationSchema() *Schema {
	return &Schema{
		Type:     TypeObject,
		Required: []string{"metadata", "phases", "execution"},
		Properties: map[string]*Schema{
			"metadata": {
				Type:     TypeObject,
				Required: []string{"plan_id", "name", "status", "version"},
				Properties: map[string]*Schema{
					"plan_id":     {Type: TypeString, MinLength: intPtr(1), Pattern: idPattern},
					"name":        {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(200)},
					"description": {Type: TypeString},
					"work_type":   {Type: TypeString},
					"status":      {Type: TypeString, Enum: statusEnum},
					"version":     {Type: TypeString, MinLength: intPtr(1)},
				},
			},
			"phases": {
				Type:  TypeArray,
				Items: phaseRefSchema(),
			},
			"execution": {
				Type:     TypeObject,
				Required: []string{"strategy"},
				Properties: map[string]*Schema{
					"strategy":        {Type: TypeString, Enum: []string{"sequential", "parallel"}},
					"max_concurrency": {Type: TypeInteger, Minimum: floatPtr(0), Maximum: floatPtr(64)},
					"token_budget":    {Type: TypeInteger, Minimum: floatPtr(0)},
					"max_retries":     {Type: TypeInteger, Minimum: floatPtr(0), Maximum: floatPtr(10)},
				},
			},
			"progress": {
				Type: TypeObject,
				Properties: map[string]*Schema{
					"completed_phases": {Type: TypeInteger, Minimum: floatPtr(0)},
					"total_phases":     {Type: TypeInteger, Minimum: floatPtr(0)},
					"completed_tasks":  {Type: TypeInteger, Minimum: floatPtr(0)},
					"total_tasks":      {Type: TypeInteger, Minimum: floatPtr(0)},
					"tokens_used":      {Type: TypeInteger, Minimum: floatPtr(0)},
				},
			},
			"execution_history": {
				Type: TypeArray,
				Items: &Schema{
					Type:     TypeObject,
					Required: []string{"id", "timestamp", "reason"},
					Properties: map[string]*Schema{
						"id":     {Type: TypeString, MinLength: intPtr(1)},
						"reason": {Type: TypeString, MinLength: intPtr(1)},
					},
				},
			},
		},
	}
}

// phaseRefSchema describes one entry of the orchestration phase list.
func phaseRefSchema() *Schema {
	return &Schema{
		Type:     TypeObject,
		Required: []string{"id", "name", "file", "dependencies", "status"},
		Properties: map[string]*Schema{
			"id":                 {Type: TypeString, MinLength: intPtr(1), Pattern: idPattern},
			"name":               {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(200)},
			"file":               {Type: TypeString, MinLength: intPtr(1)},
			"type":               {Type: TypeString},
			"dependencies":       {Type: TypeArray, Items: &Schema{Type: TypeString, MinLength: intPtr(1)}},
			"status":             {Type: TypeString, Enum: statusEnum},
			"estimated_tokens":   {Type: TypeInteger, Minimum: floatPtr(0)},
			"estimated_duration": {Type: TypeString},
		},
	}
}

// PhaseFileSchema describes a phases/<phase-id>.json document.
func PhaseFileSchema() *Schema {
	return &Schema{
		Type:     TypeObject,
		Required: []string{"phase_id", "phase_name", "dependencies", "status", "tasks"},
		Properties: map[string]*Schema{
			"phase_id":     {Type: TypeString, MinLength: intPtr(1), Pattern: idPattern},
			"phase_name":   {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(200)},
			"description":  {Type: TypeString},
			"dependencies": {Type: TypeArray, Items: &Schema{Type: TypeString, MinLength: intPtr(1)}},
			"status":       {Type: TypeString, Enum: statusEnum},
			"tasks":        {Type: TypeArray, Items: TaskSchema()},
		},
	}
}

// TaskSchema describes one task object within a phase file.
func TaskSchema() *Schema {
	return &Schema{
		Type:     TypeObject,
		Required: []string{"task_id", "description", "status", "dependencies"},
		Properties: map[string]*Schema{
			"task_id":          {Type: TypeString, MinLength: intPtr(1), Pattern: idPattern},
			"description":      {Type: TypeString, MinLength: intPtr(1)},
			"details":          {Type: TypeString},
			"status":           {Type: TypeString, Enum: statusEnum},
			"dependencies":     {Type: TypeArray, Items: &Schema{Type: TypeString, MinLength: intPtr(1)}},
			"from_requirement": {Type: TypeString},
			"estimated_tokens": {Type: TypeInteger, Minimum: floatPtr(0)},
			"validation":       {Type: TypeString},
			"result":           {Type: TypeString},
		},
	}
}

// ExecutionStateSchema describes the execution-state.json document.
func ExecutionStateSchema() *Schema {
	return &Schema{
		Type:     TypeObject,
		Required: []string{"phaseStatuses", "taskStatuses"},
		Properties: map[string]*Schema{
			"currentPhase":  {Type: TypeString},
			"phaseStatuses": {Type: TypeObject},
			"taskStatuses":  {Type: TypeObject},
			"errors": {
				Type: TypeArray,
				Items: &Schema{
					Type:     TypeObject,
					Required: []string{"timestamp", "message"},
					Properties: map[string]*Schema{
						"message": {Type: TypeString, MinLength: intPtr(1)},
					},
				},
			},
		},
	}
}

// ValidatePlanDocuments runs the built-in schemas over every document of a
// loaded plan aggregate, prefixing error paths with the document name.
func ValidatePlanDocuments(p *plan.Plan) *Result {
	combined := &Result{Valid: true}

	merge := func(prefix string, r *Result) {
		for _, e := range r.Errors {
			if e.Path == "" {
				e.Path = prefix
			} else {
				e.Path = prefix + "." + e.Path
			}
			combined.Errors = append(combined.Errors, e)
		}
	}

	merge("orchestration", ValidateDocument(p.Orchestration, OrchestrationSchema()))
	for _, ref := range p.Orchestration.Phases {
		pf, ok := p.PhaseFiles[ref.ID]
		if !ok {
			continue // reported by the integrity validator
		}
		merge("phases."+ref.ID, ValidateDocument(pf, PhaseFileSchema()))
	}
	if p.State != nil {
		merge("execution-state", ValidateDocument(p.State, ExecutionStateSchema()))
	}

	combined.Valid = len(combined.Errors) == 0
	return combined
}
