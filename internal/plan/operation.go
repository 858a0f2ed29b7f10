package plan

import (
	"encoding/json"
	"fmt"

	"github.com/planforge/planforge/internal/errors"
)

// OpType names the kind of structural edit an operation performs.
type OpType string

const (
	OpAdd     OpType = "add"
	OpUpdate  OpType = "update"
	OpDelete  OpType = "delete"
	OpMove    OpType = "move"
	OpReorder OpType = "reorder"
)

// OpTarget names the entity class an operation touches.
type OpTarget string

const (
	TargetMetadata OpTarget = "metadata"
	TargetPhase    OpTarget = "phase"
	TargetTask     OpTarget = "task"
)

// Operation is a serializable description of one structural edit. Operations
// carry no behavior; they are decoded into a typed payload before any handler
// runs, so handlers never see raw JSON.
type Operation struct {
	Type   OpType          `json:"type"`
	Target OpTarget        `json:"target"`
	PlanID string          `json:"plan_id,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// Priority orders operations within a batch: metadata before phases before
// tasks, so a phase added in a batch exists before its tasks arrive.
func (o Operation) Priority() int {
	switch o.Target {
	case TargetMetadata:
		return 0
	case TargetPhase:
		return 1
	default:
		return 2
	}
}

func (o Operation) String() string {
	return fmt.Sprintf("%s %s", o.Type, o.Target)
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

// AddPhasePayload creates a new phase. ID is optional; when empty an id is
// derived from the name.
type AddPhasePayload struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Type         string   `json:"type,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Tasks        []Task   `json:"tasks,omitempty"`
	// After positions the new phase after the named phase id; empty appends.
	After string `json:"after,omitempty"`
}

// DeletePhasePayload removes a phase and its file.
type DeletePhasePayload struct {
	PhaseID string `json:"phase_id"`
	Force   bool   `json:"force,omitempty"`
}

// UpdatePhasePayload mutates phase metadata. Pointer fields distinguish
// "leave unchanged" from "set to zero value".
type UpdatePhasePayload struct {
	PhaseID      string    `json:"phase_id"`
	Name         *string   `json:"name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Dependencies *[]string `json:"dependencies,omitempty"`
	Status       *Status   `json:"status,omitempty"`
	Force        bool      `json:"force,omitempty"`
}

// ReorderPhasesPayload supplies the complete new phase ordering.
type ReorderPhasesPayload struct {
	Order []string `json:"order"`
}

// AddTaskPayload appends a task to a phase.
type AddTaskPayload struct {
	PhaseID string `json:"phase_id"`
	Task    Task   `json:"task"`
	// After positions the new task after the named task id; empty appends.
	After string `json:"after,omitempty"`
}

// DeleteTaskPayload removes a task from whichever phase owns it.
type DeleteTaskPayload struct {
	TaskID string `json:"task_id"`
	Force  bool   `json:"force,omitempty"`
}

// UpdateTaskPayload mutates task fields. Pointer fields distinguish "leave
// unchanged" from "set to zero value".
type UpdateTaskPayload struct {
	TaskID          string    `json:"task_id"`
	Description     *string   `json:"description,omitempty"`
	Details         *string   `json:"details,omitempty"`
	Status          *Status   `json:"status,omitempty"`
	Dependencies    *[]string `json:"dependencies,omitempty"`
	EstimatedTokens *int      `json:"estimated_tokens,omitempty"`
	Validation      *string   `json:"validation,omitempty"`
	Result          *string   `json:"result,omitempty"`
	Force           bool      `json:"force,omitempty"`
}

// MoveTaskPayload relocates a task to another phase. Position < 0 appends.
type MoveTaskPayload struct {
	TaskID   string `json:"task_id"`
	ToPhase  string `json:"to_phase"`
	Position int    `json:"position"`
}

// ReorderTasksPayload supplies the complete new task ordering for one phase.
type ReorderTasksPayload struct {
	PhaseID string   `json:"phase_id"`
	Order   []string `json:"order"`
}

// UpdateMetadataPayload mutates plan metadata and execution configuration.
type UpdateMetadataPayload struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	WorkType    *string `json:"work_type,omitempty"`
	Status      *Status `json:"status,omitempty"`

	Strategy       *string `json:"strategy,omitempty"`
	MaxConcurrency *int    `json:"max_concurrency,omitempty"`
	TokenBudget    *int    `json:"token_budget,omitempty"`
	MaxRetries     *int    `json:"max_retries,omitempty"`
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Decode validates the type/target combination and unmarshals the payload
// into its concrete type. Unknown combinations return UNKNOWN_OPERATION; a
// payload that does not parse returns INVALID_OPERATION.
func (o Operation) Decode() (any, error) {
	var payload any
	switch {
	case o.Target == TargetPhase && o.Type == OpAdd:
		payload = &AddPhasePayload{}
	case o.Target == TargetPhase && o.Type == OpDelete:
		payload = &DeletePhasePayload{}
	case o.Target == TargetPhase && o.Type == OpUpdate:
		payload = &UpdatePhasePayload{}
	case o.Target == TargetPhase && o.Type == OpReorder:
		payload = &ReorderPhasesPayload{}
	case o.Target == TargetTask && o.Type == OpAdd:
		payload = &AddTaskPayload{}
	case o.Target == TargetTask && o.Type == OpDelete:
		payload = &DeleteTaskPayload{}
	case o.Target == TargetTask && o.Type == OpUpdate:
		payload = &UpdateTaskPayload{}
	case o.Target == TargetTask && o.Type == OpMove:
		payload = &MoveTaskPayload{}
	case o.Target == TargetTask && o.Type == OpReorder:
		payload = &ReorderTasksPayload{}
	case o.Target == TargetMetadata && o.Type == OpUpdate:
		payload = &UpdateMetadataPayload{}
	default:
		return nil, errors.NewValidationErrorf(errors.CodeUnknownOperation, "",
			"no such operation: %s %s", o.Type, o.Target)
	}

	if len(o.Data) == 0 {
		return nil, errors.NewValidationErrorf(errors.CodeInvalidOperation, "data",
			"%s %s: missing payload", o.Type, o.Target)
	}
	if err := json.Unmarshal(o.Data, payload); err != nil {
		return nil, errors.NewValidationErrorf(errors.CodeInvalidOperation, "data",
			"%s %s: %v", o.Type, o.Target, err)
	}
	return payload, nil
}

// NewOperation marshals the payload and wraps it in an Operation envelope.
// It is the inverse of Decode and exists so callers building batches in code
// do not hand-write JSON.
func NewOperation(opType OpType, target OpTarget, payload any) (Operation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("encode %s %s payload: %w", opType, target, err)
	}
	return Operation{Type: opType, Target: target, Data: data}, nil
}

// MustOperation is NewOperation for payloads built from Go literals, where a
// marshal failure is a programming error.
func MustOperation(opType OpType, target OpTarget, payload any) Operation {
	op, err := NewOperation(opType, target, payload)
	if err != nil {
		panic(err)
	}
	return op
}
