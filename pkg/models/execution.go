package models

import "time"

type StepStatus string

const (
	PendingStepStatus   StepStatus = "pending"
	RunningStepStatus   StepStatus = "running"
	CompletedStepStatus StepStatus = "completed"
	FailedStepStatus    StepStatus = "failed"
	// SkippedStepStatus is reserved for resume tooling that wants to mark a
	// step as intentionally not run; the scheduler itself never assigns it.
	SkippedStepStatus StepStatus = "skipped"
)

// Terminal reports whether a step in this status never changes again within
// a run.
func (s StepStatus) Terminal() bool {
	return s == CompletedStepStatus || s == FailedStepStatus || s == SkippedStepStatus
}

type ExecutionStatus string

const (
	RunningExecutionStatus   ExecutionStatus = "running"
	CompletedExecutionStatus ExecutionStatus = "completed"
	FailedExecutionStatus    ExecutionStatus = "failed"
)

// StepState is the mutable runtime record of a single step within one
// execution.
type StepState struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WorkflowExecution is one run of a workflow: per-step state plus the shared
// context map. It is the unit of resumability; the scheduler mutates it
// step by step and it is terminal once Status is completed or failed.
type WorkflowExecution struct {
	ID           string          `json:"id"`
	WorkflowName string          `json:"workflow_name"`
	UserID       string          `json:"user_id"`
	Status       ExecutionStatus `json:"status"`
	Steps        []*StepState    `json:"steps"`
	Context      map[string]any  `json:"context"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Step returns the runtime state for the named step, or nil.
func (e *WorkflowExecution) Step(name string) *StepState {
	for _, s := range e.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// NewExecution builds a fresh execution for a definition: every step
// pending, context seeded with the caller-supplied variables plus an empty
// "steps" namespace.
func NewExecution(id string, def *WorkflowDefinition, userID string, initial map[string]any) *WorkflowExecution {
	runCtx := make(map[string]any, len(initial)+1)
	for k, v := range initial {
		runCtx[k] = v
	}
	if _, ok := runCtx["steps"]; !ok {
		runCtx["steps"] = map[string]any{}
	}
	steps := make([]*StepState, len(def.Steps))
	for i, s := range def.Steps {
		steps[i] = &StepState{Name: s.Name, Status: PendingStepStatus}
	}
	return &WorkflowExecution{
		ID:           id,
		WorkflowName: def.Name,
		UserID:       userID,
		Status:       RunningExecutionStatus,
		Steps:        steps,
		Context:      runCtx,
		StartedAt:    time.Now(),
	}
}
