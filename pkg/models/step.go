package models

import (
	"encoding/json"
	"fmt"
)

type StepType string

const (
	ToolStep      StepType = "tool"
	AgentStep     StepType = "agent"
	ConditionStep StepType = "condition"
	WaitStep      StepType = "wait"
	NotifyStep    StepType = "notify"
	ParallelStep  StepType = "parallel"
)

// DefaultMaxRetries is applied when a step definition omits max_retries.
const DefaultMaxRetries = 3

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case ToolStep, AgentStep, ConditionStep, WaitStep, NotifyStep, ParallelStep:
		return true
	}
	return false
}

// StepDefinition is one unit of work within a workflow: a fixed type, a
// type-specific config and declared dependencies on other steps.
type StepDefinition struct {
	Name       string
	Type       StepType
	DependsOn  []string
	MaxRetries int
	Config     StepConfig
}

// StepConfig is the closed set of per-type step configurations. Exactly one
// implementation exists per step type; the executor dispatches on the
// concrete type, so an unhandled variant is a compile-time visible gap
// rather than a runtime default branch.
type StepConfig interface {
	stepConfig()
}

// ToolConfig invokes a registered tool handler with templated parameters.
type ToolConfig struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// AgentConfig invokes a registered agent handler with a templated prompt.
type AgentConfig struct {
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
}

// ConditionConfig evaluates a templated string for truthiness.
type ConditionConfig struct {
	Condition string `json:"condition"`
}

// WaitConfig suspends the step for a number of seconds. Duration may be an
// integer or a templated string resolving to one.
type WaitConfig struct {
	Duration any `json:"duration"`
}

// NotifyConfig dispatches a templated message to a named channel.
type NotifyConfig struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// ParallelConfig runs ephemeral sub-steps concurrently against the same
// context snapshot.
type ParallelConfig struct {
	Steps []StepDefinition `json:"steps"`
}

func (ToolConfig) stepConfig()      {}
func (AgentConfig) stepConfig()     {}
func (ConditionConfig) stepConfig() {}
func (WaitConfig) stepConfig()      {}
func (NotifyConfig) stepConfig()    {}
func (ParallelConfig) stepConfig()  {}

type stepDefinitionJSON struct {
	Name       string          `json:"name"`
	Type       StepType        `json:"type"`
	DependsOn  []string        `json:"depends_on,omitempty"`
	MaxRetries int             `json:"max_retries"`
	Config     json.RawMessage `json:"config"`
}

// MarshalJSON flattens the sealed config variant under a "config" key so
// definitions can be persisted and served without losing the variant type.
func (s StepDefinition) MarshalJSON() ([]byte, error) {
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stepDefinitionJSON{
		Name:       s.Name,
		Type:       s.Type,
		DependsOn:  s.DependsOn,
		MaxRetries: s.MaxRetries,
		Config:     cfg,
	})
}

func (s *StepDefinition) UnmarshalJSON(data []byte) error {
	var raw stepDefinitionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Name = raw.Name
	s.Type = raw.Type
	s.DependsOn = raw.DependsOn
	s.MaxRetries = raw.MaxRetries

	var cfg StepConfig
	switch raw.Type {
	case ToolStep:
		cfg = &ToolConfig{}
	case AgentStep:
		cfg = &AgentConfig{}
	case ConditionStep:
		cfg = &ConditionConfig{}
	case WaitStep:
		cfg = &WaitConfig{}
	case NotifyStep:
		cfg = &NotifyConfig{}
	case ParallelStep:
		cfg = &ParallelConfig{}
	default:
		return fmt.Errorf("unknown step type %q for step %q", raw.Type, raw.Name)
	}
	if len(raw.Config) > 0 {
		if err := json.Unmarshal(raw.Config, cfg); err != nil {
			return fmt.Errorf("decode %s config for step %q: %w", raw.Type, raw.Name, err)
		}
	}
	switch c := cfg.(type) {
	case *ToolConfig:
		s.Config = *c
	case *AgentConfig:
		s.Config = *c
	case *ConditionConfig:
		s.Config = *c
	case *WaitConfig:
		s.Config = *c
	case *NotifyConfig:
		s.Config = *c
	case *ParallelConfig:
		s.Config = *c
	}
	return nil
}
