// Package workflow loads and validates YAML workflow definitions.
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ghealysr/nicole-assistant-sub000/pkg/models"
)

type rawWorkflow struct {
	Name        string    `yaml:"name"`
	Schedule    string    `yaml:"schedule"`
	Description string    `yaml:"description"`
	Steps       []rawStep `yaml:"steps"`
}

type rawStep struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	DependsOn  []string       `yaml:"depends_on"`
	MaxRetries *int           `yaml:"max_retries"`
	Rest       map[string]any `yaml:",inline"`
}

// LoadFile reads and validates a workflow definition from a YAML file.
func LoadFile(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Load parses a YAML document into a validated WorkflowDefinition. Any
// structural violation fails the load with a DefinitionError; no partial
// definition is ever returned.
func Load(data []byte) (*models.WorkflowDefinition, error) {
	var raw rawWorkflow
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &DefinitionError{Reason: fmt.Sprintf("not valid YAML: %v", err)}
	}

	if raw.Name == "" {
		return nil, &DefinitionError{Field: "name", Reason: "required field is missing"}
	}
	if len(raw.Steps) == 0 {
		return nil, &DefinitionError{Workflow: raw.Name, Field: "steps", Reason: "required field is missing or empty"}
	}

	def := &models.WorkflowDefinition{
		Name:        raw.Name,
		Schedule:    raw.Schedule,
		Description: raw.Description,
		Steps:       make([]models.StepDefinition, 0, len(raw.Steps)),
	}

	seen := make(map[string]struct{}, len(raw.Steps))
	for _, rs := range raw.Steps {
		step, err := buildStep(raw.Name, rs, false)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[step.Name]; dup {
			return nil, &DefinitionError{Workflow: raw.Name, Step: step.Name, Field: "name", Reason: "duplicate step name"}
		}
		seen[step.Name] = struct{}{}
		def.Steps = append(def.Steps, step)
	}

	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := seen[dep]; !ok {
				return nil, &DefinitionError{
					Workflow: raw.Name,
					Step:     step.Name,
					Field:    "depends_on",
					Reason:   fmt.Sprintf("references unknown step %q", dep),
				}
			}
		}
	}

	if err := checkAcyclic(def); err != nil {
		return nil, err
	}
	return def, nil
}

func buildStep(workflowName string, rs rawStep, nested bool) (models.StepDefinition, error) {
	if rs.Name == "" {
		return models.StepDefinition{}, &DefinitionError{Workflow: workflowName, Field: "name", Reason: "step is missing a name"}
	}
	stepType := models.StepType(rs.Type)
	if !stepType.Valid() {
		return models.StepDefinition{}, &DefinitionError{
			Workflow: workflowName,
			Step:     rs.Name,
			Field:    "type",
			Reason:   fmt.Sprintf("unknown step type %q", rs.Type),
		}
	}
	if nested && len(rs.DependsOn) > 0 {
		return models.StepDefinition{}, &DefinitionError{
			Workflow: workflowName,
			Step:     rs.Name,
			Field:    "depends_on",
			Reason:   "parallel sub-steps run together and cannot declare dependencies",
		}
	}

	maxRetries := models.DefaultMaxRetries
	if rs.MaxRetries != nil {
		if *rs.MaxRetries < 0 {
			return models.StepDefinition{}, &DefinitionError{
				Workflow: workflowName,
				Step:     rs.Name,
				Field:    "max_retries",
				Reason:   "must not be negative",
			}
		}
		maxRetries = *rs.MaxRetries
	}

	cfg, err := buildConfig(workflowName, rs, stepType)
	if err != nil {
		return models.StepDefinition{}, err
	}
	return models.StepDefinition{
		Name:       rs.Name,
		Type:       stepType,
		DependsOn:  rs.DependsOn,
		MaxRetries: maxRetries,
		Config:     cfg,
	}, nil
}

func buildConfig(workflowName string, rs rawStep, stepType models.StepType) (models.StepConfig, error) {
	fieldErr := func(field, reason string) error {
		return &DefinitionError{Workflow: workflowName, Step: rs.Name, Field: field, Reason: reason}
	}

	switch stepType {
	case models.ToolStep:
		tool, ok := asString(rs.Rest["tool"])
		if !ok {
			return nil, fieldErr("tool", "required for tool steps")
		}
		params, err := asParams(rs.Rest["params"])
		if err != nil {
			return nil, fieldErr("params", err.Error())
		}
		return models.ToolConfig{Tool: tool, Params: params}, nil

	case models.AgentStep:
		agent, ok := asString(rs.Rest["agent"])
		if !ok {
			return nil, fieldErr("agent", "required for agent steps")
		}
		prompt, ok := asString(rs.Rest["prompt"])
		if !ok {
			return nil, fieldErr("prompt", "required for agent steps")
		}
		return models.AgentConfig{Agent: agent, Prompt: prompt}, nil

	case models.ConditionStep:
		cond, ok := asString(rs.Rest["condition"])
		if !ok {
			return nil, fieldErr("condition", "required for condition steps")
		}
		return models.ConditionConfig{Condition: cond}, nil

	case models.WaitStep:
		duration, ok := rs.Rest["duration"]
		if !ok {
			return nil, fieldErr("duration", "required for wait steps")
		}
		switch duration.(type) {
		case int, string:
		default:
			return nil, fieldErr("duration", "must be an integer or a templated string")
		}
		return models.WaitConfig{Duration: duration}, nil

	case models.NotifyStep:
		message, ok := asString(rs.Rest["message"])
		if !ok {
			return nil, fieldErr("message", "required for notify steps")
		}
		channel, _ := asString(rs.Rest["channel"])
		if channel == "" {
			channel = "log"
		}
		return models.NotifyConfig{Channel: channel, Message: message}, nil

	case models.ParallelStep:
		entries, ok := rs.Rest["steps"].([]any)
		if !ok || len(entries) == 0 {
			return nil, fieldErr("steps", "required for parallel steps")
		}
		subs := make([]models.StepDefinition, 0, len(entries))
		seen := make(map[string]struct{}, len(entries))
		for _, entry := range entries {
			sub, err := asRawStep(entry)
			if err != nil {
				return nil, fieldErr("steps", err.Error())
			}
			built, err := buildStep(workflowName, sub, true)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[built.Name]; dup {
				return nil, &DefinitionError{
					Workflow: workflowName,
					Step:     built.Name,
					Field:    "name",
					Reason:   "duplicate sub-step name",
				}
			}
			seen[built.Name] = struct{}{}
			subs = append(subs, built)
		}
		return models.ParallelConfig{Steps: subs}, nil
	}
	// stepType.Valid() was checked by the caller.
	return nil, fieldErr("type", fmt.Sprintf("unknown step type %q", stepType))
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

func asParams(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("must be a mapping, got %T", v)
	}
	return m, nil
}

func asRawStep(entry any) (rawStep, error) {
	m, ok := entry.(map[string]any)
	if !ok {
		return rawStep{}, fmt.Errorf("sub-step must be a mapping, got %T", entry)
	}
	rs := rawStep{Rest: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case "name":
			rs.Name, _ = v.(string)
		case "type":
			rs.Type, _ = v.(string)
		case "depends_on":
			if deps, ok := v.([]any); ok {
				for _, d := range deps {
					if s, ok := d.(string); ok {
						rs.DependsOn = append(rs.DependsOn, s)
					}
				}
			}
		case "max_retries":
			if n, ok := v.(int); ok {
				rs.MaxRetries = &n
			}
		default:
			rs.Rest[k] = v
		}
	}
	return rs, nil
}

// checkAcyclic runs Kahn's algorithm over the depends_on relation; if the
// sort cannot consume every step, the remainder forms a cycle.
func checkAcyclic(def *models.WorkflowDefinition) error {
	inDegree := make(map[string]int, len(def.Steps))
	dependents := make(map[string][]string, len(def.Steps))
	for _, step := range def.Steps {
		inDegree[step.Name] += 0
		for _, dep := range step.DependsOn {
			inDegree[step.Name]++
			dependents[dep] = append(dependents[dep], step.Name)
		}
	}

	var queue []string
	for _, step := range def.Steps {
		if inDegree[step.Name] == 0 {
			queue = append(queue, step.Name)
		}
	}

	sorted := 0
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		sorted++
		for _, next := range dependents[curr] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if sorted != len(def.Steps) {
		var cyclic []string
		for name, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		return &DefinitionError{
			Workflow: def.Name,
			Field:    "depends_on",
			Reason:   fmt.Sprintf("dependency cycle involving steps %v", cyclic),
		}
	}
	return nil
}
