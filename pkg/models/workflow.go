package models

// WorkflowDefinition is a named, immutable collection of step definitions
// forming a dependency graph. Definitions are produced by the workflow loader
// and cached by name; they are never mutated after loading.
type WorkflowDefinition struct {
	Name        string           `json:"name"`               // Unique workflow name
	Schedule    string           `json:"schedule,omitempty"` // Optional cron expression
	Description string           `json:"description,omitempty"`
	Steps       []StepDefinition `json:"steps"`
}

// Step returns the step definition with the given name, or nil.
func (w *WorkflowDefinition) Step(name string) *StepDefinition {
	for i := range w.Steps {
		if w.Steps[i].Name == name {
			return &w.Steps[i]
		}
	}
	return nil
}

// Dependencies returns the depends_on relation as a map from step name to
// its prerequisite step names.
func (w *WorkflowDefinition) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(w.Steps))
	for _, s := range w.Steps {
		deps[s.Name] = append([]string(nil), s.DependsOn...)
	}
	return deps
}
