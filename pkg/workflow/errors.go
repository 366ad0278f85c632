package workflow

import "fmt"

// DefinitionError is a load-time validation failure. It names the offending
// step and field so the definition can be fixed without guessing.
type DefinitionError struct {
	Workflow string
	Step     string
	Field    string
	Reason   string
}

func (e *DefinitionError) Error() string {
	msg := "invalid workflow definition"
	if e.Workflow != "" {
		msg += fmt.Sprintf(" %q", e.Workflow)
	}
	if e.Step != "" {
		msg += fmt.Sprintf(": step %q", e.Step)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(": field %q", e.Field)
	}
	return msg + ": " + e.Reason
}
