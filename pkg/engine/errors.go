package engine

import (
	"fmt"
	"sort"
	"strings"
)

// SchedulerStuckError reports an execution where no step is runnable, none
// has failed, yet pending steps remain. Load-time cycle validation makes
// this unreachable for valid definitions; an occurrence is an internal
// consistency bug, not a workflow failure.
type SchedulerStuckError struct {
	ExecutionID string
	Blocked     []string
}

func (e *SchedulerStuckError) Error() string {
	blocked := append([]string(nil), e.Blocked...)
	sort.Strings(blocked)
	return fmt.Sprintf("execution %s is stuck: steps [%s] are blocked with no failed dependency",
		e.ExecutionID, strings.Join(blocked, ", "))
}
