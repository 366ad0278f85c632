package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ghealysr/nicole-assistant-sub000/pkg/models"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/registry"
)

// Scheduler drives one execution to a terminal status in rounds: it computes
// the ready set from the dependency graph and current step statuses,
// dispatches every ready step concurrently, waits for the round barrier,
// then repeats. Termination is guaranteed by load-time cycle validation plus
// explicit stuck detection, not by an iteration cap.
type Scheduler struct {
	executor *Executor
	logger   Logger
}

func NewScheduler(executor *Executor, logger Logger) *Scheduler {
	return &Scheduler{executor: executor, logger: logger}
}

// Run mutates ex until it reaches a terminal status. onRound, if non-nil, is
// invoked after each round barrier so the caller can persist progress. Step
// errors are captured on the step records; the returned error is reserved
// for engine faults (cancellation, stuck execution).
func (s *Scheduler) Run(ctx context.Context, def *models.WorkflowDefinition, ex *models.WorkflowExecution, onRound func()) error {
	var mu sync.Mutex
	for {
		if err := ctx.Err(); err != nil {
			s.finish(ex, models.FailedExecutionStatus)
			return errors.WithMessagef(err, "execution %s cancelled", ex.ID)
		}

		ready := readySteps(def, ex)
		if len(ready) == 0 {
			return s.conclude(ex)
		}

		snapshot := snapshotContext(ex.Context)
		var wg sync.WaitGroup
		for _, name := range ready {
			state := ex.Step(name)
			stepDef := def.Step(name)
			now := time.Now()
			state.Status = models.RunningStepStatus
			state.StartedAt = &now

			wg.Add(1)
			go func(state *models.StepState, stepDef models.StepDefinition) {
				defer wg.Done()
				result, err := s.executor.ExecuteStep(ctx, stepDef, snapshot)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					s.recordFailure(ex, state, stepDef, err)
					return
				}
				s.recordSuccess(ex, state, result)
			}(state, *stepDef)
		}
		wg.Wait()

		if onRound != nil {
			onRound()
		}
	}
}

// readySteps returns the pending steps whose every dependency has completed.
// The set is internally independent by construction, so its members may run
// concurrently within one round.
func readySteps(def *models.WorkflowDefinition, ex *models.WorkflowExecution) []string {
	var ready []string
	for _, step := range def.Steps {
		state := ex.Step(step.Name)
		if state.Status != models.PendingStepStatus {
			continue
		}
		satisfied := true
		for _, dep := range step.DependsOn {
			depState := ex.Step(dep)
			if depState == nil || depState.Status != models.CompletedStepStatus {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, step.Name)
		}
	}
	return ready
}

// snapshotContext copies the context's top level plus the steps namespace,
// so writes from this round's completions never race with reads inside
// in-flight steps. Deeper values are written once and never mutated, so
// sharing them is safe.
func snapshotContext(runCtx map[string]any) map[string]any {
	snapshot := make(map[string]any, len(runCtx))
	for k, v := range runCtx {
		snapshot[k] = v
	}
	if steps, ok := runCtx["steps"].(map[string]any); ok {
		stepsCopy := make(map[string]any, len(steps))
		for k, v := range steps {
			stepsCopy[k] = v
		}
		snapshot["steps"] = stepsCopy
	}
	return snapshot
}

func (s *Scheduler) recordSuccess(ex *models.WorkflowExecution, state *models.StepState, result any) {
	now := time.Now()
	state.Status = models.CompletedStepStatus
	state.Result = result
	state.Error = ""
	state.CompletedAt = &now

	steps, ok := ex.Context["steps"].(map[string]any)
	if !ok {
		steps = map[string]any{}
		ex.Context["steps"] = steps
	}
	steps[state.Name] = map[string]any{"result": result}
	s.logger.Infof("step %q completed", state.Name)
}

// recordFailure applies the retry policy: a missing handler fails the step
// permanently on the first attempt, anything else is retried until the
// step's max_retries budget is exhausted.
func (s *Scheduler) recordFailure(ex *models.WorkflowExecution, state *models.StepState, stepDef models.StepDefinition, err error) {
	state.Error = err.Error()

	var notFound *registry.HandlerNotFoundError
	if errors.As(err, &notFound) {
		now := time.Now()
		state.Status = models.FailedStepStatus
		state.CompletedAt = &now
		s.logger.Errorf("step %q failed permanently: %v", state.Name, err)
		return
	}

	state.RetryCount++
	if state.RetryCount <= stepDef.MaxRetries {
		state.Status = models.PendingStepStatus
		s.logger.Infof("step %q failed, will retry (%d/%d): %v", state.Name, state.RetryCount, stepDef.MaxRetries, err)
		return
	}
	now := time.Now()
	state.Status = models.FailedStepStatus
	state.CompletedAt = &now
	s.logger.Errorf("step %q failed after %d retries: %v", state.Name, stepDef.MaxRetries, err)
}

// conclude handles an empty ready set: either the run is done, or it is
// starved by a failed dependency, or the execution is provably stuck.
func (s *Scheduler) conclude(ex *models.WorkflowExecution) error {
	var pending []string
	anyFailed := false
	for _, state := range ex.Steps {
		switch state.Status {
		case models.PendingStepStatus:
			pending = append(pending, state.Name)
		case models.FailedStepStatus:
			anyFailed = true
		}
	}

	if len(pending) == 0 {
		if anyFailed {
			s.finish(ex, models.FailedExecutionStatus)
		} else {
			s.finish(ex, models.CompletedExecutionStatus)
		}
		return nil
	}
	if anyFailed {
		// Remaining steps are starved by a failed dependency; they stay
		// pending and the run concludes as failed.
		s.finish(ex, models.FailedExecutionStatus)
		return nil
	}
	s.finish(ex, models.FailedExecutionStatus)
	return &SchedulerStuckError{ExecutionID: ex.ID, Blocked: pending}
}

func (s *Scheduler) finish(ex *models.WorkflowExecution, status models.ExecutionStatus) {
	now := time.Now()
	ex.Status = status
	ex.CompletedAt = &now
	s.logger.Infof("execution %s finished with status %s", ex.ID, status)
}
