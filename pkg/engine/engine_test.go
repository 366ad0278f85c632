package engine_test

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghealysr/nicole-assistant-sub000/pkg/engine"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/models"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/registry"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/storage"
)

func newEngine(t *testing.T, reg *registry.Registry, opts ...engine.Option) *engine.Engine {
	t.Helper()
	return engine.New(storage.NewMockStore(), reg, testLogger{}, opts...)
}

func mustLoad(t *testing.T, eng *engine.Engine, doc string) *models.WorkflowDefinition {
	t.Helper()
	def, err := eng.LoadDefinition([]byte(doc))
	require.NoError(t, err)
	return def
}

// Scenario: linear chain A -> B -> C, every handler succeeds.
func TestExecute_LinearSuccess(t *testing.T) {
	reg := registry.New()
	var mu sync.Mutex
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		reg.RegisterTool("tool_"+name, func(ctx context.Context, params map[string]any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return "result-" + name, nil
		})
	}
	eng := newEngine(t, reg)
	mustLoad(t, eng, `
name: linear
steps:
  - name: A
    type: tool
    tool: tool_a
  - name: B
    type: tool
    tool: tool_b
    depends_on: [A]
  - name: C
    type: tool
    tool: tool_c
    depends_on: [B]
`)

	ex, err := eng.Execute(context.Background(), "linear", "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.CompletedExecutionStatus, ex.Status)
	assert.Equal(t, []string{"a", "b", "c"}, order, "causal order")

	steps, ok := ex.Context["steps"].(map[string]any)
	require.True(t, ok)
	for _, name := range []string{"A", "B", "C"} {
		entry, ok := steps[name].(map[string]any)
		require.True(t, ok, "context.steps.%s", name)
		assert.Equal(t, "result-"+strings.ToLower(name), entry["result"])
		assert.Equal(t, models.CompletedStepStatus, ex.Step(name).Status)
	}
	require.NotNil(t, ex.CompletedAt)
}

// Scenario: A's handler always errors with max_retries 1, so A is attempted
// twice; B stays pending and the run concludes failed.
func TestExecute_BlockedDependency(t *testing.T) {
	reg := registry.New()
	var attempts atomic.Int64
	reg.RegisterTool("flaky", func(ctx context.Context, params map[string]any) (any, error) {
		attempts.Add(1)
		return nil, errors.New("upstream unavailable")
	})
	var ranB atomic.Bool
	reg.RegisterTool("never", func(ctx context.Context, params map[string]any) (any, error) {
		ranB.Store(true)
		return nil, nil
	})
	eng := newEngine(t, reg)
	mustLoad(t, eng, `
name: blocked
steps:
  - name: A
    type: tool
    tool: flaky
    max_retries: 1
  - name: B
    type: tool
    tool: never
    depends_on: [A]
`)

	ex, err := eng.Execute(context.Background(), "blocked", "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.FailedExecutionStatus, ex.Status)

	a := ex.Step("A")
	assert.Equal(t, models.FailedStepStatus, a.Status)
	assert.Equal(t, 2, a.RetryCount)
	assert.Equal(t, int64(2), attempts.Load(), "one retry means two attempts")
	assert.Contains(t, a.Error, "upstream unavailable")

	b := ex.Step("B")
	assert.Equal(t, models.PendingStepStatus, b.Status, "B never leaves pending")
	assert.False(t, ranB.Load(), "B's handler must never be invoked")

	steps := ex.Context["steps"].(map[string]any)
	assert.NotContains(t, steps, "A", "failed steps never enter the steps namespace")
}

// Scenario: a parallel step with one failing sub-step still completes with a
// partial-results map.
func TestExecute_ParallelPartialFailure(t *testing.T) {
	reg := registry.New()
	reg.RegisterTool("fetch", func(ctx context.Context, params map[string]any) (any, error) {
		return params["source"], nil
	})
	reg.RegisterTool("broken", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, errors.New("feed timed out")
	})
	eng := newEngine(t, reg)
	mustLoad(t, eng, `
name: fanout
steps:
  - name: gather
    type: parallel
    steps:
      - name: sub1
        type: tool
        tool: fetch
        params: {source: news}
      - name: sub2
        type: tool
        tool: broken
      - name: sub3
        type: tool
        tool: fetch
        params: {source: mail}
`)

	ex, err := eng.Execute(context.Background(), "fanout", "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.CompletedExecutionStatus, ex.Status)

	gather := ex.Step("gather")
	assert.Equal(t, models.CompletedStepStatus, gather.Status)
	assert.Equal(t, map[string]any{
		"sub1": "news",
		"sub2": map[string]any{"error": "feed timed out"},
		"sub3": "mail",
	}, gather.Result)
}

// An unregistered handler fails the step immediately with zero retries.
func TestExecute_UnregisteredHandler(t *testing.T) {
	eng := newEngine(t, registry.New())
	mustLoad(t, eng, `
name: missing
steps:
  - name: A
    type: tool
    tool: nonexistent
`)

	ex, err := eng.Execute(context.Background(), "missing", "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.FailedExecutionStatus, ex.Status)

	a := ex.Step("A")
	assert.Equal(t, models.FailedStepStatus, a.Status)
	assert.Equal(t, 0, a.RetryCount)
	assert.Contains(t, a.Error, `tool handler "nonexistent" is not registered`)
}

// Step results flow to dependents through the template layer.
func TestExecute_TemplateFlow(t *testing.T) {
	reg := registry.New()
	reg.RegisterTool("weather", func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{"temp": 72}, nil
	})
	var prompt string
	reg.RegisterAgent("writer", func(ctx context.Context, p string, runCtx map[string]any) (string, error) {
		prompt = p
		return "briefing ready", nil
	})
	var notified string
	eng := newEngine(t, reg, engine.WithNotifier("chat", func(ctx context.Context, message string) error {
		notified = message
		return nil
	}))
	mustLoad(t, eng, `
name: briefing
steps:
  - name: weather
    type: tool
    tool: weather
    params: {city: "{{user.city}}"}
  - name: summarize
    type: agent
    agent: writer
    prompt: "Weather: {{steps.weather.result.temp}}F for {{user.name}}"
    depends_on: [weather]
  - name: send
    type: notify
    channel: chat
    message: "{{steps.summarize.result}}"
    depends_on: [summarize]
`)

	initial := map[string]any{"user": map[string]any{"city": "Lisbon", "name": "Grace"}}
	ex, err := eng.Execute(context.Background(), "briefing", "u-1", initial)
	require.NoError(t, err)
	assert.Equal(t, models.CompletedExecutionStatus, ex.Status)
	assert.Equal(t, "Weather: 72F for Grace", prompt)
	assert.Equal(t, "briefing ready", notified)
}

// Independent steps in one ready set run concurrently.
func TestExecute_ReadySetRunsConcurrently(t *testing.T) {
	reg := registry.New()
	var inFlight, peak atomic.Int64
	slow := func(ctx context.Context, params map[string]any) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return "done", nil
	}
	reg.RegisterTool("slow", slow)
	eng := newEngine(t, reg)
	mustLoad(t, eng, `
name: wide
steps:
  - name: A
    type: tool
    tool: slow
  - name: B
    type: tool
    tool: slow
  - name: C
    type: tool
    tool: slow
`)

	ex, err := eng.Execute(context.Background(), "wide", "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.CompletedExecutionStatus, ex.Status)
	assert.Greater(t, peak.Load(), int64(1), "ready set must not run serially")
}

func TestExecute_UnknownWorkflow(t *testing.T) {
	eng := newEngine(t, registry.New())
	_, err := eng.Execute(context.Background(), "ghost", "u-1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExecute_Cancellation(t *testing.T) {
	reg := registry.New()
	reg.RegisterTool("hang", func(ctx context.Context, params map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	eng := newEngine(t, reg)
	mustLoad(t, eng, `
name: hanging
steps:
  - name: A
    type: tool
    tool: hang
    max_retries: 0
`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ex, err := eng.Execute(ctx, "hanging", "u-1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, ex)
	assert.Equal(t, models.FailedExecutionStatus, ex.Status)
}

// A dependency on a step that does not exist slips past nothing in the
// loader, but a definition registered directly can carry one; the scheduler
// must detect the stuck execution rather than spin.
func TestExecute_StuckDetection(t *testing.T) {
	eng := newEngine(t, registry.New())
	def := &models.WorkflowDefinition{
		Name: "broken",
		Steps: []models.StepDefinition{
			{
				Name:      "orphan",
				Type:      models.WaitStep,
				DependsOn: []string{"ghost"},
				Config:    models.WaitConfig{Duration: 0},
			},
		},
	}
	require.NoError(t, eng.RegisterDefinition(def))

	ex, err := eng.Execute(context.Background(), "broken", "u-1", nil)
	require.Error(t, err)
	var stuck *engine.SchedulerStuckError
	require.ErrorAs(t, err, &stuck)
	assert.Equal(t, []string{"orphan"}, stuck.Blocked)
	assert.Equal(t, models.FailedExecutionStatus, ex.Status)
}

// The executed state is persisted and retrievable through the store.
func TestExecute_PersistedAndRetrievable(t *testing.T) {
	reg := registry.New()
	reg.RegisterTool("noop", func(ctx context.Context, params map[string]any) (any, error) {
		return "ok", nil
	})
	eng := newEngine(t, reg)
	mustLoad(t, eng, `
name: persisted
steps:
  - name: A
    type: tool
    tool: noop
`)

	ex, err := eng.Execute(context.Background(), "persisted", "u-7", nil)
	require.NoError(t, err)

	fetched, err := eng.GetExecution(ex.ID)
	require.NoError(t, err)
	assert.Equal(t, ex.ID, fetched.ID)
	assert.Equal(t, "persisted", fetched.WorkflowName)
	assert.Equal(t, "u-7", fetched.UserID)
	assert.Equal(t, models.CompletedExecutionStatus, fetched.Status)
	assert.Equal(t, models.CompletedStepStatus, fetched.Step("A").Status)

	listed, err := eng.ListExecutions("u-7")
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

// Every graph that passes load-time validation terminates: random acyclic
// graphs of varying width and depth all run to completion.
func TestExecute_RandomAcyclicGraphsTerminate(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	reg := registry.New()
	reg.RegisterTool("noop", func(ctx context.Context, params map[string]any) (any, error) {
		return "ok", nil
	})

	for trial := 0; trial < 10; trial++ {
		n := 5 + rng.Intn(20)
		doc := fmt.Sprintf("name: random_%d\nsteps:\n", trial)
		for i := 0; i < n; i++ {
			doc += fmt.Sprintf("  - name: s%d\n    type: tool\n    tool: noop\n", i)
			// depend only on earlier steps, which keeps the graph acyclic
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					deps = append(deps, fmt.Sprintf("s%d", j))
				}
			}
			if len(deps) > 0 {
				doc += "    depends_on: ["
				for k, d := range deps {
					if k > 0 {
						doc += ", "
					}
					doc += d
				}
				doc += "]\n"
			}
		}

		eng := newEngine(t, reg)
		mustLoad(t, eng, doc)
		ex, err := eng.Execute(context.Background(), fmt.Sprintf("random_%d", trial), "u-1", nil)
		require.NoError(t, err)
		assert.Equal(t, models.CompletedExecutionStatus, ex.Status)
		for _, state := range ex.Steps {
			assert.Equal(t, models.CompletedStepStatus, state.Status)
		}
	}
}

// Strict template mode turns a dangling reference into a step failure
// instead of shipping the literal token downstream.
func TestExecute_StrictTemplates(t *testing.T) {
	reg := registry.New()
	var ran atomic.Bool
	reg.RegisterAgent("writer", func(ctx context.Context, prompt string, runCtx map[string]any) (string, error) {
		ran.Store(true)
		return "", nil
	})
	eng := newEngine(t, reg, engine.WithStrictTemplates())
	mustLoad(t, eng, `
name: strict
steps:
  - name: A
    type: agent
    agent: writer
    prompt: "{{steps.nothing.result}}"
    max_retries: 0
`)

	ex, err := eng.Execute(context.Background(), "strict", "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.FailedExecutionStatus, ex.Status)
	assert.Contains(t, ex.Step("A").Error, "unresolved template reference")
	assert.False(t, ran.Load(), "handler must not run with an unresolved prompt")
}
