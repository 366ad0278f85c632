package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ghealysr/nicole-assistant-sub000/pkg/models"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/registry"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/template"
)

// Logger defines the logging interface the engine components depend on.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Notifier delivers a notify step's message on one channel.
type Notifier func(ctx context.Context, message string) error

// Executor runs a single step: it materializes the step's config against the
// execution context via the template resolver, then dispatches on the sealed
// config type. Handler errors are returned, never propagated as panics; the
// scheduler owns the retry-or-fail decision.
type Executor struct {
	registry  *registry.Registry
	resolver  *template.Resolver
	notifiers map[string]Notifier
	logger    Logger
}

func NewExecutor(reg *registry.Registry, resolver *template.Resolver, logger Logger) *Executor {
	e := &Executor{
		registry:  reg,
		resolver:  resolver,
		notifiers: make(map[string]Notifier),
		logger:    logger,
	}
	e.notifiers["log"] = func(_ context.Context, message string) error {
		logger.Infof("notification: %s", message)
		return nil
	}
	return e
}

// RegisterNotifier adds a collaborator-provided notify channel.
func (e *Executor) RegisterNotifier(channel string, fn Notifier) {
	e.notifiers[channel] = fn
}

// ExecuteStep runs one step against a context snapshot and returns its
// result.
func (e *Executor) ExecuteStep(ctx context.Context, step models.StepDefinition, runCtx map[string]any) (any, error) {
	switch cfg := step.Config.(type) {
	case models.ToolConfig:
		return e.runTool(ctx, cfg, runCtx)
	case models.AgentConfig:
		return e.runAgent(ctx, cfg, runCtx)
	case models.ConditionConfig:
		return e.runCondition(cfg, runCtx)
	case models.WaitConfig:
		return e.runWait(ctx, cfg, runCtx)
	case models.NotifyConfig:
		return e.runNotify(ctx, cfg, runCtx)
	case models.ParallelConfig:
		return e.runParallel(ctx, cfg, runCtx)
	}
	return nil, errors.Errorf("step %q has no config", step.Name)
}

func (e *Executor) runTool(ctx context.Context, cfg models.ToolConfig, runCtx map[string]any) (any, error) {
	resolved, err := e.resolver.Resolve(cfg.Params, runCtx)
	if err != nil {
		return nil, errors.WithMessage(err, "resolve params")
	}
	params, _ := resolved.(map[string]any)
	fn, err := e.registry.Tool(cfg.Tool)
	if err != nil {
		return nil, err
	}
	return fn(ctx, params)
}

func (e *Executor) runAgent(ctx context.Context, cfg models.AgentConfig, runCtx map[string]any) (any, error) {
	prompt, err := e.resolver.ResolveString(cfg.Prompt, runCtx)
	if err != nil {
		return nil, errors.WithMessage(err, "resolve prompt")
	}
	fn, err := e.registry.Agent(cfg.Agent)
	if err != nil {
		return nil, err
	}
	return fn(ctx, prompt, runCtx)
}

func (e *Executor) runCondition(cfg models.ConditionConfig, runCtx map[string]any) (any, error) {
	resolved, err := e.resolver.ResolveString(cfg.Condition, runCtx)
	if err != nil {
		return nil, errors.WithMessage(err, "resolve condition")
	}
	return truthy(resolved), nil
}

func (e *Executor) runWait(ctx context.Context, cfg models.WaitConfig, runCtx map[string]any) (any, error) {
	seconds, err := e.waitSeconds(cfg, runCtx)
	if err != nil {
		return nil, err
	}
	select {
	case <-time.After(time.Duration(seconds) * time.Second):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return fmt.Sprintf("waited %d seconds", seconds), nil
}

func (e *Executor) waitSeconds(cfg models.WaitConfig, runCtx map[string]any) (int, error) {
	switch d := cfg.Duration.(type) {
	case int:
		return d, nil
	case float64:
		// definitions reloaded from JSON carry numbers as float64
		return int(d), nil
	case string:
		resolved, err := e.resolver.ResolveString(d, runCtx)
		if err != nil {
			return 0, errors.WithMessage(err, "resolve duration")
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(resolved))
		if err != nil {
			return 0, errors.Errorf("duration %q is not an integer number of seconds", resolved)
		}
		return seconds, nil
	default:
		return 0, errors.Errorf("duration has unsupported type %T", cfg.Duration)
	}
}

func (e *Executor) runNotify(ctx context.Context, cfg models.NotifyConfig, runCtx map[string]any) (any, error) {
	message, err := e.resolver.ResolveString(cfg.Message, runCtx)
	if err != nil {
		return nil, errors.WithMessage(err, "resolve message")
	}
	notify, ok := e.notifiers[cfg.Channel]
	if !ok {
		return nil, errors.Errorf("notify channel %q has no registered notifier", cfg.Channel)
	}
	if err := notify(ctx, message); err != nil {
		return nil, errors.WithMessagef(err, "notify via %q", cfg.Channel)
	}
	return fmt.Sprintf("notified via %s", cfg.Channel), nil
}

// runParallel executes every sub-step concurrently against the same context
// snapshot. A sub-step failure does not abort its siblings and does not fail
// the parent: the failure lands in the result map as {"error": message}.
// This partial-failure tolerance is a deliberate divergence from normal step
// failure semantics.
func (e *Executor) runParallel(ctx context.Context, cfg models.ParallelConfig, runCtx map[string]any) (any, error) {
	results := make(map[string]any, len(cfg.Steps))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, sub := range cfg.Steps {
		wg.Add(1)
		go func(sub models.StepDefinition) {
			defer wg.Done()
			result, err := e.ExecuteStep(ctx, sub, runCtx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Errorf("parallel sub-step %q failed: %v", sub.Name, err)
				results[sub.Name] = map[string]any{"error": err.Error()}
				return
			}
			results[sub.Name] = result
		}(sub)
	}
	wg.Wait()
	return results, nil
}

// truthy applies the fixed condition rule: empty, "false", "0", "none" and
// "null" (case-insensitive, trimmed) are false; everything else is true.
func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "none", "null":
		return false
	}
	return true
}
