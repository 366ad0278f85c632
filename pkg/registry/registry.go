// Package registry maps tool and agent names to their handler functions.
// The registry is an explicit instance passed into the engine, never a
// package-level singleton, so isolated registries can coexist.
package registry

import (
	"context"
	"fmt"
	"sync"
)

// ToolHandler is a pure request/response collaborator: it receives resolved
// parameters and returns a result value or an error.
type ToolHandler func(ctx context.Context, params map[string]any) (any, error)

// AgentHandler receives a resolved prompt plus the full execution context
// and returns generated text.
type AgentHandler func(ctx context.Context, prompt string, runCtx map[string]any) (string, error)

// HandlerNotFoundError is returned when a step references a name that was
// never registered. It is never retried: retrying cannot help.
type HandlerNotFoundError struct {
	Kind string // "tool" or "agent"
	Name string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("%s handler %q is not registered", e.Kind, e.Name)
}

// Registry holds the tool and agent namespaces. Registration is explicit;
// the two namespaces are disjoint.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]ToolHandler
	agents map[string]AgentHandler
}

func New() *Registry {
	return &Registry{
		tools:  make(map[string]ToolHandler),
		agents: make(map[string]AgentHandler),
	}
}

func (r *Registry) RegisterTool(name string, fn ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
}

func (r *Registry) RegisterAgent(name string, fn AgentHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = fn
}

// Tool looks up a registered tool handler.
func (r *Registry) Tool(name string) (ToolHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tools[name]
	if !ok {
		return nil, &HandlerNotFoundError{Kind: "tool", Name: name}
	}
	return fn, nil
}

// Agent looks up a registered agent handler.
func (r *Registry) Agent(name string) (AgentHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.agents[name]
	if !ok {
		return nil, &HandlerNotFoundError{Kind: "agent", Name: name}
	}
	return fn, nil
}
