// Package engine executes declarative workflows: it resolves templated step
// configs against the execution context, schedules steps by dependency
// order, and tracks per-step state so runs can be inspected and resumed.
package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ghealysr/nicole-assistant-sub000/pkg/models"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/registry"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/storage"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/template"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/workflow"
)

// Engine ties the loader, registry, executor and scheduler together behind
// the execution API. Definitions are cached by name after first load; the
// store is the source of truth for executions.
type Engine struct {
	store     storage.Store
	registry  *registry.Registry
	executor  *Executor
	scheduler *Scheduler
	logger    Logger

	mu   sync.RWMutex
	defs map[string]*models.WorkflowDefinition
}

type Option func(*options)

type options struct {
	strictTemplates bool
	notifiers       map[string]Notifier
}

// WithStrictTemplates makes unresolved template references fail the step
// instead of shipping the literal {{...}} token downstream.
func WithStrictTemplates() Option {
	return func(o *options) { o.strictTemplates = true }
}

// WithNotifier registers a collaborator-provided notify channel.
func WithNotifier(channel string, fn Notifier) Option {
	return func(o *options) { o.notifiers[channel] = fn }
}

func New(store storage.Store, reg *registry.Registry, logger Logger, opts ...Option) *Engine {
	o := &options{notifiers: make(map[string]Notifier)}
	for _, opt := range opts {
		opt(o)
	}

	var resolverOpts []template.Option
	if o.strictTemplates {
		resolverOpts = append(resolverOpts, template.Strict())
	}
	executor := NewExecutor(reg, template.NewResolver(resolverOpts...), logger)
	for channel, fn := range o.notifiers {
		executor.RegisterNotifier(channel, fn)
	}

	return &Engine{
		store:     store,
		registry:  reg,
		executor:  executor,
		scheduler: NewScheduler(executor, logger),
		logger:    logger,
		defs:      make(map[string]*models.WorkflowDefinition),
	}
}

// Registry exposes the handler registry so collaborators can register tools
// and agents after construction.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// LoadDefinition parses, validates and registers a YAML workflow definition.
func (e *Engine) LoadDefinition(data []byte) (*models.WorkflowDefinition, error) {
	def, err := workflow.Load(data)
	if err != nil {
		return nil, err
	}
	if err := e.RegisterDefinition(def); err != nil {
		return nil, err
	}
	return def, nil
}

// RegisterDefinition persists a validated definition and caches it by name.
func (e *Engine) RegisterDefinition(def *models.WorkflowDefinition) error {
	if err := e.inTx(func(tx storage.Store) error {
		return tx.SaveDefinition(def)
	}); err != nil {
		return errors.WithMessagef(err, "save workflow %q", def.Name)
	}
	e.mu.Lock()
	e.defs[def.Name] = def
	e.mu.Unlock()
	e.logger.Infof("registered workflow %q with %d steps", def.Name, len(def.Steps))
	return nil
}

// Definition returns the named workflow, consulting the store on a cache
// miss.
func (e *Engine) Definition(name string) (*models.WorkflowDefinition, error) {
	e.mu.RLock()
	def, ok := e.defs[name]
	e.mu.RUnlock()
	if ok {
		return def, nil
	}
	def, err := e.store.GetDefinition(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.defs[name] = def
	e.mu.Unlock()
	return def, nil
}

// ListDefinitions returns every persisted workflow definition.
func (e *Engine) ListDefinitions() ([]*models.WorkflowDefinition, error) {
	return e.store.ListDefinitions()
}

// Execute runs the named workflow to completion against an initial context
// and returns the terminal execution record. Step-level failures never
// surface as the returned error; they are captured per step and reflected in
// the execution status. The error return is reserved for engine faults:
// unknown workflow, storage failure, cancellation, or a stuck scheduler.
func (e *Engine) Execute(ctx context.Context, workflowName, userID string, initial map[string]any) (*models.WorkflowExecution, error) {
	def, err := e.Definition(workflowName)
	if err != nil {
		return nil, errors.WithMessagef(err, "workflow %q", workflowName)
	}

	ex := models.NewExecution(uuid.NewString(), def, userID, initial)
	if err := e.inTx(func(tx storage.Store) error {
		return tx.SaveExecution(ex)
	}); err != nil {
		return nil, errors.WithMessagef(err, "save execution %s", ex.ID)
	}
	e.logger.Infof("executing workflow %q as execution %s", workflowName, ex.ID)

	runErr := e.scheduler.Run(ctx, def, ex, func() {
		e.persist(ex)
	})
	e.persist(ex)
	if runErr != nil {
		return ex, runErr
	}
	return ex, nil
}

// GetExecution fetches an execution record for inspection or resume.
func (e *Engine) GetExecution(id string) (*models.WorkflowExecution, error) {
	return e.store.GetExecution(id)
}

// ListExecutions returns executions, optionally filtered by user.
func (e *Engine) ListExecutions(userID string) ([]*models.WorkflowExecution, error) {
	return e.store.ListExecutions(userID)
}

// persist writes execution progress; failures are logged rather than
// aborting the run, since the in-memory record remains authoritative until
// the run concludes.
func (e *Engine) persist(ex *models.WorkflowExecution) {
	if err := e.inTx(func(tx storage.Store) error {
		return tx.UpdateExecution(ex)
	}); err != nil {
		e.logger.Errorf("failed to persist execution %s: %v", ex.ID, err)
	}
}

func (e *Engine) inTx(fn func(tx storage.Store) error) (err error) {
	txStore, err := e.store.Begin()
	if err != nil {
		return errors.WithMessage(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				e.logger.Errorf("failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			e.logger.Errorf("failed to commit: %v", commitErr)
			err = commitErr
		}
	}()
	err = fn(txStore)
	return err
}
