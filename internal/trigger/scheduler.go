// Package trigger wires workflow definitions carrying a cron schedule to a
// process scheduler. It is a thin boundary adaptor: the engine knows nothing
// about cron, and the trigger knows nothing about step semantics.
package trigger

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/ghealysr/nicole-assistant-sub000/pkg/engine"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/models"
)

// Scheduler runs scheduled workflows through the engine.
type Scheduler struct {
	engine  *engine.Engine
	cron    *cron.Cron
	logger  engine.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewScheduler(eng *engine.Engine, logger engine.Logger) *Scheduler {
	return &Scheduler{
		engine:  eng,
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Register schedules a workflow if its definition carries a cron expression.
// Re-registering a workflow replaces its previous schedule.
func (s *Scheduler) Register(def *models.WorkflowDefinition) error {
	if def.Schedule == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[def.Name]; ok {
		s.cron.Remove(existing)
		delete(s.entries, def.Name)
	}

	name := def.Name
	id, err := s.cron.AddFunc(def.Schedule, func() {
		s.logger.Infof("cron trigger firing workflow %q", name)
		ex, err := s.engine.Execute(context.Background(), name, "", nil)
		if err != nil {
			s.logger.Errorf("scheduled run of workflow %q failed: %v", name, err)
			return
		}
		s.logger.Infof("scheduled run of workflow %q finished with status %s", name, ex.Status)
	})
	if err != nil {
		return err
	}
	s.entries[name] = id
	s.logger.Infof("scheduled workflow %q with cron expression %q", name, def.Schedule)
	return nil
}

// RegisterAll schedules every persisted definition with a cron expression.
func (s *Scheduler) RegisterAll() error {
	defs, err := s.engine.ListDefinitions()
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := s.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron runner; in-flight executions finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
