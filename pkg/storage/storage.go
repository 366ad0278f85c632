package storage

import (
	"github.com/pkg/errors"

	"github.com/ghealysr/nicole-assistant-sub000/pkg/models"
)

// ErrNotFound is returned when a definition or execution does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence boundary of the engine. Begin returns a
// transactional view of the store; Commit/Rollback only apply to that view.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Definition operations
	SaveDefinition(def *models.WorkflowDefinition) error
	GetDefinition(name string) (*models.WorkflowDefinition, error)
	ListDefinitions() ([]*models.WorkflowDefinition, error)

	// Execution operations
	SaveExecution(ex *models.WorkflowExecution) error
	UpdateExecution(ex *models.WorkflowExecution) error
	GetExecution(id string) (*models.WorkflowExecution, error)
	ListExecutions(userID string) ([]*models.WorkflowExecution, error)
}
