package storage

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/ghealysr/nicole-assistant-sub000/pkg/models"
)

// mockStore implements Store with in-memory storage. Values are deep-copied
// through JSON on the way in and out so callers cannot mutate stored state
// behind the store's back, mirroring a real database round-trip.
type mockStore struct {
	mu         sync.RWMutex
	defs       map[string]*models.WorkflowDefinition
	executions map[string]*models.WorkflowExecution
}

// NewMockStore returns an in-memory Store for tests and examples.
func NewMockStore() Store {
	return &mockStore{
		defs:       make(map[string]*models.WorkflowDefinition),
		executions: make(map[string]*models.WorkflowExecution),
	}
}

func (m *mockStore) Begin() (Store, error) {
	return m, nil
}

func (m *mockStore) Commit() error {
	return nil
}

func (m *mockStore) Rollback() error {
	return nil
}

func (m *mockStore) Close() error {
	return nil
}

func (m *mockStore) SaveDefinition(def *models.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := &models.WorkflowDefinition{}
	if err := roundTrip(def, copied); err != nil {
		return err
	}
	m.defs[def.Name] = copied
	return nil
}

func (m *mockStore) GetDefinition(name string) (*models.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[name]
	if !ok {
		return nil, errors.WithMessagef(ErrNotFound, "workflow %q", name)
	}
	out := &models.WorkflowDefinition{}
	if err := roundTrip(def, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *mockStore) ListDefinitions() ([]*models.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	defs := make([]*models.WorkflowDefinition, 0, len(m.defs))
	for _, def := range m.defs {
		out := &models.WorkflowDefinition{}
		if err := roundTrip(def, out); err != nil {
			return nil, err
		}
		defs = append(defs, out)
	}
	return defs, nil
}

func (m *mockStore) SaveExecution(ex *models.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[ex.ID]; exists {
		return errors.Errorf("execution %s already exists", ex.ID)
	}
	return m.put(ex)
}

func (m *mockStore) UpdateExecution(ex *models.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[ex.ID]; !exists {
		return errors.WithMessagef(ErrNotFound, "execution %s", ex.ID)
	}
	return m.put(ex)
}

func (m *mockStore) put(ex *models.WorkflowExecution) error {
	copied := &models.WorkflowExecution{}
	if err := roundTrip(ex, copied); err != nil {
		return err
	}
	m.executions[ex.ID] = copied
	return nil
}

func (m *mockStore) GetExecution(id string) (*models.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.executions[id]
	if !ok {
		return nil, errors.WithMessagef(ErrNotFound, "execution %s", id)
	}
	out := &models.WorkflowExecution{}
	if err := roundTrip(ex, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *mockStore) ListExecutions(userID string) ([]*models.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.WorkflowExecution
	for _, ex := range m.executions {
		if userID != "" && ex.UserID != userID {
			continue
		}
		copied := &models.WorkflowExecution{}
		if err := roundTrip(ex, copied); err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}

func roundTrip(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
