package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/ghealysr/nicole-assistant-sub000/pkg/models"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore persists workflow definitions and executions as JSONB rows.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

type workflowRow struct {
	Name        string    `db:"name"`
	Schedule    string    `db:"schedule"`
	Description string    `db:"description"`
	Spec        []byte    `db:"spec"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type executionRow struct {
	ID           string     `db:"id"`
	WorkflowName string     `db:"workflow_name"`
	UserID       string     `db:"user_id"`
	Status       string     `db:"status"`
	Context      []byte     `db:"context"`
	Steps        []byte     `db:"steps"`
	StartedAt    time.Time  `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

// SaveDefinition upserts a workflow definition keyed by name.
func (s *PostgresStore) SaveDefinition(def *models.WorkflowDefinition) error {
	spec, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode workflow %q: %w", def.Name, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO workflows (name, schedule, description, spec, created_at, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE
		SET schedule = EXCLUDED.schedule,
		    description = EXCLUDED.description,
		    spec = EXCLUDED.spec,
		    updated_at = CURRENT_TIMESTAMP`,
		def.Name, def.Schedule, def.Description, spec)
	if err != nil {
		return fmt.Errorf("save workflow %q: %w", def.Name, err)
	}
	return nil
}

func (s *PostgresStore) GetDefinition(name string) (*models.WorkflowDefinition, error) {
	var row workflowRow
	err := s.db.Get(&row, "SELECT * FROM workflows WHERE name = $1", name)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDefinition(row)
}

func (s *PostgresStore) ListDefinitions() ([]*models.WorkflowDefinition, error) {
	var rows []workflowRow
	err := s.db.Select(&rows, "SELECT * FROM workflows ORDER BY name")
	if err != nil {
		return nil, err
	}
	defs := make([]*models.WorkflowDefinition, 0, len(rows))
	for _, row := range rows {
		def, err := decodeDefinition(row)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (s *PostgresStore) SaveExecution(ex *models.WorkflowExecution) error {
	runCtx, steps, err := encodeExecution(ex)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO executions (id, workflow_name, user_id, status, context, steps, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ex.ID, ex.WorkflowName, ex.UserID, ex.Status, runCtx, steps, ex.StartedAt, ex.CompletedAt)
	if err != nil {
		return fmt.Errorf("save execution %s: %w", ex.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateExecution(ex *models.WorkflowExecution) error {
	runCtx, steps, err := encodeExecution(ex)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE executions
		SET status = $1, context = $2, steps = $3, completed_at = $4
		WHERE id = $5`,
		ex.Status, runCtx, steps, ex.CompletedAt, ex.ID)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", ex.ID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetExecution(id string) (*models.WorkflowExecution, error) {
	var row executionRow
	err := s.db.Get(&row, "SELECT * FROM executions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeExecution(row)
}

func (s *PostgresStore) ListExecutions(userID string) ([]*models.WorkflowExecution, error) {
	var rows []executionRow
	var err error
	if userID == "" {
		err = s.db.Select(&rows, "SELECT * FROM executions ORDER BY started_at DESC")
	} else {
		err = s.db.Select(&rows, "SELECT * FROM executions WHERE user_id = $1 ORDER BY started_at DESC", userID)
	}
	if err != nil {
		return nil, err
	}
	executions := make([]*models.WorkflowExecution, 0, len(rows))
	for _, row := range rows {
		ex, err := decodeExecution(row)
		if err != nil {
			return nil, err
		}
		executions = append(executions, ex)
	}
	return executions, nil
}

func decodeDefinition(row workflowRow) (*models.WorkflowDefinition, error) {
	def := &models.WorkflowDefinition{}
	if err := json.Unmarshal(row.Spec, def); err != nil {
		return nil, fmt.Errorf("decode workflow %q: %w", row.Name, err)
	}
	return def, nil
}

func encodeExecution(ex *models.WorkflowExecution) (runCtx, steps []byte, err error) {
	runCtx, err = json.Marshal(ex.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("encode execution %s context: %w", ex.ID, err)
	}
	steps, err = json.Marshal(ex.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("encode execution %s steps: %w", ex.ID, err)
	}
	return runCtx, steps, nil
}

func decodeExecution(row executionRow) (*models.WorkflowExecution, error) {
	ex := &models.WorkflowExecution{
		ID:           row.ID,
		WorkflowName: row.WorkflowName,
		UserID:       row.UserID,
		Status:       models.ExecutionStatus(row.Status),
		StartedAt:    row.StartedAt,
		CompletedAt:  row.CompletedAt,
	}
	if err := json.Unmarshal(row.Context, &ex.Context); err != nil {
		return nil, fmt.Errorf("decode execution %s context: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.Steps, &ex.Steps); err != nil {
		return nil, fmt.Errorf("decode execution %s steps: %w", row.ID, err)
	}
	return ex, nil
}
