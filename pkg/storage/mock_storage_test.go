package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghealysr/nicole-assistant-sub000/pkg/models"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/storage"
)

func sampleDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name: "sample",
		Steps: []models.StepDefinition{
			{
				Name:       "only",
				Type:       models.ToolStep,
				MaxRetries: models.DefaultMaxRetries,
				Config:     models.ToolConfig{Tool: "noop", Params: map[string]any{"mode": "fast"}},
			},
		},
	}
}

func TestMockStore_Definitions(t *testing.T) {
	store := storage.NewMockStore()
	def := sampleDefinition()
	require.NoError(t, store.SaveDefinition(def))

	fetched, err := store.GetDefinition("sample")
	require.NoError(t, err)
	assert.Equal(t, def, fetched)

	// stored state is a deep copy, not a shared pointer
	fetched.Steps[0].Name = "mutated"
	again, err := store.GetDefinition("sample")
	require.NoError(t, err)
	assert.Equal(t, "only", again.Steps[0].Name)

	defs, err := store.ListDefinitions()
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	_, err = store.GetDefinition("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMockStore_Executions(t *testing.T) {
	store := storage.NewMockStore()
	def := sampleDefinition()
	ex := models.NewExecution("ex-1", def, "u-1", nil)

	require.NoError(t, store.SaveExecution(ex))
	assert.Error(t, store.SaveExecution(ex), "duplicate id must be rejected")

	ex.Status = models.CompletedExecutionStatus
	require.NoError(t, store.UpdateExecution(ex))

	fetched, err := store.GetExecution("ex-1")
	require.NoError(t, err)
	assert.Equal(t, models.CompletedExecutionStatus, fetched.Status)

	ghost := models.NewExecution("ghost", def, "u-1", nil)
	assert.ErrorIs(t, store.UpdateExecution(ghost), storage.ErrNotFound)
	_, err = store.GetExecution("ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	other := models.NewExecution("ex-2", def, "u-2", nil)
	require.NoError(t, store.SaveExecution(other))
	mine, err := store.ListExecutions("u-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "ex-1", mine[0].ID)
	all, err := store.ListExecutions("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
