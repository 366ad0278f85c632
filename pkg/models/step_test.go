package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepDefinition_JSONRoundTrip(t *testing.T) {
	def := StepDefinition{
		Name:       "fetch",
		Type:       ToolStep,
		DependsOn:  []string{"login"},
		MaxRetries: 2,
		Config: ToolConfig{
			Tool:   "http_get",
			Params: map[string]any{"url": "https://example.com"},
		},
	}

	data, err := json.Marshal(def)
	require.NoError(t, err)

	var decoded StepDefinition
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, def, decoded)

	cfg, ok := decoded.Config.(ToolConfig)
	require.True(t, ok, "config should decode to the tool variant")
	assert.Equal(t, "http_get", cfg.Tool)
}

func TestStepDefinition_ParallelRoundTrip(t *testing.T) {
	def := StepDefinition{
		Name: "fan_out",
		Type: ParallelStep,
		Config: ParallelConfig{
			Steps: []StepDefinition{
				{Name: "a", Type: ToolStep, MaxRetries: DefaultMaxRetries, Config: ToolConfig{Tool: "t1"}},
				{Name: "b", Type: NotifyStep, MaxRetries: DefaultMaxRetries, Config: NotifyConfig{Channel: "log", Message: "hi"}},
			},
		},
	}

	data, err := json.Marshal(def)
	require.NoError(t, err)

	var decoded StepDefinition
	require.NoError(t, json.Unmarshal(data, &decoded))

	cfg, ok := decoded.Config.(ParallelConfig)
	require.True(t, ok)
	require.Len(t, cfg.Steps, 2)
	assert.Equal(t, ToolConfig{Tool: "t1"}, cfg.Steps[0].Config)
	assert.Equal(t, NotifyConfig{Channel: "log", Message: "hi"}, cfg.Steps[1].Config)
}

func TestStepDefinition_UnknownTypeRejected(t *testing.T) {
	var decoded StepDefinition
	err := json.Unmarshal([]byte(`{"name": "x", "type": "teleport", "config": {}}`), &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step type")
}

func TestStepType_Valid(t *testing.T) {
	for _, st := range []StepType{ToolStep, AgentStep, ConditionStep, WaitStep, NotifyStep, ParallelStep} {
		assert.True(t, st.Valid(), st)
	}
	assert.False(t, StepType("teleport").Valid())
	assert.False(t, StepType("").Valid())
}
