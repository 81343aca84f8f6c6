package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crewYAML = `
agents:
  - name: ceo
    description: Coordinates work
    instruction: You coordinate the crew.
    provider: mock
  - name: dev
    instruction: You implement features.
    provider: mock
flows:
  - initiator: ceo
    recipient: dev
entry_points: [ceo]
limits:
  max_depth: 4
  max_tool_turns: 6
  completion_retries: 2
  run_timeout: 30s
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(crewYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "ceo", cfg.Agents[0].Name)
	assert.Equal(t, "mock", cfg.Agents[0].Provider)

	require.Len(t, cfg.Flows, 1)
	assert.Equal(t, "ceo", cfg.Flows[0].Initiator)
	assert.Equal(t, "dev", cfg.Flows[0].Recipient)

	assert.Equal(t, []string{"ceo"}, cfg.EntryPoints)
	assert.Equal(t, 4, cfg.Limits.MaxDepth)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Limits.RunTimeout))
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no agents", `flows: []`},
		{"empty agent name", "agents:\n  - provider: mock"},
		{"missing provider", "agents:\n  - name: ceo"},
		{"bad duration", "agents:\n  - name: a\n    provider: mock\nlimits:\n  run_timeout: fast"},
		{"malformed yaml", `agents: [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestBuild(t *testing.T) {
	cfg, err := Parse([]byte(crewYAML))
	require.NoError(t, err)

	a, err := cfg.Build(nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"ceo"}, a.Graph().EntryPoints())
	assert.True(t, a.Graph().CanInitiate("ceo", "dev"))
	assert.False(t, a.Graph().CanInitiate("dev", "ceo"))

	// Mock-backed agents answer immediately.
	res, err := a.GetResponse(context.Background(), "ceo", "ping")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Text)
}

func TestBuildRejectsUnknownProvider(t *testing.T) {
	cfg := &Config{Agents: []AgentConfig{{Name: "a", Provider: "carrier-pigeon"}}}
	_, err := cfg.Build(nil)
	assert.Error(t, err)
}
