package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agency/core"
)

func crew() ([]string, []Flow, []string) {
	agents := []string{"ceo", "dev", "qa"}
	flows := []Flow{
		{Initiator: "ceo", Recipient: "dev"},
		{Initiator: "ceo", Recipient: "qa"},
		{Initiator: "dev", Recipient: "qa"},
	}
	return agents, flows, []string{"ceo"}
}

func TestGraphPermissions(t *testing.T) {
	agents, flows, entry := crew()
	g, err := New(agents, flows, entry)
	require.NoError(t, err)

	assert.True(t, g.CanInitiate("ceo", "dev"))
	assert.True(t, g.CanInitiate("dev", "qa"))

	// Flows are directional: the reverse edge is not implied.
	assert.False(t, g.CanInitiate("dev", "ceo"))
	assert.False(t, g.CanInitiate("qa", "dev"))
	assert.False(t, g.CanInitiate("qa", "ceo"))

	assert.True(t, g.IsEntryPoint("ceo"))
	assert.False(t, g.IsEntryPoint("dev"))

	assert.Equal(t, []string{"dev", "qa"}, g.Outgoing("ceo"))
	assert.Empty(t, g.Outgoing("qa"))
	assert.Equal(t, []string{"ceo"}, g.EntryPoints())
	assert.True(t, g.HasAgent("qa"))
	assert.False(t, g.HasAgent("intern"))
}

func TestGraphValidation(t *testing.T) {
	tests := []struct {
		name   string
		agents []string
		flows  []Flow
		entry  []string
	}{
		{"empty agent name", []string{""}, nil, []string{""}},
		{"reserved agent name", []string{core.ExternalSender}, nil, []string{core.ExternalSender}},
		{"duplicate agent", []string{"a", "a"}, nil, []string{"a"}},
		{"pipe in agent name", []string{"a|b"}, nil, []string{"a|b"}},
		{"pair separator in agent name", []string{"a<->b"}, nil, []string{"a<->b"}},
		{"unknown initiator", []string{"a"}, []Flow{{Initiator: "x", Recipient: "a"}}, []string{"a"}},
		{"unknown recipient", []string{"a"}, []Flow{{Initiator: "a", Recipient: "x"}}, []string{"a"}},
		{"self flow", []string{"a"}, []Flow{{Initiator: "a", Recipient: "a"}}, []string{"a"}},
		{"duplicate flow", []string{"a", "b"}, []Flow{{Initiator: "a", Recipient: "b"}, {Initiator: "a", Recipient: "b"}}, []string{"a"}},
		{"no entry point", []string{"a"}, nil, nil},
		{"unknown entry point", []string{"a"}, nil, []string{"x"}},
		{"duplicate entry point", []string{"a"}, nil, []string{"a", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.agents, tt.flows, tt.entry)
			require.Error(t, err)

			var cfgErr *core.GraphConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestGraphMutualEdgesAllowed(t *testing.T) {
	// Mutual initiation edges form a cycle; the graph allows it and leaves
	// runaway chains to the depth bound.
	g, err := New(
		[]string{"a", "b"},
		[]Flow{{Initiator: "a", Recipient: "b"}, {Initiator: "b", Recipient: "a"}},
		[]string{"a"},
	)
	require.NoError(t, err)
	assert.True(t, g.CanInitiate("a", "b"))
	assert.True(t, g.CanInitiate("b", "a"))
}
