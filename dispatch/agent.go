package dispatch

import (
	"fmt"

	"github.com/hupe1980/agency/core"
	"github.com/hupe1980/agency/model"
	"github.com/hupe1980/agency/tool"
)

// Agent is one fixed participant of an agency: a name, the instruction that
// frames its completion calls, the model that answers them and the tools it
// may invoke. Agents are registered at construction time and never change for
// the lifetime of the agency.
//
// Instruction may contain text/template markers; they are resolved against
// the run's shared state before every completion call, so instructions can
// reference values other agents set earlier in the same run.
type Agent struct {
	// Name uniquely identifies the agent across the agency. It appears in
	// thread keys, events and the communication graph.
	Name string

	// Description is surfaced to peer agents in their send-message tool
	// guidance and in the registry snapshot.
	Description string

	// Instruction is the system prompt template for this agent.
	Instruction string

	// Model answers this agent's completion calls.
	Model model.Model

	// Tools are the agent's callable capabilities. The delegation tool is
	// injected automatically from the graph; registering a tool named
	// send_message is a configuration error.
	Tools []tool.Tool
}

// Validate checks the agent definition for construction-time errors.
func (a *Agent) Validate() error {
	if a.Name == "" {
		return &core.GraphConfigError{Reason: "agent with empty name"}
	}
	if a.Model == nil {
		return &core.GraphConfigError{Reason: fmt.Sprintf("agent %q has no model", a.Name)}
	}
	seen := map[string]struct{}{}
	for _, t := range a.Tools {
		name := t.Name()
		if name == tool.SendMessageName {
			return &core.GraphConfigError{Reason: fmt.Sprintf("agent %q registers reserved tool %q", a.Name, name)}
		}
		if _, dup := seen[name]; dup {
			return &core.GraphConfigError{Reason: fmt.Sprintf("agent %q registers duplicate tool %q", a.Name, name)}
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Info returns the registry entry for this agent.
func (a *Agent) Info() core.AgentInfo {
	return core.AgentInfo{Name: a.Name, Description: a.Description}
}
