// Package graph implements the static communication graph: the set of
// permitted directed initiation edges between agents plus the entry points
// reachable by the external caller. The graph is validated once at agency
// construction and is pure and stateless afterwards; every permission check
// in the system goes through it.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agency/core"
)

// Flow is one permitted directed initiation edge: Initiator may open new
// conversations with Recipient; Recipient may only reply within conversations
// Initiator opened, never start its own towards Initiator.
type Flow struct {
	Initiator string `json:"initiator" yaml:"initiator"`
	Recipient string `json:"recipient" yaml:"recipient"`
}

// Graph answers routing-permission queries for a fixed agent set.
type Graph struct {
	agents      map[string]struct{}
	outgoing    map[string]map[string]struct{}
	entryPoints map[string]struct{}
}

// New validates the flow list and entry points against the known agent names
// and builds the graph. Construction fails with a *core.GraphConfigError if
// an agent id in a flow or entry-point list is unknown, an edge is duplicated
// or self-referencing, or no entry point is declared.
func New(agentNames []string, flows []Flow, entryPoints []string) (*Graph, error) {
	g := &Graph{
		agents:      make(map[string]struct{}, len(agentNames)),
		outgoing:    make(map[string]map[string]struct{}),
		entryPoints: make(map[string]struct{}, len(entryPoints)),
	}

	for _, name := range agentNames {
		if name == "" {
			return nil, &core.GraphConfigError{Reason: "agent with empty name"}
		}
		if name == core.ExternalSender {
			return nil, &core.GraphConfigError{Reason: fmt.Sprintf("agent name %q is reserved for the external caller", name)}
		}
		// Thread keys embed agent names; separator characters would corrupt
		// the snapshot round-trip.
		if strings.Contains(name, "|") || strings.Contains(name, "<->") {
			return nil, &core.GraphConfigError{Reason: fmt.Sprintf("agent name %q contains a reserved separator", name)}
		}
		if _, dup := g.agents[name]; dup {
			return nil, &core.GraphConfigError{Reason: fmt.Sprintf("duplicate agent name %q", name)}
		}
		g.agents[name] = struct{}{}
	}

	for _, f := range flows {
		if _, ok := g.agents[f.Initiator]; !ok {
			return nil, &core.GraphConfigError{Reason: fmt.Sprintf("flow references unknown initiator %q", f.Initiator)}
		}
		if _, ok := g.agents[f.Recipient]; !ok {
			return nil, &core.GraphConfigError{Reason: fmt.Sprintf("flow references unknown recipient %q", f.Recipient)}
		}
		if f.Initiator == f.Recipient {
			return nil, &core.GraphConfigError{Reason: fmt.Sprintf("flow from %q to itself", f.Initiator)}
		}
		edges, ok := g.outgoing[f.Initiator]
		if !ok {
			edges = make(map[string]struct{})
			g.outgoing[f.Initiator] = edges
		}
		if _, dup := edges[f.Recipient]; dup {
			return nil, &core.GraphConfigError{Reason: fmt.Sprintf("duplicate flow %s -> %s", f.Initiator, f.Recipient)}
		}
		edges[f.Recipient] = struct{}{}
	}

	if len(entryPoints) == 0 {
		return nil, &core.GraphConfigError{Reason: "no entry point declared"}
	}
	for _, name := range entryPoints {
		if _, ok := g.agents[name]; !ok {
			return nil, &core.GraphConfigError{Reason: fmt.Sprintf("entry point %q is not a known agent", name)}
		}
		if _, dup := g.entryPoints[name]; dup {
			return nil, &core.GraphConfigError{Reason: fmt.Sprintf("duplicate entry point %q", name)}
		}
		g.entryPoints[name] = struct{}{}
	}

	return g, nil
}

// CanInitiate reports whether sender may open a new conversation with
// recipient. Reply permission is implicit in thread membership and is not
// consulted here.
func (g *Graph) CanInitiate(sender, recipient string) bool {
	edges, ok := g.outgoing[sender]
	if !ok {
		return false
	}
	_, ok = edges[recipient]
	return ok
}

// IsEntryPoint reports whether the external caller may address agent directly.
func (g *Graph) IsEntryPoint(agent string) bool {
	_, ok := g.entryPoints[agent]
	return ok
}

// Outgoing returns the sorted set of recipients agent may initiate
// conversations with. Used both for permission checks and to scope each
// agent's send-message tool exposure, so the two can never drift apart.
func (g *Graph) Outgoing(agent string) []string {
	edges := g.outgoing[agent]
	out := make([]string, 0, len(edges))
	for name := range edges {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EntryPoints returns the sorted entry-point agent names.
func (g *Graph) EntryPoints() []string {
	out := make([]string, 0, len(g.entryPoints))
	for name := range g.entryPoints {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasAgent reports whether name is part of the configured agent set.
func (g *Graph) HasAgent(name string) bool {
	_, ok := g.agents[name]
	return ok
}
