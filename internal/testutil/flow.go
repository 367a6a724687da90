// Package testutil provides small builders shared by package tests.
package testutil

import (
	"github.com/synthesize-dev/synthesize/internal/flow"
)

// Node builds a node running the given shell commands with the given
// triggers. No triggers means Once, matching the config default.
func Node(id, commands string, triggers ...flow.Trigger) flow.Node {
	if len(triggers) == 0 {
		triggers = []flow.Trigger{flow.Once()}
	}
	return flow.Node{
		ID:       id,
		Target:   flow.Target{ID: id, Commands: commands},
		Triggers: triggers,
	}
}

// Flow assembles nodes into a flow named "test".
func Flow(nodes ...flow.Node) flow.Flow {
	f := flow.Flow{Name: "test", Nodes: make(map[string]flow.Node, len(nodes))}
	for _, n := range nodes {
		f.Nodes[n.ID] = n
	}
	return f
}
