package flow

import (
	"fmt"
	"sort"
	"strings"
)

// CyclicFlowError reports a cycle in the After dependency graph. The path
// lists the node IDs along the cycle, in edge order.
type CyclicFlowError struct {
	Path []string
}

func (e *CyclicFlowError) Error() string {
	return fmt.Sprintf("cyclic flow detected: %s", e.CyclePath())
}

// CyclePath renders the cycle as "a -> b -> a".
func (e *CyclicFlowError) CyclePath() string {
	return strings.Join(append(append([]string{}, e.Path...), e.Path[0]), " -> ")
}

// DanglingReferenceError reports an After trigger naming a node that does not
// exist in the flow.
type DanglingReferenceError struct {
	Node string // the node declaring the trigger
	Ref  string // the missing predecessor ID
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("node %q: after references unknown node %q", e.Node, e.Ref)
}

// Graph returns the After adjacency as predecessor -> successors. Every node
// appears as a key, even if it has no successors, so callers can iterate the
// full vertex set.
func (f Flow) Graph() map[string][]string {
	g := make(map[string][]string, len(f.Nodes))
	for id := range f.Nodes {
		g[id] = nil
	}
	for _, id := range f.NodeIDs() {
		for _, t := range f.Nodes[id].Triggers {
			if t.Kind != KindAfter {
				continue
			}
			for _, pred := range t.After {
				g[pred] = append(g[pred], id)
			}
		}
	}
	for id := range g {
		sort.Strings(g[id])
	}
	return g
}

// Predecessors returns the distinct After predecessors of a node, sorted.
func (f Flow) Predecessors(id string) []string {
	seen := map[string]bool{}
	var preds []string
	for _, t := range f.Nodes[id].Triggers {
		if t.Kind != KindAfter {
			continue
		}
		for _, p := range t.After {
			if !seen[p] {
				seen[p] = true
				preds = append(preds, p)
			}
		}
	}
	sort.Strings(preds)
	return preds
}

// Validate checks the flow's structural invariants before execution: every
// After reference must resolve to a node in the flow, every node must have at
// least one trigger, and the induced After graph must be acyclic.
func (f Flow) Validate() error {
	for _, id := range f.NodeIDs() {
		n := f.Nodes[id]
		if len(n.Triggers) == 0 {
			return fmt.Errorf("node %q has no triggers", id)
		}
		for _, t := range n.Triggers {
			if t.Kind != KindAfter {
				continue
			}
			for _, pred := range t.After {
				if _, ok := f.Nodes[pred]; !ok {
					return &DanglingReferenceError{Node: id, Ref: pred}
				}
			}
		}
	}
	return f.detectCycle()
}

// detectCycle runs a DFS three-coloring over the After graph and returns a
// CyclicFlowError for the first back edge found.
func (f Flow) detectCycle() error {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current DFS path
		black = 2 // fully explored
	)

	g := f.Graph()
	color := make(map[string]int, len(g))
	var path []string

	var visit func(id string) *CyclicFlowError
	visit = func(id string) *CyclicFlowError {
		color[id] = grey
		path = append(path, id)

		for _, succ := range g[id] {
			switch color[succ] {
			case grey:
				// Back edge: slice the current path from the first
				// occurrence of succ to close the cycle.
				for i, p := range path {
					if p == succ {
						return &CyclicFlowError{Path: append([]string{}, path[i:]...)}
					}
				}
				return &CyclicFlowError{Path: []string{succ}}
			case white:
				if err := visit(succ); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range f.NodeIDs() {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
