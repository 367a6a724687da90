package flow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
)

// DOT renders the flow's trigger graph as Graphviz DOT. The shape mirrors
// Mermaid(): After edges, Restart self-edges, and cylinder-shaped watch
// bubbles shared between nodes watching the same paths.
func (f Flow) DOT() (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(graphName(f.Name)); err != nil {
		return "", fmt.Errorf("dot export: %w", err)
	}
	if err := g.SetDir(true); err != nil {
		return "", fmt.Errorf("dot export: %w", err)
	}

	for _, id := range f.NodeIDs() {
		if err := g.AddNode(graphName(f.Name), id, map[string]string{"shape": "box"}); err != nil {
			return "", fmt.Errorf("dot export: node %q: %w", id, err)
		}
	}

	seenWatches := map[string]bool{}
	for _, id := range f.NodeIDs() {
		for _, t := range f.Nodes[id].Triggers {
			switch t.Kind {
			case KindOnce:
			case KindAfter:
				for _, pred := range t.After {
					if err := g.AddEdge(pred, id, true, nil); err != nil {
						return "", fmt.Errorf("dot export: edge %s->%s: %w", pred, id, err)
					}
				}
			case KindRestart:
				label := strconv.Quote(fmt.Sprintf("restart %.3gs", t.Delay.Seconds()))
				if err := g.AddEdge(id, id, true, map[string]string{"label": label}); err != nil {
					return "", fmt.Errorf("dot export: restart edge %s: %w", id, err)
				}
			case KindWatch:
				h := "w_" + pathsKey(t.Paths)
				if !seenWatches[h] {
					seenWatches[h] = true
					attrs := map[string]string{
						"shape": "cylinder",
						"label": strconv.Quote(strings.Join(t.Paths, "\\n")),
					}
					if err := g.AddNode(graphName(f.Name), h, attrs); err != nil {
						return "", fmt.Errorf("dot export: watch node %q: %w", h, err)
					}
				}
				if err := g.AddEdge(h, id, true, map[string]string{"label": strconv.Quote("watch")}); err != nil {
					return "", fmt.Errorf("dot export: watch edge %s: %w", id, err)
				}
			}
		}
	}

	return g.String(), nil
}

// graphName sanitizes a flow name into a valid DOT identifier.
func graphName(name string) string {
	if name == "" {
		return "flow"
	}
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if clean[0] >= '0' && clean[0] <= '9' {
		clean = "_" + clean
	}
	return clean
}
