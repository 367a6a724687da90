package flow

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Mermaid renders the flow as a Mermaid flowchart. Once triggers contribute
// nothing; After triggers become edges; Restart triggers become self-edges
// labelled with the delay; Watch triggers become shared path bubbles so that
// several nodes watching the same paths point at one bubble.
func (f Flow) Mermaid() string {
	lines := []string{"flowchart TD"}

	seenWatches := map[string]bool{}
	for _, id := range f.NodeIDs() {
		node := f.Nodes[id]
		lines = append(lines, fmt.Sprintf("%s(%s)", id, id))

		for _, t := range node.Triggers {
			switch t.Kind {
			case KindOnce:
			case KindAfter:
				for _, pred := range t.After {
					lines = append(lines, fmt.Sprintf("%s --> %s", pred, id))
				}
			case KindRestart:
				lines = append(lines, fmt.Sprintf("%s -->|∞ %.3gs| %s", id, t.Delay.Seconds(), id))
			case KindWatch:
				h := pathsKey(t.Paths)
				if !seenWatches[h] {
					seenWatches[h] = true
					lines = append(lines, fmt.Sprintf("w_%s[(%q)]", h, strings.Join(t.Paths, "\n")))
				}
				lines = append(lines, fmt.Sprintf("w_%s -->|👁| %s", h, id))
			}
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n  "))
}

// pathsKey derives a stable identifier for a set of watched paths.
func pathsKey(paths []string) string {
	sum := md5.Sum([]byte(strings.Join(paths, "")))
	return hex.EncodeToString(sum[:])[:8]
}
