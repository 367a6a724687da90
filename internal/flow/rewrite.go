package flow

// RewriteOnce returns a copy of the flow in which every Restart and Watch
// trigger is replaced by Once. The rewrite happens before engine start, so
// scheduling logic never needs a special single-shot mode: a rewritten flow
// simply quiesces after every node has had its one run.
//
// Node identities, After edges, and binding layers are preserved unchanged.
func RewriteOnce(f Flow) Flow {
	out := Flow{
		Name:  f.Name,
		Nodes: make(map[string]Node, len(f.Nodes)),
		Args:  f.Args,
		Envs:  f.Envs,
	}
	for id, n := range f.Nodes {
		triggers := make([]Trigger, len(n.Triggers))
		for i, t := range n.Triggers {
			if t.Kind.Repeating() {
				triggers[i] = Once()
			} else {
				triggers[i] = t
			}
		}
		n.Triggers = triggers
		out.Nodes[id] = n
	}
	return out
}
