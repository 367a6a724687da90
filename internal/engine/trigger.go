package engine

import (
	"time"

	"github.com/synthesize-dev/synthesize/internal/flow"
	"github.com/synthesize-dev/synthesize/internal/watch"
)

// Fire causes recorded on TriggerFired events.
const (
	// CauseStart is a Once trigger firing at engine start.
	CauseStart = "start"
	// CauseAfter is an After trigger firing on predecessor success.
	CauseAfter = "after"
	// CauseWatch is a Watch trigger firing on filesystem changes.
	CauseWatch = "watch"
	// CauseRestart is a Restart trigger's delay timer firing.
	CauseRestart = "restart"
	// CausePendingRestart is the synthetic fire emitted when a run exits
	// with a coalesced restart pending.
	CausePendingRestart = "pending-restart"
)

// PendingTriggerIndex marks synthetic pending-restart fires, which don't
// belong to any declared trigger.
const PendingTriggerIndex = -1

// triggerState is the per-(node, trigger) state machine. All fields are
// owned by the scheduler goroutine. Firing means publishing a TriggerFired
// event; the scheduler acts only when it consumes that event back from the
// bus, so every fire path shares one code path and one ordering.
type triggerState struct {
	node  string
	index int
	trig  flow.Trigger

	// Once: whether the single fire has been emitted.
	fired bool

	// After: predecessors that completed a successful run since this
	// trigger's last fire.
	seen map[string]bool

	// Watch: normalized path roots for prefix matching.
	paths []string

	// Restart: the armed delay timer, if any.
	timer *time.Timer
}

func newTriggerState(nodeID string, index int, t flow.Trigger) *triggerState {
	ts := &triggerState{node: nodeID, index: index, trig: t}
	switch t.Kind {
	case flow.KindAfter:
		ts.seen = make(map[string]bool, len(t.After))
	case flow.KindWatch:
		ts.paths = make([]string, len(t.Paths))
		for i, p := range t.Paths {
			ts.paths[i] = watch.Normalize(p)
		}
	}
	return ts
}

// predecessorSucceeded records a successful completion of pred and reports
// whether the After trigger is now due to fire. Firing resets the seen set,
// so a re-firing predecessor must complete again before the next fire.
func (ts *triggerState) predecessorSucceeded(pred string) bool {
	if ts.trig.Kind != flow.KindAfter {
		return false
	}
	relevant := false
	for _, p := range ts.trig.After {
		if p == pred {
			relevant = true
			break
		}
	}
	if !relevant {
		return false
	}

	ts.seen[pred] = true
	for _, p := range ts.trig.After {
		if !ts.seen[p] {
			return false
		}
	}
	ts.seen = make(map[string]bool, len(ts.trig.After))
	return true
}

// matches reports whether a watch event's paths intersect this Watch
// trigger's roots.
func (ts *triggerState) matches(eventPaths []string) bool {
	return ts.trig.Kind == flow.KindWatch && watch.Intersects(ts.paths, eventPaths)
}

// viable reports whether the trigger could still fire at some point in the
// future. Quiescence detection and terminal-state classification both reduce
// to "is any trigger still viable".
//
// Restart and Watch triggers are always viable: nothing ever retires them.
// Once is viable until it fires. After is viable while every one of its
// predecessors has either already completed a successful run since the last
// fire or could still produce one.
func (e *Engine) viable(ts *triggerState) bool {
	switch ts.trig.Kind {
	case flow.KindOnce:
		return !ts.fired
	case flow.KindRestart, flow.KindWatch:
		return true
	case flow.KindAfter:
		for _, pred := range ts.trig.After {
			if !ts.seen[pred] && !e.canProduceSuccess(pred) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// canProduceSuccess reports whether a node may still complete a successful
// run. True while the node is live, and otherwise while any of its own
// triggers remains viable. The recursion follows After edges backwards only,
// so it terminates on the validated acyclic graph.
func (e *Engine) canProduceSuccess(nodeID string) bool {
	st, ok := e.states[nodeID]
	if !ok {
		return false
	}
	if st.live() {
		return true
	}
	if st.Lifecycle.Terminal() && st.Lifecycle != Succeeded {
		return false
	}
	for _, ts := range e.byNode[nodeID] {
		if e.viable(ts) {
			return true
		}
	}
	return false
}

// anyViable reports whether any trigger on the node could still fire.
func (e *Engine) anyViable(nodeID string) bool {
	for _, ts := range e.byNode[nodeID] {
		if e.viable(ts) {
			return true
		}
	}
	return false
}

// computeCanRepeat precomputes, per node, whether the node's trigger set can
// request runs indefinitely: a Restart or Watch trigger directly, or an
// After trigger all of whose predecessors can themselves repeat. Used by the
// exit-code policy to exclude never-complete nodes on user interrupt.
func computeCanRepeat(f flow.Flow) map[string]bool {
	memo := make(map[string]bool, len(f.Nodes))

	var repeats func(id string) bool
	repeats = func(id string) bool {
		if v, ok := memo[id]; ok {
			return v
		}
		// Pre-seed to terminate on malformed input; the graph is acyclic
		// after validation so this value is never read back on valid flows.
		memo[id] = false

		n := f.Nodes[id]
		if n.HasRepeatingTrigger() {
			memo[id] = true
			return true
		}
		for _, t := range n.Triggers {
			if t.Kind != flow.KindAfter || len(t.After) == 0 {
				continue
			}
			all := true
			for _, pred := range t.After {
				if !repeats(pred) {
					all = false
					break
				}
			}
			if all {
				memo[id] = true
				return true
			}
		}
		return memo[id]
	}

	for id := range f.Nodes {
		repeats(id)
	}
	return memo
}
