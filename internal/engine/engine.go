package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/synthesize-dev/synthesize/internal/bus"
	"github.com/synthesize-dev/synthesize/internal/flow"
	"github.com/synthesize-dev/synthesize/internal/supervisor"
	"github.com/synthesize-dev/synthesize/internal/template"
	"github.com/synthesize-dev/synthesize/internal/watch"
)

// schedulerDepth sizes the scheduler's bus subscription. The scheduler
// publishes from the same goroutine it consumes on, so its buffer must
// comfortably exceed the events one handler can emit.
const schedulerDepth = 4096

// Options configures an Engine.
type Options struct {
	// Environ is the base environment snapshot for children. Nil means
	// os.Environ() taken at engine start.
	Environ []string

	// WorkDir is the children's working directory. Empty inherits the
	// engine's.
	WorkDir string

	// Heartbeat is the footer refresh tick. Zero selects one second.
	Heartbeat time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine executes one flow to completion.
type Engine struct {
	flow flow.Flow
	bus  *bus.Bus
	sup  *supervisor.Supervisor
	log  *slog.Logger

	environ   []string
	workDir   string
	heartbeat time.Duration

	// Scheduler-owned state. Mutated only while handling events.
	states         map[string]*NodeState
	byNode         map[string][]*triggerState
	triggers       []*triggerState
	canRepeat      map[string]bool
	restartPending map[string]bool
	handles        map[string]*supervisor.Handle
	runsStarted    map[string]int

	// pendingFires counts TriggerFired events published from the scheduler
	// goroutine but not yet consumed. Quiescence must not be declared while
	// a fire is in flight.
	pendingFires int

	shuttingDown bool
	reason       bus.Reason

	watchers      []*watch.Watcher
	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
}

// New creates an engine for a validated flow. Run reports validation errors
// before any node starts, so callers may skip a separate Validate call.
func New(f flow.Flow, b *bus.Bus, sup *supervisor.Supervisor, opts Options) *Engine {
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	hb := opts.Heartbeat
	if hb <= 0 {
		hb = time.Second
	}

	return &Engine{
		flow:           f,
		bus:            b,
		sup:            sup,
		log:            log,
		environ:        environ,
		workDir:        opts.WorkDir,
		heartbeat:      hb,
		states:         make(map[string]*NodeState, len(f.Nodes)),
		byNode:         make(map[string][]*triggerState, len(f.Nodes)),
		restartPending: make(map[string]bool),
		handles:        make(map[string]*supervisor.Handle),
		runsStarted:    make(map[string]int, len(f.Nodes)),
	}
}

// Run executes the flow until quiescence or until ctx is cancelled (treated
// as a user interrupt). It returns the engine exit code: 0 only if no node
// ever recorded a failing exit and every node that could complete did so
// successfully.
func (e *Engine) Run(ctx context.Context) (int, error) {
	if err := e.flow.Validate(); err != nil {
		return 0, err
	}

	e.canRepeat = computeCanRepeat(e.flow)
	for _, id := range e.flow.NodeIDs() {
		e.states[id] = &NodeState{Lifecycle: Waiting}
		for i, t := range e.flow.Nodes[id].Triggers {
			ts := newTriggerState(id, i, t)
			e.triggers = append(e.triggers, ts)
			e.byNode[id] = append(e.byNode[id], ts)
		}
	}

	if err := e.createWatchers(); err != nil {
		return 0, err
	}

	sub := e.bus.Subscribe("scheduler", schedulerDepth)

	for _, w := range e.watchers {
		w.Start()
	}
	e.startHeartbeat()

	// Once triggers fire at engine start; Restart triggers arm their
	// initial delay.
	for _, ts := range e.triggers {
		switch ts.trig.Kind {
		case flow.KindOnce:
			ts.fired = true
			e.fire(ts.node, ts.index, CauseStart)
		case flow.KindRestart:
			e.armRestart(ts)
		}
	}
	e.checkQuiescent()

	ctxDone := ctx.Done()
	for !e.done() {
		select {
		case <-ctxDone:
			ctxDone = nil
			e.bus.Publish(bus.Event{Kind: bus.KindEngineShuttingDown, Reason: bus.ReasonUserInterrupt})
		case ev, ok := <-sub.C:
			if !ok {
				return e.exitCode(), nil
			}
			e.handle(ev)
		}
	}

	e.stopBackground(sub)
	code := e.exitCode()

	e.bus.Close()
	for range sub.C {
		// Drain until the bus closes the channel.
	}
	return code, nil
}

// done reports whether the shutdown sequence has finished: shutdown begun,
// every child reaped, nothing mid-spawn.
func (e *Engine) done() bool {
	if !e.shuttingDown {
		return false
	}
	for _, st := range e.states {
		if st.live() {
			return false
		}
	}
	return true
}

// handle dispatches one consumed event.
func (e *Engine) handle(ev bus.Event) {
	switch ev.Kind {
	case bus.KindTriggerFired:
		e.handleTriggerFired(ev)
	case bus.KindNodeExited:
		e.handleNodeExited(ev)
	case bus.KindWatchEvent:
		e.handleWatchEvent(ev)
	case bus.KindEngineShuttingDown:
		e.handleShuttingDown(ev)
	}
	e.checkQuiescent()
}

// fire publishes a TriggerFired event from the scheduler goroutine.
func (e *Engine) fire(nodeID string, index int, cause string) {
	e.pendingFires++
	e.bus.Publish(bus.Event{
		Kind:         bus.KindTriggerFired,
		Node:         nodeID,
		TriggerIndex: index,
		Cause:        cause,
	})
}

// armRestart schedules a Restart trigger's next fire. The timer callback
// only publishes; the scheduler acts when the event comes back around.
func (e *Engine) armRestart(ts *triggerState) {
	node, index := ts.node, ts.index
	ts.timer = time.AfterFunc(ts.trig.Delay, func() {
		e.bus.Publish(bus.Event{
			Kind:         bus.KindTriggerFired,
			Node:         node,
			TriggerIndex: index,
			Cause:        CauseRestart,
		})
	})
}

func (e *Engine) handleTriggerFired(ev bus.Event) {
	// Timer-published fires never incremented pendingFires. The guard also
	// keeps externally published fires from driving the counter negative.
	if ev.Cause != CauseRestart && e.pendingFires > 0 {
		e.pendingFires--
	}
	if e.shuttingDown {
		return
	}

	st, ok := e.states[ev.Node]
	if !ok {
		return
	}

	// A fire against a live node coalesces into a single pending restart.
	if st.live() {
		e.restartPending[ev.Node] = true
		return
	}

	e.startNode(ev.Node)
}

// startNode renders and spawns one run. Render and spawn failures become
// synthetic NodeExited events with code -1, so the exit policy (including a
// coalesced pending restart) applies uniformly.
func (e *Engine) startNode(nodeID string) {
	node := e.flow.Nodes[nodeID]
	st := e.states[nodeID]
	st.Lifecycle = Ready

	run := e.runsStarted[nodeID] + 1
	token := uuid.Must(uuid.NewV7()).String()

	bindings := e.flow.Bindings(node)
	script, err := template.Render(node.Target.Commands, map[string]string(bindings))
	if err != nil {
		e.failSpawn(nodeID, run, err)
		return
	}

	env, err := e.childEnv(node, bindings)
	if err != nil {
		e.failSpawn(nodeID, run, err)
		return
	}

	h, err := e.sup.Spawn(supervisor.Spec{
		NodeID:     nodeID,
		Run:        run,
		RunToken:   token,
		Executable: node.Target.ExecutableLine(),
		Script:     script,
		Env:        env,
		Dir:        e.workDir,
	})
	if err != nil {
		e.failSpawn(nodeID, run, err)
		return
	}

	e.runsStarted[nodeID] = run
	e.handles[nodeID] = h
	st.Lifecycle = Running
	st.PID = h.PID
	st.StartedAt = time.Now()
}

// failSpawn publishes the synthetic exit for a run that never reached the
// shell.
func (e *Engine) failSpawn(nodeID string, run int, err error) {
	e.log.Error("node failed to start", "node", nodeID, "error", err)
	e.runsStarted[nodeID] = run
	e.states[nodeID].Lifecycle = Running // consumed immediately by the synthetic exit
	e.bus.Publish(bus.Event{
		Kind:     bus.KindNodeExited,
		Node:     nodeID,
		Run:      run,
		ExitCode: -1,
		Err:      err.Error(),
	})
}

// childEnv builds the child's environment: engine environment overlaid with
// flow < target < node env values, each rendered, plus SYNTH_NODE_ID.
func (e *Engine) childEnv(node flow.Node, bindings flow.Args) ([]string, error) {
	overlay := e.flow.EnvOverlay(node)

	env := make([]string, 0, len(e.environ)+len(overlay)+1)
	env = append(env, e.environ...)
	for _, k := range sortedKeys(overlay) {
		v, err := template.Render(overlay[k], map[string]string(bindings))
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", k, err)
		}
		env = append(env, k+"="+v)
	}
	env = append(env, "SYNTH_NODE_ID="+node.ID)
	return env, nil
}

// sortedKeys keeps child environments deterministic across runs.
func sortedKeys(m flow.Envs) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) handleNodeExited(ev bus.Event) {
	st, ok := e.states[ev.Node]
	if !ok {
		return
	}

	wasTerminating := st.Lifecycle == Terminating
	delete(e.handles, ev.Node)

	st.RunCount = ev.Run
	st.PID = 0
	st.LastExit = &ExitRecord{
		Code:     ev.ExitCode,
		Signal:   ev.Signal,
		Duration: ev.Duration,
		Err:      ev.Err,
	}

	success := ev.Succeeded()
	if !success && !wasTerminating && !e.shuttingDown {
		st.FailedEver = true
	}

	if e.shuttingDown {
		e.classifyOnShutdownExit(ev.Node, st, success, wasTerminating)
		return
	}

	// Downstream After triggers observe successful completions.
	if success {
		for _, ts := range e.triggers {
			if ts.predecessorSucceeded(ev.Node) {
				e.fire(ts.node, ts.index, CauseAfter)
			}
		}
	}

	// Each exit re-arms the node's own Restart triggers.
	for _, ts := range e.byNode[ev.Node] {
		if ts.trig.Kind == flow.KindRestart {
			e.armRestart(ts)
		}
	}

	if e.restartPending[ev.Node] {
		delete(e.restartPending, ev.Node)
		st.Lifecycle = Waiting
		e.fire(ev.Node, PendingTriggerIndex, CausePendingRestart)
		return
	}

	switch {
	case e.anyViable(ev.Node):
		st.Lifecycle = Waiting
	case success:
		st.Lifecycle = Succeeded
	default:
		st.Lifecycle = Failed
	}
}

// classifyOnShutdownExit settles a node's terminal state for an exit that
// arrived after shutdown began. A child that was signalled (or that we were
// terminating) is Cancelled; one that completed on its own keeps its natural
// classification.
func (e *Engine) classifyOnShutdownExit(nodeID string, st *NodeState, success, wasTerminating bool) {
	switch {
	case wasTerminating || st.LastExit.Signal != 0:
		st.Lifecycle = Cancelled
	case success && !e.flow.Nodes[nodeID].HasRepeatingTrigger():
		st.Lifecycle = Succeeded
	case success:
		st.Lifecycle = Cancelled
	default:
		st.Lifecycle = Failed
		st.FailedEver = true
	}
}

func (e *Engine) handleWatchEvent(ev bus.Event) {
	if e.shuttingDown {
		return
	}
	for _, ts := range e.triggers {
		if ts.matches(ev.Paths) {
			e.fire(ts.node, ts.index, CauseWatch)
		}
	}
}

func (e *Engine) handleShuttingDown(ev bus.Event) {
	if ev.Reason == bus.ReasonForceKill {
		// Second interrupt: no grace, SIGKILL every group now.
		for _, h := range e.handles {
			h.Kill()
		}
	}

	if e.shuttingDown {
		return
	}
	e.shuttingDown = true
	e.reason = ev.Reason
	if ev.Reason == bus.ReasonForceKill {
		e.reason = bus.ReasonUserInterrupt
	}

	e.log.Debug("shutting down", "reason", ev.Reason.String())

	// Cancel restart timers; a node cut mid-cycle is Cancelled.
	for _, ts := range e.triggers {
		if ts.timer != nil {
			ts.timer.Stop()
			ts.timer = nil
			if st := e.states[ts.node]; !st.live() && st.RunCount > 0 && !st.Lifecycle.Terminal() {
				st.Lifecycle = Cancelled
			}
		}
	}
	e.restartPending = make(map[string]bool)

	// Watchers are cancelled here but awaited in stopBackground, while the
	// scheduler keeps draining; a watcher blocked mid-publish must never
	// deadlock against us.
	for _, w := range e.watchers {
		w.Cancel()
	}

	for id, h := range e.handles {
		if st := e.states[id]; st.Lifecycle == Running {
			st.Lifecycle = Terminating
		}
		h.Stop()
	}
}

// checkQuiescent detects "no more work": nothing live, no fire in flight,
// and no trigger that could ever fire again. The scheduler then asks itself
// to shut down through the same event path user interrupts use.
func (e *Engine) checkQuiescent() {
	if e.shuttingDown || e.pendingFires > 0 {
		return
	}
	for _, st := range e.states {
		if st.live() {
			return
		}
	}
	for _, ts := range e.triggers {
		if e.viable(ts) {
			return
		}
	}
	e.bus.Publish(bus.Event{Kind: bus.KindEngineShuttingDown, Reason: bus.ReasonQuiescent})
}

// exitCode implements the success predicate: zero only if no run ever
// failed and every node either succeeded or, on user interrupt, is an idle
// node that by construction can never be "complete".
func (e *Engine) exitCode() int {
	for _, id := range e.flow.NodeIDs() {
		st := e.states[id]
		if st.FailedEver {
			return 1
		}
		switch st.Lifecycle {
		case Succeeded:
		case Failed, Cancelled:
			return 1
		default:
			if e.reason == bus.ReasonUserInterrupt && e.canRepeat[id] {
				continue
			}
			return 1
		}
	}
	return 0
}

// createWatchers builds one watcher per distinct (roots, debounce) pair
// across all Watch triggers. Missing roots fail here, before any spawn.
func (e *Engine) createWatchers() error {
	type key struct {
		roots    string
		debounce time.Duration
	}
	seen := map[key]bool{}

	for _, id := range e.flow.NodeIDs() {
		for _, t := range e.flow.Nodes[id].Triggers {
			if t.Kind != flow.KindWatch {
				continue
			}
			normalized := make([]string, len(t.Paths))
			for i, p := range t.Paths {
				normalized[i] = watch.Normalize(p)
			}
			k := key{roots: strings.Join(normalized, "\x00"), debounce: t.DebounceWindow()}
			if seen[k] {
				continue
			}
			seen[k] = true

			w, err := watch.New(e.bus, t.Paths, t.DebounceWindow(), e.log)
			if err != nil {
				for _, prev := range e.watchers {
					prev.Cancel()
				}
				return fmt.Errorf("node %q: %w", id, err)
			}
			e.watchers = append(e.watchers, w)
		}
	}
	return nil
}

func (e *Engine) startHeartbeat() {
	e.heartbeatStop = make(chan struct{})
	e.heartbeatDone = make(chan struct{})
	go func() {
		defer close(e.heartbeatDone)
		ticker := time.NewTicker(e.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.bus.Publish(bus.Event{Kind: bus.KindHeartbeat})
			case <-e.heartbeatStop:
				return
			}
		}
	}()
}

// stopBackground winds down publishers that share the bus with us. The
// scheduler keeps draining its own subscription while waiting so that a
// publisher blocked on our full buffer can finish its send and observe the
// cancellation.
func (e *Engine) stopBackground(sub *bus.Subscription) {
	close(e.heartbeatStop)
	e.awaitWhileDraining(e.heartbeatDone, sub)
	for _, w := range e.watchers {
		w.Cancel()
		e.awaitWhileDraining(w.Done(), sub)
	}
}

func (e *Engine) awaitWhileDraining(done <-chan struct{}, sub *bus.Subscription) {
	for {
		select {
		case <-done:
			return
		case <-sub.C:
		}
	}
}
