// Package engine contains the flow scheduler.
//
// The engine is a single-writer event loop: one goroutine owns the per-node
// state table and the trigger state machines, and mutates them only while
// processing events consumed from its bus subscription. Timers, watchers,
// and the process supervisor communicate with the scheduler exclusively by
// publishing events, so no lock protects node state.
//
// The loop runs until the user interrupts or the flow is quiescent: no node
// is running and no remaining trigger can ever fire again. On shutdown the
// scheduler terminates every running child through the supervisor's
// graceful-then-forced protocol, waits for their exit events, and computes
// the process exit code.
package engine
