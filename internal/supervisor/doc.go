// Package supervisor spawns and supervises one child process per node run.
//
// Children run under a POSIX shell in their own process group, so a single
// group signal terminates the whole subtree. Stdout and stderr are streamed
// line by line onto the event bus; lines longer than MaxLineBytes are emitted
// as multiple fragments so a child that never writes a newline cannot exhaust
// memory or stall the reader.
//
// Termination is graceful-then-forced: Stop sends SIGTERM to the group and
// arms a grace timer that escalates to SIGKILL. A child that cannot be
// signalled (ESRCH) is treated as already exited. Exactly one NodeExited
// event is published per run, after both pipes are drained and wait has
// returned.
package supervisor
