package supervisor

import (
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/synthesize-dev/synthesize/internal/bus"
)

// State tracks where a handle is in its lifetime.
type State int

const (
	// StateRunning means the child is alive and has not been asked to stop.
	StateRunning State = iota + 1
	// StateTerminating means SIGTERM was sent and the grace timer is armed.
	StateTerminating
	// StateExited means the child was reaped and NodeExited published.
	StateExited
)

// Handle supervises one spawned child until it exits.
type Handle struct {
	NodeID string
	PID    int

	sup   *Supervisor
	spec  Spec
	cmd   *exec.Cmd
	start time.Time

	mu         sync.Mutex
	state      State
	graceTimer *time.Timer

	done chan struct{}
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == 0 {
		return StateRunning
	}
	return h.state
}

// Done closes after the run's NodeExited event has been published.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stop begins graceful termination: SIGTERM to the process group, then
// SIGKILL if the child has not been reaped within the supervisor's grace
// window. Stop is idempotent; calling it on an exited handle is a no-op.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateExited || h.state == StateTerminating {
		return
	}
	h.state = StateTerminating

	h.signalGroup(syscall.SIGTERM)
	h.graceTimer = time.AfterFunc(h.sup.grace, h.Kill)
}

// Kill sends SIGKILL to the process group immediately. Used by the grace
// timer and by the second-interrupt escalation path.
func (h *Handle) Kill() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateExited {
		return
	}
	h.signalGroup(syscall.SIGKILL)
}

// signalGroup signals the child's process group. ESRCH means the group is
// already gone, which is indistinguishable from a normal exit and not an
// error. Callers hold h.mu.
func (h *Handle) signalGroup(sig syscall.Signal) {
	if err := syscall.Kill(-h.PID, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		h.sup.log.Warn("failed to signal process group",
			"node", h.NodeID, "pid", h.PID, "signal", sig.String(), "error", err)
	}
}

// reap records the child's exit and publishes the run's single NodeExited
// event. Called exactly once, after both pipe readers have returned and
// cmd.Wait completed.
func (h *Handle) reap(waitErr error) {
	duration := time.Since(h.start)

	code, sig, errText := exitStatus(waitErr)

	h.mu.Lock()
	h.state = StateExited
	if h.graceTimer != nil {
		h.graceTimer.Stop()
		h.graceTimer = nil
	}
	h.mu.Unlock()

	h.sup.bus.Publish(bus.Event{
		Kind:     bus.KindNodeExited,
		Node:     h.spec.NodeID,
		Run:      h.spec.Run,
		RunToken: h.spec.RunToken,
		PID:      h.PID,
		ExitCode: code,
		Signal:   sig,
		Duration: duration,
		Err:      errText,
	})

	close(h.done)
}

// exitStatus decodes cmd.Wait's result into (exit code, signal, error text).
// A signal-terminated child reports 128+signum as its code, matching shell
// convention. An unexpected wait error (not an ExitError) is a supervisor
// error: the code is forced to -1 and the text carried on the event.
func exitStatus(waitErr error) (code, sig int, errText string) {
	if waitErr == nil {
		return 0, 0, ""
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return -1, 0, waitErr.Error()
	}

	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return -1, 0, waitErr.Error()
	}
	if ws.Signaled() {
		s := int(ws.Signal())
		return 128 + s, s, ""
	}
	return ws.ExitStatus(), 0, ""
}
