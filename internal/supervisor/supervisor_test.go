package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthesize-dev/synthesize/internal/bus"
)

// collect drains events for one run until its NodeExited arrives.
func collect(t *testing.T, sub *bus.Subscription) []bus.Event {
	t.Helper()

	var events []bus.Event
	deadline := time.After(30 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			events = append(events, ev)
			if ev.Kind == bus.KindNodeExited {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for NodeExited; got %d events", len(events))
		}
	}
}

func spawn(t *testing.T, script string, opts Options) (*Handle, *bus.Subscription) {
	t.Helper()

	b := bus.New()
	sub := b.Subscribe("test", 1024)
	sup := New(b, opts)

	h, err := sup.Spawn(Spec{
		NodeID:   "n",
		Run:      1,
		RunToken: "run-1",
		Script:   script,
	})
	require.NoError(t, err)
	return h, sub
}

func TestSpawn_EchoLifecycle(t *testing.T) {
	h, sub := spawn(t, "echo ok", Options{})
	events := collect(t, sub)

	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, bus.KindNodeStarted, events[0].Kind)
	assert.Equal(t, h.PID, events[0].PID)
	assert.Equal(t, 1, events[0].Run)

	var lines [][]byte
	for _, ev := range events {
		if ev.Kind == bus.KindNodeOutput {
			lines = append(lines, ev.Line)
			assert.Equal(t, bus.StreamOut, ev.Stream)
			assert.False(t, ev.Timestamp.IsZero())
		}
	}
	require.Len(t, lines, 1)
	assert.Equal(t, "ok", string(lines[0]))

	exited := events[len(events)-1]
	assert.Equal(t, 0, exited.ExitCode)
	assert.Equal(t, 0, exited.Signal)
	assert.True(t, exited.Succeeded())
	assert.Greater(t, exited.Duration, time.Duration(0))

	<-h.Done()
	assert.Equal(t, StateExited, h.State())
}

func TestSpawn_NonZeroExit(t *testing.T) {
	_, sub := spawn(t, "exit 2", Options{})
	events := collect(t, sub)

	exited := events[len(events)-1]
	assert.Equal(t, 2, exited.ExitCode)
	assert.False(t, exited.Succeeded())
}

func TestSpawn_StderrIsTagged(t *testing.T) {
	_, sub := spawn(t, "echo oops >&2", Options{})
	events := collect(t, sub)

	var found bool
	for _, ev := range events {
		if ev.Kind == bus.KindNodeOutput && ev.Stream == bus.StreamErr {
			found = true
			assert.Equal(t, "oops", string(ev.Line))
		}
	}
	assert.True(t, found, "expected a stderr line")
}

func TestSpawn_MultilineScriptAndPipeline(t *testing.T) {
	script := "printf 'one\\ntwo\\n' | wc -l\necho done"
	_, sub := spawn(t, script, Options{})
	events := collect(t, sub)

	var lines []string
	for _, ev := range events {
		if ev.Kind == bus.KindNodeOutput {
			lines = append(lines, string(ev.Line))
		}
	}
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "2")
	assert.Equal(t, "done", lines[1])
}

func TestSpawn_LongLineIsChunked(t *testing.T) {
	const total = 200 * 1024

	// 200 KiB of 'x' with no newline, then exit 0.
	script := "head -c 204800 /dev/zero | tr '\\0' 'x'"
	_, sub := spawn(t, script, Options{})
	events := collect(t, sub)

	var chunks int
	var got int
	for _, ev := range events {
		if ev.Kind == bus.KindNodeOutput {
			chunks++
			got += len(ev.Line)
			assert.LessOrEqual(t, len(ev.Line), MaxLineBytes)
		}
	}
	assert.GreaterOrEqual(t, chunks, 3, "long output must arrive as multiple fragments")
	assert.Equal(t, total, got, "no bytes lost to chunking")

	exited := events[len(events)-1]
	assert.Equal(t, 0, exited.ExitCode)
}

func TestSpawn_ExitedEventIsLastAndUnique(t *testing.T) {
	_, sub := spawn(t, "echo a; echo b; echo c", Options{})
	events := collect(t, sub)

	var exits int
	for _, ev := range events {
		if ev.Kind == bus.KindNodeExited {
			exits++
		}
	}
	assert.Equal(t, 1, exits)
	assert.Equal(t, bus.KindNodeExited, events[len(events)-1].Kind)
}

func TestStop_GracefulTermination(t *testing.T) {
	h, sub := spawn(t, "sleep 30", Options{})

	// Give the child a beat to be alive, then terminate.
	time.Sleep(50 * time.Millisecond)
	h.Stop()
	assert.Equal(t, StateTerminating, h.State())

	events := collect(t, sub)
	exited := events[len(events)-1]
	assert.Equal(t, int(15), exited.Signal, "sleep dies to SIGTERM")
	assert.False(t, exited.Succeeded())

	<-h.Done()
	assert.Equal(t, StateExited, h.State())
}

func TestStop_EscalatesToKillAfterGrace(t *testing.T) {
	// The child ignores SIGTERM, so only the SIGKILL escalation ends it.
	script := "trap '' TERM\nwhile true; do sleep 1; done"
	h, sub := spawn(t, script, Options{Grace: 200 * time.Millisecond})

	time.Sleep(50 * time.Millisecond)
	h.Stop()

	events := collect(t, sub)
	exited := events[len(events)-1]
	assert.Equal(t, int(9), exited.Signal)
}

func TestStop_Idempotent(t *testing.T) {
	h, sub := spawn(t, "sleep 30", Options{})
	time.Sleep(50 * time.Millisecond)

	h.Stop()
	h.Stop()
	collect(t, sub)
	assert.NotPanics(t, h.Stop)
}

func TestStop_AfterExitIsNoop(t *testing.T) {
	h, sub := spawn(t, "true", Options{})
	collect(t, sub)
	<-h.Done()
	assert.NotPanics(t, h.Stop)
	assert.Equal(t, StateExited, h.State())
}

func TestSpawn_ChildGetsEnv(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("test", 64)
	sup := New(b, Options{})

	_, err := sup.Spawn(Spec{
		NodeID: "n",
		Run:    1,
		Script: `echo "$GREETING"`,
		Env:    []string{"PATH=/usr/bin:/bin", "GREETING=hello"},
	})
	require.NoError(t, err)

	events := collect(t, sub)
	var line string
	for _, ev := range events {
		if ev.Kind == bus.KindNodeOutput {
			line = string(ev.Line)
		}
	}
	assert.Equal(t, "hello", line)
}

func TestSpawn_CustomExecutableRunsScriptFile(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("test", 64)
	sup := New(b, Options{ScriptDir: t.TempDir()})

	_, err := sup.Spawn(Spec{
		NodeID:     "n",
		Run:        1,
		RunToken:   "run-1",
		Executable: "sh -u",
		Script:     "echo from-script-file",
	})
	require.NoError(t, err)

	events := collect(t, sub)
	var line string
	for _, ev := range events {
		if ev.Kind == bus.KindNodeOutput {
			line = string(ev.Line)
		}
	}
	assert.Equal(t, "from-script-file", line)
}

func TestSpawn_UnknownExecutableFails(t *testing.T) {
	b := bus.New()
	sup := New(b, Options{})

	_, err := sup.Spawn(Spec{
		NodeID:     "n",
		Run:        1,
		Executable: "definitely-not-a-real-shell-9000",
		Script:     "echo hi",
	})
	require.Error(t, err)
}
