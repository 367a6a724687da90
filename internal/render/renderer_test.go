package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthesize-dev/synthesize/internal/bus"
	"github.com/synthesize-dev/synthesize/internal/flow"
	"github.com/synthesize-dev/synthesize/internal/testutil"
)

func testFlow() flow.Flow {
	return testutil.Flow(
		testutil.Node("api", "true"),
		testutil.Node("web", "true"),
	)
}

func renderEvents(t *testing.T, tty bool, events ...bus.Event) string {
	t.Helper()

	b := bus.New()
	sub := b.Subscribe("renderer", 0)

	var out bytes.Buffer
	r := New(&out, testFlow(), Options{TTY: tty})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(sub)
	}()

	for _, ev := range events {
		b.Publish(ev)
	}
	b.Close()
	<-done

	return out.String()
}

func at() time.Time {
	return time.Date(2024, 6, 1, 9, 30, 15, 0, time.Local)
}

func TestRenderer_OutputLineFormat(t *testing.T) {
	out := renderEvents(t, false, bus.Event{
		Kind:      bus.KindNodeOutput,
		Node:      "api",
		Stream:    bus.StreamOut,
		Line:      []byte("listening on :8080"),
		Timestamp: at(),
	})

	assert.Contains(t, out, "09:30:15")
	assert.Contains(t, out, "api")
	assert.Contains(t, out, "│ listening on :8080\n")
}

func TestRenderer_PrefixAlignsAcrossNodes(t *testing.T) {
	out := renderEvents(t, false,
		bus.Event{Kind: bus.KindNodeOutput, Node: "api", Line: []byte("a"), Timestamp: at()},
		bus.Event{Kind: bus.KindNodeOutput, Node: "web", Line: []byte("b"), Timestamp: at()},
	)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	var cols []int
	for _, line := range lines {
		if idx := strings.Index(line, "│"); idx >= 0 {
			cols = append(cols, idx)
		}
	}
	require.Len(t, cols, 2)
	assert.Equal(t, cols[0], cols[1], "divider column is stable across nodes")
}

func TestRenderer_RawBytesPassThrough(t *testing.T) {
	// Invalid UTF-8 is printed as-is.
	raw := []byte{0xff, 0xfe, 'x'}
	out := renderEvents(t, false, bus.Event{
		Kind: bus.KindNodeOutput, Node: "api", Line: raw, Timestamp: at(),
	})
	assert.Contains(t, out, string(raw))
}

func TestRenderer_LifecycleLines(t *testing.T) {
	out := renderEvents(t, false,
		bus.Event{Kind: bus.KindNodeStarted, Node: "api", Run: 1, PID: 4242, Timestamp: at()},
		bus.Event{Kind: bus.KindNodeExited, Node: "api", Run: 1, PID: 4242, ExitCode: 0, Timestamp: at()},
	)

	assert.Contains(t, out, "started (pid 4242)")
	assert.Contains(t, out, "exited with code")
}

func TestRenderer_SummaryAfterEngineStopped(t *testing.T) {
	out := renderEvents(t, false,
		bus.Event{Kind: bus.KindNodeStarted, Node: "api", Run: 1, PID: 1, Timestamp: at()},
		bus.Event{Kind: bus.KindNodeExited, Node: "api", Run: 1, PID: 1, ExitCode: 2,
			Duration: 120 * time.Millisecond, Timestamp: at()},
		bus.Event{Kind: bus.KindEngineShuttingDown, Reason: bus.ReasonQuiescent, Timestamp: at()},
	)

	assert.Contains(t, out, "runs=1")
	assert.Contains(t, out, "exit=2")
	assert.Contains(t, out, "─────")
	assert.Contains(t, out, "failed")
}

func TestRenderer_NoFooterWithoutTTY(t *testing.T) {
	out := renderEvents(t, false,
		bus.Event{Kind: bus.KindHeartbeat, Timestamp: at()},
		bus.Event{Kind: bus.KindNodeOutput, Node: "api", Line: []byte("x"), Timestamp: at()},
	)

	assert.NotContains(t, out, "\0337", "no cursor-save without a TTY")
	assert.NotContains(t, out, "\033[0J")
}

func TestRenderer_FooterOnTTY(t *testing.T) {
	out := renderEvents(t, true,
		bus.Event{Kind: bus.KindNodeOutput, Node: "api", Line: []byte("x"), Timestamp: at()},
	)

	assert.Contains(t, out, "\0337", "footer saves the cursor")
	assert.Contains(t, out, "\0338", "footer restores the cursor")
	assert.Contains(t, out, "\033[2K", "footer clears its lines")
}

func TestRenderer_SpawnFailureIsReported(t *testing.T) {
	out := renderEvents(t, false,
		bus.Event{Kind: bus.KindNodeExited, Node: "api", Run: 1, ExitCode: -1,
			Err: "render \"echo {{.x}}\": map has no entry", Timestamp: at()},
	)
	assert.Contains(t, out, "failed to start")
}
