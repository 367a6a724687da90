package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthesize-dev/synthesize/internal/bus"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RoundTrip(t *testing.T) {
	j := openTemp(t)

	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	events := []bus.Event{
		{Seq: 1, Timestamp: at, Kind: bus.KindNodeStarted, Node: "a", Run: 1, RunToken: "tok", PID: 77},
		{Seq: 2, Timestamp: at, Kind: bus.KindNodeOutput, Node: "a", Run: 1, Stream: bus.StreamOut, Line: []byte("hello")},
		{Seq: 3, Timestamp: at, Kind: bus.KindNodeExited, Node: "a", Run: 1, ExitCode: 2, Duration: 250 * time.Millisecond},
		{Seq: 4, Timestamp: at, Kind: bus.KindEngineShuttingDown, Reason: bus.ReasonQuiescent},
	}
	for _, ev := range events {
		require.NoError(t, j.WriteEvent(ev))
	}

	entries, err := j.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "node_started", entries[0].Kind)
	assert.Equal(t, "a", entries[0].Node)

	assert.Equal(t, "out", entries[1].Stream)
	assert.Equal(t, []byte("hello"), entries[1].Line)

	assert.Equal(t, 2, entries[2].ExitCode)
	assert.Equal(t, int64(250), entries[2].DurationMS)

	assert.Equal(t, "quiescent", entries[3].Reason)
	assert.Equal(t, at.Format(time.RFC3339Nano), entries[3].At.Format(time.RFC3339Nano))
}

func TestJournal_DuplicateSeqIsIgnored(t *testing.T) {
	j := openTemp(t)

	ev := bus.Event{Seq: 1, Timestamp: time.Now(), Kind: bus.KindHeartbeat}
	require.NoError(t, j.WriteEvent(ev))
	require.NoError(t, j.WriteEvent(ev), "re-writing the same seq is not an error")

	entries, err := j.ReadAll()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestJournal_RunConsumesSubscriptionUntilClose(t *testing.T) {
	j := openTemp(t)

	b := bus.New()
	sub := b.Subscribe("journal", 0)

	done := make(chan error, 1)
	go func() { done <- j.Run(sub) }()

	b.Publish(bus.Event{Kind: bus.KindNodeStarted, Node: "n", Run: 1})
	b.Publish(bus.Event{Kind: bus.KindHeartbeat}) // not persisted
	b.Publish(bus.Event{Kind: bus.KindNodeExited, Node: "n", Run: 1})
	b.Close()

	require.NoError(t, <-done)

	entries, err := j.ReadAll()
	require.NoError(t, err)

	kinds := make([]string, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []string{"node_started", "node_exited", "engine_stopped"}, kinds)
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	// Reopening an existing journal applies the schema idempotently.
	j2, err := Open(path)
	require.NoError(t, err)
	assert.NoError(t, j2.Close())
}
