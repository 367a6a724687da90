// Package journal persists the engine's event stream to SQLite.
//
// The journal is strictly opt-in and strictly write-only during a run: the
// engine never reads it back, so execution stays stateless across
// invocations. It exists for post-run inspection: `synth journal <path>`
// pretty-prints a recorded run in event order.
package journal

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/synthesize-dev/synthesize/internal/bus"
)

//go:embed schema.sql
var schemaSQL string

// Journal is an open journal database.
type Journal struct {
	db *sql.DB
}

// Open creates or opens a journal at path, applying pragmas and the schema.
//
// SQLite is configured with WAL mode and a single writer connection, which
// matches the journal's one-subscriber write pattern.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// WriteEvent appends one event. Sequence numbers come from the bus clock and
// are unique per run, so conflicts indicate a reused database file; they are
// ignored rather than failing the run.
func (j *Journal) WriteEvent(ev bus.Event) error {
	_, err := j.db.Exec(`
		INSERT INTO events
		(seq, at, kind, node, run, run_token, pid, stream, line,
		 exit_code, sig, duration_ms, trigger_index, cause, paths, reason, err)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		ev.Seq,
		ev.Timestamp.Format(time.RFC3339Nano),
		ev.Kind.String(),
		ev.Node,
		ev.Run,
		ev.RunToken,
		ev.PID,
		streamText(ev),
		ev.Line,
		ev.ExitCode,
		ev.Signal,
		ev.Duration.Milliseconds(),
		ev.TriggerIndex,
		ev.Cause,
		strings.Join(ev.Paths, "\n"),
		reasonText(ev),
		ev.Err,
	)
	if err != nil {
		return fmt.Errorf("write event seq=%d: %w", ev.Seq, err)
	}
	return nil
}

// Run consumes a bus subscription until the bus closes it, appending every
// event. Heartbeats are skipped; they carry no information worth persisting.
// Write errors are returned after the subscription drains, so a full run is
// never interrupted by journal trouble.
func (j *Journal) Run(sub *bus.Subscription) error {
	var firstErr error
	for ev := range sub.C {
		if ev.Kind == bus.KindHeartbeat {
			continue
		}
		if err := j.WriteEvent(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func streamText(ev bus.Event) string {
	if ev.Kind != bus.KindNodeOutput {
		return ""
	}
	return ev.Stream.String()
}

func reasonText(ev bus.Event) string {
	if ev.Kind != bus.KindEngineShuttingDown {
		return ""
	}
	return ev.Reason.String()
}
