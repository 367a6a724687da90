package journal

import (
	"fmt"
	"time"
)

// Entry is one recorded event, decoded for display.
type Entry struct {
	Seq        int64
	At         time.Time
	Kind       string
	Node       string
	Run        int
	Stream     string
	Line       []byte
	ExitCode   int
	Signal     int
	DurationMS int64
	Cause      string
	Reason     string
	Err        string
}

// ReadAll returns every recorded event in sequence order.
func (j *Journal) ReadAll() ([]Entry, error) {
	rows, err := j.db.Query(`
		SELECT seq, at, kind, node, run, stream, line,
		       exit_code, sig, duration_ms, cause, reason, err
		FROM events ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(
			&e.Seq, &at, &e.Kind, &e.Node, &e.Run, &e.Stream, &e.Line,
			&e.ExitCode, &e.Signal, &e.DurationMS, &e.Cause, &e.Reason, &e.Err,
		); err != nil {
			return nil, fmt.Errorf("read journal: %w", err)
		}
		if t, parseErr := time.Parse(time.RFC3339Nano, at); parseErr == nil {
			e.At = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return entries, nil
}
