// Package render turns the engine's event stream into terminal output.
//
// The renderer is the sole owner of stdout: one goroutine consumes the bus
// subscription and serializes every write. Each child output line is printed
// with a dim timestamp and a colored, width-aligned node prefix. When stdout
// is a TTY a status footer is kept alive below the scroll region using
// cursor save/restore; without a TTY the footer is suppressed and only the
// line stream remains.
package render

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/synthesize-dev/synthesize/internal/bus"
	"github.com/synthesize-dev/synthesize/internal/flow"
)

// palette holds the colors cycled through for nodes without a pinned color.
var palette = []string{"39", "168", "114", "215", "141", "81", "203", "228"}

const timeFormat = "15:04:05"

// Options configures a Renderer.
type Options struct {
	// TTY enables the live status footer and cursor control sequences.
	TTY bool
}

// row is the renderer's view of one node, derived purely from events.
type row struct {
	id       string
	status   string
	pid      int
	runs     int
	lastExit string
	total    time.Duration
	running  bool
	started  time.Time
	failed   bool
}

// Renderer consumes events and owns the terminal.
type Renderer struct {
	out io.Writer
	tty bool

	dim    lipgloss.Style
	red    lipgloss.Style
	green  lipgloss.Style
	colors map[string]lipgloss.Style

	order    []string
	rows     map[string]*row
	prefixW  int
	shutdown bool
}

// New creates a renderer for the given flow. Node colors are assigned from a
// fixed palette in sorted node order, so they are stable across runs; a node
// may pin its own color in config.
func New(out io.Writer, f flow.Flow, opts Options) *Renderer {
	r := &Renderer{
		out:    out,
		tty:    opts.TTY,
		dim:    lipgloss.NewStyle().Faint(true),
		red:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		green:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		colors: make(map[string]lipgloss.Style),
		rows:   make(map[string]*row),
	}

	ids := f.NodeIDs()
	r.order = ids
	for i, id := range ids {
		c := f.Nodes[id].Color
		if c == "" {
			c = palette[i%len(palette)]
		}
		r.colors[id] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		r.rows[id] = &row{id: id, status: "pending"}

		if w := len(timeFormat) + 1 + len(id); w > r.prefixW {
			r.prefixW = w
		}
	}
	return r
}

// Run consumes the subscription until the bus closes it. It returns after
// the shutdown summary has been flushed, so callers can wait on it to know
// the terminal is quiet.
func (r *Renderer) Run(sub *bus.Subscription) {
	for ev := range sub.C {
		r.handle(ev)
	}
}

func (r *Renderer) handle(ev bus.Event) {
	switch ev.Kind {
	case bus.KindNodeOutput:
		r.handleOutput(ev)
	case bus.KindNodeStarted:
		st := r.rows[ev.Node]
		if st == nil {
			return
		}
		st.running = true
		st.pid = ev.PID
		st.runs = ev.Run
		st.status = "running"
		st.started = ev.Timestamp
		r.lifecycleLine(ev, fmt.Sprintf("started (pid %d)", ev.PID))
	case bus.KindNodeExited:
		r.handleExited(ev)
	case bus.KindTriggerFired:
		if ev.Cause == "watch" {
			r.lifecycleLine(ev, "restarting on file changes")
		}
	case bus.KindHeartbeat:
		r.drawFooter(ev.Timestamp)
	case bus.KindEngineShuttingDown:
		r.handleShuttingDown(ev)
	case bus.KindEngineStopped:
		r.summary()
	}
}

func (r *Renderer) handleOutput(ev bus.Event) {
	var b strings.Builder
	b.WriteString(r.prefix(ev))
	b.Write(ev.Line)
	b.WriteByte('\n')
	r.printLine(b.String(), ev.Timestamp)
}

func (r *Renderer) handleExited(ev bus.Event) {
	st := r.rows[ev.Node]
	if st == nil {
		return
	}
	st.running = false
	st.pid = 0
	st.runs = ev.Run
	st.total += ev.Duration

	var note string
	switch {
	case ev.Err != "":
		st.status = "failed"
		st.failed = true
		st.lastExit = "error"
		note = "failed to start: " + ev.Err
	case ev.Signal != 0:
		st.status = "killed"
		st.lastExit = fmt.Sprintf("signal %d", ev.Signal)
		note = fmt.Sprintf("(pid %d) killed by signal %d", ev.PID, ev.Signal)
	default:
		st.lastExit = fmt.Sprintf("%d", ev.ExitCode)
		code := r.green.Render("0")
		if ev.ExitCode != 0 {
			st.status = "failed"
			st.failed = true
			code = r.red.Render(fmt.Sprintf("%d", ev.ExitCode))
		} else {
			st.status = "ok"
		}
		note = fmt.Sprintf("(pid %d) exited with code %s", ev.PID, code)
	}
	r.lifecycleLine(ev, note)
}

func (r *Renderer) handleShuttingDown(ev bus.Event) {
	if r.shutdown {
		return
	}
	r.shutdown = true
	for _, st := range r.rows {
		if st.running {
			st.status = "terminating"
		}
	}
	r.printLine(r.dim.Render(fmt.Sprintf("shutting down (%s)", ev.Reason))+"\n", ev.Timestamp)
}

// prefix renders "HH:MM:SS node-id " padded to the widest node, timestamp
// dim, node id in its color, followed by the column divider.
func (r *Renderer) prefix(ev bus.Event) string {
	plain := ev.Timestamp.Format(timeFormat) + " " + ev.Node
	padN := r.prefixW - len(plain) + 1
	if padN < 1 {
		padN = 1
	}
	pad := strings.Repeat(" ", padN)

	style, ok := r.colors[ev.Node]
	if !ok {
		style = lipgloss.NewStyle()
	}
	return r.dim.Render(ev.Timestamp.Format(timeFormat)) + " " + style.Render(ev.Node) + pad + "│ "
}

func (r *Renderer) lifecycleLine(ev bus.Event, note string) {
	r.printLine(r.prefix(ev)+r.dim.Render(note)+"\n", ev.Timestamp)
}

// printLine writes one line, keeping the footer below it on TTYs.
func (r *Renderer) printLine(line string, now time.Time) {
	if r.tty {
		// Wipe the previous footer before the line scrolls into it.
		fmt.Fprint(r.out, "\033[0J")
	}
	fmt.Fprint(r.out, line)
	r.drawFooter(now)
}

// drawFooter paints the status panel below the cursor and jumps back, so the
// next output line overwrites it. No-op without a TTY.
func (r *Renderer) drawFooter(now time.Time) {
	if !r.tty {
		return
	}
	var b strings.Builder
	b.WriteString("\0337") // save cursor
	b.WriteString("\n")
	b.WriteString("\033[2K")
	b.WriteString(r.dim.Render(strings.Repeat("─", 40)))
	for _, id := range r.order {
		st := r.rows[id]
		b.WriteString("\n\033[2K")
		b.WriteString(r.footerRow(st, now))
	}
	b.WriteString("\0338") // restore cursor
	fmt.Fprint(r.out, b.String())
}

func (r *Renderer) footerRow(st *row, now time.Time) string {
	total := st.total
	if st.running && !st.started.IsZero() {
		total += now.Sub(st.started)
	}
	exit := st.lastExit
	if exit == "" {
		exit = "-"
	}
	return fmt.Sprintf("%s %-12s runs=%-3d exit=%-8s %s",
		r.colors[st.id].Render(fmt.Sprintf("%-*s", r.prefixW-len(timeFormat), st.id)),
		st.status, st.runs, exit, r.dim.Render(total.Round(time.Millisecond).String()))
}

// summary prints the final table and closing rule once the engine stops.
func (r *Renderer) summary() {
	if r.tty {
		fmt.Fprint(r.out, "\033[0J")
	}

	anyFailed := false
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.Strings(ids)

	for _, id := range ids {
		st := r.rows[id]
		if st.failed {
			anyFailed = true
		}
		exit := st.lastExit
		if exit == "" {
			exit = "-"
		}
		fmt.Fprintf(r.out, "%s  %-12s runs=%-3d exit=%-8s total=%s\n",
			r.colors[id].Render(fmt.Sprintf("%-*s", r.prefixW-len(timeFormat), id)),
			st.status, st.runs, exit, st.total.Round(time.Millisecond))
	}

	rule := strings.Repeat("─", 40)
	if anyFailed {
		fmt.Fprintln(r.out, r.red.Render(rule))
	} else {
		fmt.Fprintln(r.out, rule)
	}
}
