package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/synthesize-dev/synthesize/internal/bus"
	"github.com/synthesize-dev/synthesize/internal/engine"
	"github.com/synthesize-dev/synthesize/internal/flow"
	"github.com/synthesize-dev/synthesize/internal/journal"
	"github.com/synthesize-dev/synthesize/internal/render"
	"github.com/synthesize-dev/synthesize/internal/supervisor"
)

// secondInterruptWindow is how quickly a second Ctrl-C escalates from
// graceful termination to immediate SIGKILL of every child group.
const secondInterruptWindow = 2 * time.Second

// RunCmdOptions holds flags for the run command.
type RunCmdOptions struct {
	*RootOptions
	Once    bool
	Journal string
	Grace   time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunCmdOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [flow]",
		Short: "Execute a flow",
		Long: `Execute one flow from the config file.

Every node starts when one of its triggers fires and the engine supervises
all of them concurrently, interleaving their output. The run ends when no
node is running and no trigger can ever fire again, or on Ctrl-C. A second
Ctrl-C within two seconds kills all children immediately.

Example:
  synth run
  synth run dev --once
  synth run ci --journal ./run.db`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "default"
			if len(args) == 1 {
				name = args[0]
			}
			return runFlow(opts, name)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "replace Restart and Watch triggers with Once and exit when done")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record all engine events to a SQLite journal at this path")
	cmd.Flags().DurationVar(&opts.Grace, "grace", supervisor.DefaultGrace, "SIGTERM-to-SIGKILL grace period on shutdown")

	return cmd
}

func runFlow(opts *RunCmdOptions, name string) error {
	flows, path, err := loadFlows(opts.RootOptions)
	if err != nil {
		return err
	}
	f, err := selectFlow(flows, name)
	if err != nil {
		return err
	}
	slog.Debug("flow loaded", "config", path, "flow", name, "nodes", len(f.Nodes))

	if opts.Once {
		f = flow.RewriteOnce(f)
	}

	scriptDir, err := os.MkdirTemp("", "synth-")
	if err != nil {
		return WrapExitError(ExitCommandError, "create script directory", err)
	}
	defer os.RemoveAll(scriptDir)

	b := bus.New()
	sup := supervisor.New(b, supervisor.Options{
		Grace:     opts.Grace,
		ScriptDir: scriptDir,
	})
	eng := engine.New(f, b, sup, engine.Options{})

	// The renderer exclusively owns stdout for the duration of the run.
	tty := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	renderer := render.New(os.Stdout, f, render.Options{TTY: tty})
	renderSub := b.Subscribe("renderer", 0)
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		renderer.Run(renderSub)
	}()

	var journalDone chan struct{}
	if opts.Journal != "" {
		j, jErr := journal.Open(opts.Journal)
		if jErr != nil {
			return WrapExitError(ExitCommandError, "open journal", jErr)
		}
		defer j.Close()

		journalSub := b.Subscribe("journal", 0)
		journalDone = make(chan struct{})
		go func() {
			defer close(journalDone)
			if wErr := j.Run(journalSub); wErr != nil {
				slog.Error("journal write failed", "error", wErr)
			}
		}()
	}

	// Signals publish shutdown events; the scheduler does the rest. A
	// second interrupt inside the window escalates to SIGKILL.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		var lastInterrupt time.Time
		for sig := range sigCh {
			now := time.Now()
			if !lastInterrupt.IsZero() && now.Sub(lastInterrupt) <= secondInterruptWindow {
				slog.Debug("second interrupt, killing children", "signal", sig)
				b.Publish(bus.Event{Kind: bus.KindEngineShuttingDown, Reason: bus.ReasonForceKill})
				continue
			}
			lastInterrupt = now
			slog.Debug("received signal, shutting down", "signal", sig)
			b.Publish(bus.Event{Kind: bus.KindEngineShuttingDown, Reason: bus.ReasonUserInterrupt})
		}
	}()

	code, err := eng.Run(context.Background())

	// The engine closed the bus; wait for the consumers to flush.
	<-renderDone
	if journalDone != nil {
		<-journalDone
	}

	if err != nil {
		return configError(err)
	}
	if code != 0 {
		// The renderer's summary already told the story.
		return &ExitError{Code: code}
	}
	return nil
}
