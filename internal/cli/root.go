package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Config  string
}

// NewRootCommand creates the synth root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize - a developer workflow orchestrator",
		Long: `Synthesize supervises a flow of shell commands in one terminal session:
it starts each node when its triggers fire, multiplexes their output, and
runs until you interrupt it or no further work is possible.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// The renderer owns stdout; diagnostics go to stderr.
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging on stderr")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to the config file (default: discover synth.yaml upwards)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewGraphCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))

	return cmd
}
