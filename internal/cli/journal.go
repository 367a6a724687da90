package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/synthesize-dev/synthesize/internal/journal"
)

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal <path>",
		Short: "Print a recorded run",
		Long: `Print the events recorded by a previous "synth run --journal" in
sequence order.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := journal.Open(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "open journal", err)
			}
			defer j.Close()

			entries, err := j.ReadAll()
			if err != nil {
				return WrapExitError(ExitCommandError, "read journal", err)
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				ts := e.At.Format("15:04:05.000")
				switch e.Kind {
				case "node_output":
					fmt.Fprintf(out, "%s %-20s %s/%s %s\n", ts, e.Node, e.Kind, e.Stream, e.Line)
				case "node_exited":
					fmt.Fprintf(out, "%s %-20s %s code=%d signal=%d duration=%s\n",
						ts, e.Node, e.Kind, e.ExitCode, e.Signal,
						(time.Duration(e.DurationMS) * time.Millisecond).String())
				case "trigger_fired":
					fmt.Fprintf(out, "%s %-20s %s cause=%s\n", ts, e.Node, e.Kind, e.Cause)
				case "engine_shutting_down":
					fmt.Fprintf(out, "%s %-20s %s reason=%s\n", ts, "-", e.Kind, e.Reason)
				default:
					fmt.Fprintf(out, "%s %-20s %s\n", ts, orDash(e.Node), e.Kind)
				}
			}
			return nil
		},
	}
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
