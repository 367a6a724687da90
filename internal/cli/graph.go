package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph [flow]",
		Short: "Print a flow's trigger graph",
		Long: `Print a flow's trigger graph without running it.

After edges, restart self-loops, and watch sources are all included, so the
output is a faithful picture of what run would supervise.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "default"
			if len(args) == 1 {
				name = args[0]
			}

			flows, _, err := loadFlows(rootOpts)
			if err != nil {
				return err
			}
			f, err := selectFlow(flows, name)
			if err != nil {
				return err
			}

			switch strings.ToLower(format) {
			case "mermaid", "":
				fmt.Fprintln(cmd.OutOrStdout(), f.Mermaid())
			case "dot":
				dot, dotErr := f.DOT()
				if dotErr != nil {
					return WrapExitError(ExitCommandError, "render graph", dotErr)
				}
				fmt.Fprint(cmd.OutOrStdout(), dot)
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown format %q: use mermaid or dot", format))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "mermaid", "output format: mermaid or dot")
	return cmd
}
