package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file without running anything",
		Long: `Load the config file, check it against the schema, resolve every
target and trigger reference, and verify each flow's After graph is acyclic.
Exits 0 when everything checks out.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, path, err := loadFlows(rootOpts)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d flow(s))\n", path, len(flows))
			for _, f := range flows {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d node(s)\n", f.Name, len(f.Nodes))
			}
			return nil
		},
	}
	return cmd
}
