package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/docrel/pkg/docrel"
)

const modulePath = "github.com/mesh-intelligence/docrel"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the docrel version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "docrel v%s\nmodule: %s\n", docrel.Version, modulePath)
			return nil
		},
	}
}
