package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/noteai-go/internal/version"
)

// NewVersionCmd constructs the `noteai version` subcommand.
// It prints the binary version, git commit, and build date injected at
// build time via -ldflags. Falls back to "dev"/"unknown" for local builds.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the noteai version, git commit, and build date",
		// Skip config loading and audit logging for version output.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
