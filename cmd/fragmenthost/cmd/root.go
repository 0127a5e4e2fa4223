// Package cmd implements the fragmenthost command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the root command for fragmenthost
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fragmenthost",
		Short: "Host process for runtime-composed fragments",
		Long: `fragmenthost runs the service registry and event bus that fragments are
mounted against, and exposes diagnostics for them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewConfigCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
		},
	})

	return cmd
}

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("fragmenthost v%s (commit: %s, built on: %s)", Version, Commit, Date)
}
