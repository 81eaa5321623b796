// Package cli wires the daemon's cobra commands.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command for the aeghis-sync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "aeghis-sync",
		Short: "Journey and participation synchronization daemon",
		Long: "aeghis-sync keeps the authoritative journey backend and the live " +
			"document store consistent, and serves read-only snapshots of the " +
			"live state.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	cmd.AddCommand(NewBackfillCommand(opts))

	return cmd
}
