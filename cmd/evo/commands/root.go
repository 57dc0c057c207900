// Package commands implements the evo CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "evo",
		Short: "Evo - a Discord bot that remembers",
		Long: `Evo is a Discord bot with per-server personas and per-user memory.
It replies when addressed, remembers each member, and keeps track of what
members say about each other.

Examples:
  evo setup
  evo serve
  evo server set 123456789012345678 --api-key
  evo chat --server 123456789012345678`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newServerCmd(),
		newSecretsCmd(),
		newEncryptCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
