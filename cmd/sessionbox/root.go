package main

import (
	"github.com/spf13/cobra"
)

var (
	// Version is set via -ldflags.
	Version = "dev"
)

func newRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "sessionbox",
		Short: "Session-scoped sandboxed Python execution",
		Long: `sessionbox runs Python scripts on behalf of agents. Every session id maps to
one isolated environment that lives until the session is released, so
files and installed packages carry over between runs.

Configuration is read from --config, ./sessionbox.yaml or
./config/sessionbox.yaml; SESSIONBOX_* environment variables override it
(e.g. SESSIONBOX_SANDBOX_ENGINE=podman).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./sessionbox.yaml)")

	rootCmd.AddCommand(
		newServeCommand(&cfgFile),
		newSweepCommand(&cfgFile),
		newMCPCommand(&cfgFile),
		newConfigCommand(&cfgFile),
	)
	return rootCmd
}
