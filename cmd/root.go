package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point when toolplane is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "toolplane",
	Short: "Serverless control plane for tool provider processes",
	Long: `toolplane aggregates independently packaged tool providers behind one
control plane. It starts, sleeps, wakes and stops providers under idle-time
policies, and routes free-text tasks to the single best matching tool,
waking the owning provider on demand.`,
	// Handled errors should not trigger a usage dump.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "toolplane version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
