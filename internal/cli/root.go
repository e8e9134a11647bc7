// Package cli implements the Overwatch command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "overwatch",
	Short: "Overwatch — distributed map-scanning engine",
	Long: `Overwatch continuously probes a geospatial API across a rectangular
region using a pool of authenticated accounts, observes transient sightings
and landmarks, and persists them to a relational store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
