// Package cmd contains the CLI commands for cinder.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cinderlog/cinder/pkg/config"
)

var (
	// Used for flags
	verbose   bool
	output    string
	serverURL string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cinderctl",
	Short: "Cinder - Log ingestion and alerting CLI",
	Long: `Cinderctl drives a running Cinder server and analyzes log files
offline.

Server commands talk to the HTTP API:
  - ingest:  send log lines for enrichment and storage
  - search:  query stored entries with filters
  - alerts:  list and work open alerts

Offline commands run locally:
  - analyze: batch-analyze log files without a server

Examples:
  # Send a file of raw lines to a server
  cinderctl ingest app.log --source payments

  # Find recent database errors
  cinderctl search --level error --category database --since 1h

  # Acknowledge an alert
  cinderctl alerts ack a1b2c3 --by oncall

  # Summarize log files offline
  cinderctl analyze /var/log/app/*.log`,
	Version: config.ShortVersionString(),
	// Run when no subcommand is specified
	Run: func(cmd *cobra.Command, args []string) {
		// Show help by default
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json, plain)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "server base URL")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintError prints an error message and exits if fatal is true.
func PrintError(msg string, fatal bool) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	if fatal {
		os.Exit(1)
	}
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}
