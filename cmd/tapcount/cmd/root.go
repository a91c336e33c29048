// Package cmd provides the CLI commands for tapcount.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tapcount",
	Short: "tapcount - shared counter with per-user cooldown and leaderboard",
	Long: `tapcount serves a single shared counter that any user can increment once
per cooldown window, together with a leaderboard of who incremented most.

Configuration:
  Config is loaded from tapcount.yaml in the current directory,
  $HOME/.tapcount/, or /etc/tapcount/.

  Environment variables override config values with the TAPCOUNT_ prefix.
  Example: TAPCOUNT_SERVER_HTTP_ADDR=:9090
  REDIS_URL is honoured when TAPCOUNT_STORE_URL is not set.

Commands:
  serve       Start the HTTP server
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tapcount.yaml)")
}
