// Package main provides the teamsync sync daemon CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/teamsync/pkg/config"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "teamsync daemon - keeps a local cache in sync with the remote",
	Long: `syncd keeps the configured collection scopes of a teamsync workspace
synced into an on-device SQLite cache, and ships the tools to inspect that
cache and to run a development remote.

Examples:
  # Sync the scopes listed in syncd.yaml
  syncd run -c syncd.yaml

  # Show what the cache holds
  syncd dump --cache ./data/teamsync.db

  # Serve an in-memory remote seeded from a JSON file
  syncd remote --listen :7443 --seed seed.json`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.GetBuildInfo().Describe("syncd"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "syncd.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
