// Command mapkit is the operator CLI: serve the API, generate fixture
// catalogs, and inspect or build cluster snapshots.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonwillington/filter-mapkit/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "mapkit",
	Short: "Coffee shop map toolkit",
	Long: `mapkit operates the filter-mapkit stack: it serves the clustered shop API
and live map sessions, generates synthetic shop catalogs for development,
and manages cluster index snapshots.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to mapkit.toml (default: walk up from cwd)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// loadConfig resolves configuration from the --config flag or discovery.
func loadConfig() *config.Config {
	if cfgPath == "" {
		return config.Discover()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		exitError("%v", err)
	}
	return cfg
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
