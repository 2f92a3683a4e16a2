package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonwillington/filter-mapkit/logger"
	"github.com/jonwillington/filter-mapkit/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the shop API and live map sessions",
	Long: `Serve the full stack: the clustered shop REST API, the Prometheus
metrics endpoint, and the websocket session hub. Runs until interrupted,
then saves the serving index to a snapshot.`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()
	logger.Setup()

	cfg := loadConfig()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	if err := server.Run(cfg); err != nil {
		exitError("%v", err)
	}
}
