package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/jonwillington/filter-mapkit/config"
	"github.com/jonwillington/filter-mapkit/logger"
	"github.com/jonwillington/filter-mapkit/server"
)

func main() {
	_ = godotenv.Load()
	log := logger.Setup()

	cfg := config.Discover()
	if err := server.Run(cfg); err != nil {
		log.Error("server failed", "err", err)
		os.Exit(1)
	}
}
