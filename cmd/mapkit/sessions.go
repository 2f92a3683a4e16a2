package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonwillington/filter-mapkit/config"
	"github.com/jonwillington/filter-mapkit/logger"
	"github.com/jonwillington/filter-mapkit/metrics"
	"github.com/jonwillington/filter-mapkit/runner"
	"github.com/jonwillington/filter-mapkit/shop"
)

var sessionsAddr string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Serve only the live session hub",
	Long: `Serve the websocket session hub and metrics without the REST API.
Useful when the catalog API runs elsewhere and this process only hosts
live map sessions.`,
	Run: runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsAddr, "addr", "", "listen address (overrides config)")
}

func runSessions(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()
	log := logger.Setup()

	cfg := loadConfig()
	if sessionsAddr != "" {
		cfg.Server.Addr = sessionsAddr
	}

	shops, err := sessionCatalog(cfg)
	if err != nil {
		exitError("%v", err)
	}
	log.Info("catalog ready", "shops", len(shops))

	hub := runner.NewHub(cfg, func() []shop.Shop { return shops })

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("session hub listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("session hub failed", "err", err)
			os.Exit(1)
		}
	}()

	<-quit
	log.Info("shutting down")
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("shutdown incomplete", "err", err)
	}
}

func sessionCatalog(cfg *config.Config) ([]shop.Shop, error) {
	if cfg.Server.CatalogPath != "" {
		return shop.LoadCatalog(cfg.Server.CatalogPath)
	}
	return shop.GenerateShops(cfg.Server.BootstrapShops, 42), nil
}
