// Package server hosts the shop catalog API: clustered viewport queries,
// catalog swaps, snapshot save/load, and the live session websocket.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonwillington/filter-mapkit/cluster"
	"github.com/jonwillington/filter-mapkit/config"
	"github.com/jonwillington/filter-mapkit/geo"
	"github.com/jonwillington/filter-mapkit/logger"
	"github.com/jonwillington/filter-mapkit/metrics"
	"github.com/jonwillington/filter-mapkit/runner"
	"github.com/jonwillington/filter-mapkit/shop"
)

// Server holds the serving catalog and its clustering index. Catalog swaps
// rebuild the index atomically under the lock.
type Server struct {
	mu          sync.RWMutex
	shops       []shop.Shop
	index       *cluster.Supercluster
	snapshotDir string
	cfg         *config.Config
}

// New builds a server from the configured catalog, or a generated one when
// no catalog path is set.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		snapshotDir: cfg.Server.SnapshotDir,
		cfg:         cfg,
	}

	var shops []shop.Shop
	if cfg.Server.CatalogPath != "" {
		loaded, err := shop.LoadCatalog(cfg.Server.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		shops = loaded
	} else {
		shops = shop.GenerateShops(cfg.Server.BootstrapShops, 42)
	}

	s.replaceShops(shops)
	return s, nil
}

func (s *Server) buildIndex(shops []shop.Shop) *cluster.Supercluster {
	sc := cluster.NewSupercluster(cluster.SuperclusterOptions{
		MinZoom:   0,
		MaxZoom:   s.cfg.Cluster.MaxZoom,
		MinPoints: s.cfg.Cluster.MinPoints,
		Radius:    s.cfg.Cluster.Radius,
		Extent:    512,
		NodeSize:  64,
	})
	sc.Load(geo.ClusterPoints(shops))
	return sc
}

func (s *Server) replaceShops(shops []shop.Shop) {
	index := s.buildIndex(shops)
	s.mu.Lock()
	s.shops = shops
	s.index = index
	s.mu.Unlock()
}

// Shops returns a copy of the serving catalog.
func (s *Server) Shops() []shop.Shop {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]shop.Shop, len(s.shops))
	copy(out, s.shops)
	return out
}

func (s *Server) features(bounds cluster.KDBounds, zoom int) *cluster.FeatureCollection {
	s.mu.RLock()
	index := s.index
	s.mu.RUnlock()

	start := time.Now()
	fc := index.ToGeoJSON(bounds, zoom)
	metrics.ClusterQueriesTotal.Inc()
	metrics.ClusterQueryDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	return fc
}

func (s *Server) summary(bounds cluster.KDBounds, zoom int) cluster.FeatureSummary {
	s.mu.RLock()
	index := s.index
	s.mu.RUnlock()
	return cluster.Summarize(index.GetClusters(bounds, zoom), index.Tree.Pool)
}

// SaveSnapshot writes the current index to a new snapshot file and returns
// its path.
func (s *Server) SaveSnapshot() (string, error) {
	s.mu.RLock()
	index := s.index
	s.mu.RUnlock()

	path := cluster.SnapshotFilename(s.snapshotDir, len(index.Points))
	if err := index.SaveCompressed(path); err != nil {
		return "", err
	}
	return path, nil
}

// loadSnapshot swaps the serving index for a saved one. The catalog is left
// as-is; snapshots only carry index points.
func (s *Server) loadSnapshot(id string) (cluster.SnapshotInfo, error) {
	info, err := cluster.FindSnapshot(s.snapshotDir, id)
	if err != nil {
		return cluster.SnapshotInfo{}, err
	}
	index, err := cluster.LoadCompressedSupercluster(info.Path)
	if err != nil {
		return cluster.SnapshotInfo{}, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
	return info, nil
}

// Run serves the API until SIGINT/SIGTERM, then shuts down gracefully and
// preserves the serving index in a snapshot.
func Run(cfg *config.Config) error {
	log := logger.L()

	if err := os.MkdirAll(cfg.Server.SnapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory %s: %w", cfg.Server.SnapshotDir, err)
	}

	srv, err := New(cfg)
	if err != nil {
		return err
	}
	log.Info("catalog ready", "shops", len(srv.Shops()))

	hub := runner.NewHub(cfg, srv.Shops)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: NewRouter(srv, hub),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info("shutting down")

	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warn("shutdown incomplete", "err", err)
	}

	// Preserve the serving index across restarts.
	if path, err := srv.SaveSnapshot(); err != nil {
		log.Error("failed to save snapshot on shutdown", "err", err)
	} else if info, err := os.Stat(path); err == nil {
		log.Info("snapshot saved", "path", path, "size", formatFileSize(info.Size()))
	}

	log.Info("server stopped")
	return nil
}
