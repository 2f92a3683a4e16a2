package server

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonwillington/filter-mapkit/cluster"
	"github.com/jonwillington/filter-mapkit/logger"
	"github.com/jonwillington/filter-mapkit/metrics"
	"github.com/jonwillington/filter-mapkit/runner"
	"github.com/jonwillington/filter-mapkit/shop"
)

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func requestTimer() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDurationMs.WithLabelValues(
			c.FullPath(), strconv.Itoa(c.Writer.Status()),
		).Observe(float64(time.Since(start).Milliseconds()))
	}
}

// parseBounds reads the viewport query parameters.
func parseBounds(c *gin.Context) (cluster.KDBounds, int, bool) {
	zoom, err := strconv.Atoi(c.Query("zoom"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid zoom parameter"})
		return cluster.KDBounds{}, 0, false
	}

	var vals [4]float64
	for i, name := range []string{"north", "south", "east", "west"} {
		v, err := strconv.ParseFloat(c.Query(name), 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + " parameter"})
			return cluster.KDBounds{}, 0, false
		}
		vals[i] = v
	}

	return cluster.KDBounds{
		MinX: float32(vals[3]),
		MinY: float32(vals[1]),
		MaxX: float32(vals[2]),
		MaxY: float32(vals[0]),
	}, zoom, true
}

// NewRouter wires the REST API, the metrics endpoint, and the websocket hub.
func NewRouter(srv *Server, hub *runner.Hub) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware())
	r.Use(requestTimer())

	r.GET("/api/shops", func(c *gin.Context) {
		c.JSON(http.StatusOK, srv.Shops())
	})

	r.POST("/api/shops", func(c *gin.Context) {
		var shops []shop.Shop
		if err := c.BindJSON(&shops); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid shop list"})
			return
		}
		srv.replaceShops(shops)
		logger.L().Info("catalog replaced", "shops", len(shops))
		c.JSON(http.StatusOK, gin.H{"message": "Catalog replaced", "shops": len(shops)})
	})

	r.GET("/api/clusters", func(c *gin.Context) {
		bounds, zoom, ok := parseBounds(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, srv.features(bounds, zoom))
	})

	r.GET("/api/clusters/summary", func(c *gin.Context) {
		bounds, zoom, ok := parseBounds(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, srv.summary(bounds, zoom))
	})

	r.GET("/api/clusters/list", func(c *gin.Context) {
		snapshots, err := cluster.ListSnapshots(srv.snapshotDir)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snapshots)
	})

	r.POST("/api/clusters", func(c *gin.Context) {
		path, err := srv.SaveSnapshot()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		info, _ := os.Stat(path)
		logger.L().Info("snapshot saved", "path", path, "size", formatFileSize(info.Size()))
		c.JSON(http.StatusOK, gin.H{"message": "Snapshot saved", "path": path})
	})

	r.POST("/api/clusters/load/:id", func(c *gin.Context) {
		info, err := srv.loadSnapshot(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Snapshot loaded", "snapshot": info})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", gin.WrapF(hub.ServeWS))

	return r
}
