// Package config manages the mapkit configuration file and its environment
// overrides. Configuration is TOML, discovered by walking up from the
// working directory, with MAPKIT_* environment variables applied last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// ConfigFile is the discovered filename.
const ConfigFile = "mapkit.toml"

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr           string `toml:"addr"`
	SnapshotDir    string `toml:"snapshot_dir"`
	BootstrapShops int    `toml:"bootstrap_shops"`
	CatalogPath    string `toml:"catalog_path"`
}

// MapConfig configures map sessions: styles, initial camera, and the
// supported-region allow-list for the dim overlay.
type MapConfig struct {
	LightStyleURL    string   `toml:"light_style_url"`
	DarkStyleURL     string   `toml:"dark_style_url"`
	CenterLng        float64  `toml:"center_lng"`
	CenterLat        float64  `toml:"center_lat"`
	Zoom             float64  `toml:"zoom"`
	SupportedRegions []string `toml:"supported_regions"`
}

// ClusterConfig configures the clustering index.
type ClusterConfig struct {
	Radius    float64 `toml:"radius"`
	MaxZoom   int     `toml:"max_zoom"`
	MinPoints int     `toml:"min_points"`
}

// SessionsConfig configures the websocket session hub.
type SessionsConfig struct {
	Max         int `toml:"max"`
	IdleMinutes int `toml:"idle_minutes"`
}

// Config is the full mapkit configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Map      MapConfig      `toml:"map"`
	Cluster  ClusterConfig  `toml:"cluster"`
	Sessions SessionsConfig `toml:"sessions"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8000",
			SnapshotDir:    "data/snapshots",
			BootstrapShops: 500,
		},
		Map: MapConfig{
			LightStyleURL: "sim://styles/light",
			DarkStyleURL:  "sim://styles/dark",
			CenterLng:     -0.1276,
			CenterLat:     51.5072,
			Zoom:          11,
			SupportedRegions: []string{
				"United Kingdom", "Netherlands", "Germany", "France",
				"Denmark", "Norway", "Ireland", "Portugal",
			},
		},
		Cluster: ClusterConfig{
			Radius:    50,
			MaxZoom:   14,
			MinPoints: 2,
		},
		Sessions: SessionsConfig{
			Max:         64,
			IdleMinutes: 30,
		},
	}
}

// FindRoot walks up from the working directory looking for mapkit.toml.
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		path := filepath.Join(dir, ConfigFile)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found (or in any parent up to root)", ConfigFile)
		}
		dir = parent
	}
}

// Load reads a config file and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// Discover loads the config from the nearest mapkit.toml, falling back to
// defaults (plus environment overrides) when none exists.
func Discover() *Config {
	path, err := FindRoot()
	if err != nil {
		cfg := Default()
		cfg.applyEnv()
		return cfg
	}
	cfg, err := Load(path)
	if err != nil {
		cfg = Default()
		cfg.applyEnv()
	}
	return cfg
}

// Save writes the configuration to disk.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MAPKIT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MAPKIT_SNAPSHOT_DIR"); v != "" {
		c.Server.SnapshotDir = v
	}
	if v := os.Getenv("MAPKIT_CATALOG"); v != "" {
		c.Server.CatalogPath = v
	}
	if v := os.Getenv("MAPKIT_BOOTSTRAP_SHOPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.BootstrapShops = n
		}
	}
	if v := os.Getenv("MAPKIT_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sessions.Max = n
		}
	}
}
