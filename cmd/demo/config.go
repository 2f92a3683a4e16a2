package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jonwillington/filter-mapkit/engine"
)

// demoConfig tweaks the tour without flags. Read from config.yaml in the
// working directory when present; absence is not an error.
type demoConfig struct {
	Shops  int           `yaml:"shops"`
	Center engine.LngLat `yaml:"center"`
	Styles struct {
		Light string `yaml:"light"`
		Dark  string `yaml:"dark"`
	} `yaml:"styles"`
}

func loadDemoConfig() demoConfig {
	cfg := demoConfig{Center: london}
	cfg.Styles.Light = "sim://styles/light"
	cfg.Styles.Dark = "sim://styles/dark"

	data, err := os.ReadFile("config.yaml")
	if err != nil {
		return cfg
	}
	_ = yaml.Unmarshal(data, &cfg)
	return cfg
}
