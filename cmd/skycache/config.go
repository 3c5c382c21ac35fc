package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/skymap-app/skycache"
)

// Config is the CLI configuration file, TOML-encoded.
type Config struct {
	CacheDir string         `toml:"cache_dir"`
	Layers   []LayerConfig  `toml:"layers"`
	Surveys  []SurveyConfig `toml:"surveys"`
}

// LayerConfig overrides where a built-in layer is downloaded from,
// e.g. to point at a mirror.
type LayerConfig struct {
	ID      string `toml:"id"`
	BaseURL string `toml:"base_url"`
}

// SurveyConfig declares a HiPS survey the CLI can download.
type SurveyConfig struct {
	ID         string `toml:"id"`
	BaseURL    string `toml:"base_url"`
	TileFormat string `toml:"tile_format"`
	MaxOrder   int    `toml:"max_order"`
}

func defaultConfig() Config {
	cacheDir := "skycache"
	if base, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(base, "skycache")
	}
	return Config{
		CacheDir: cacheDir,
		Surveys: []SurveyConfig{
			{
				ID:       "dss2-color",
				BaseURL:  "https://alasky.cds.unistra.fr/DSS/DSSColor",
				MaxOrder: 3,
			},
		},
	}
}

// loadConfig reads the config file at path, or the default location
// when path is empty. A missing file yields the built-in defaults.
func loadConfig(path string) (Config, error) {
	explicit := path != ""
	if path == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return defaultConfig(), nil
		}
		path = filepath.Join(base, "skycache", "config.toml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return defaultConfig(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := defaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// layers returns the built-in layer set with any configured base-URL
// overrides applied. Overrides for unknown layer ids are ignored.
func (c Config) layers() []skycache.LayerDescriptor {
	overrides := make(map[string]string, len(c.Layers))
	for _, l := range c.Layers {
		if l.BaseURL != "" {
			overrides[l.ID] = l.BaseURL
		}
	}
	layers := skycache.DefaultLayers()
	for i, l := range layers {
		if base, ok := overrides[l.ID]; ok {
			layers[i].BaseURL = base
		}
	}
	return layers
}

// survey resolves a survey id from the config.
func (c Config) survey(id string) (skycache.Survey, int, error) {
	for _, s := range c.Surveys {
		if s.ID == id {
			return skycache.Survey{ID: s.ID, BaseURL: s.BaseURL, TileFormat: s.TileFormat}, s.MaxOrder, nil
		}
	}
	return skycache.Survey{}, 0, fmt.Errorf("unknown survey %q (add it to the config file)", id)
}
