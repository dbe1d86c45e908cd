// Package config handles configuration loading for the MCDS-View server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mcds-view/server/internal/data/mcds"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Query  QueryConfig  `yaml:"query"`
	Cache  CacheConfig  `yaml:"cache"`
	Index  IndexConfig  `yaml:"index"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatasetConfig declares one simulation output directory to serve.
type DatasetConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// DataConfig contains data source settings.
type DataConfig struct {
	Datasets []DatasetConfig `yaml:"datasets"`
}

// QueryConfig contains snapshot extraction and query settings.
type QueryConfig struct {
	Microenv         *bool             `yaml:"microenv"`
	Graph            *bool             `yaml:"graph"`
	Settings         *bool             `yaml:"settings"`
	Strict           bool              `yaml:"strict"`
	DecodeDeathModel bool              `yaml:"decode_death_model"`
	CustomTypes      map[string]string `yaml:"custom_types"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ResponseSizeMB     int `yaml:"response_size_mb"`
	ResponseTTLMinutes int `yaml:"response_ttl_minutes"`
	SnapshotCacheSize  int `yaml:"snapshot_cache_size"`
}

// IndexConfig contains snapshot index settings.
type IndexConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if _, err := cfg.SnapshotOptions(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			Datasets: []DatasetConfig{{Name: "output", Path: "./output"}},
		},
		Cache: CacheConfig{
			ResponseSizeMB:     256,
			ResponseTTLMinutes: 10,
			SnapshotCacheSize:  8,
		},
		Index: IndexConfig{
			Path: "./snapshots.db",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data.Datasets = defaults.Data.Datasets
	}
	if cfg.Cache.ResponseSizeMB == 0 {
		cfg.Cache.ResponseSizeMB = defaults.Cache.ResponseSizeMB
	}
	if cfg.Cache.ResponseTTLMinutes == 0 {
		cfg.Cache.ResponseTTLMinutes = defaults.Cache.ResponseTTLMinutes
	}
	if cfg.Cache.SnapshotCacheSize == 0 {
		cfg.Cache.SnapshotCacheSize = defaults.Cache.SnapshotCacheSize
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = defaults.Index.Path
	}
}

// SnapshotOptions translates the query section into snapshot load options.
// The extraction toggles default to on when unset.
func (c *Config) SnapshotOptions() (mcds.Options, error) {
	opts := mcds.DefaultOptions()
	if c.Query.Microenv != nil {
		opts.Microenv = *c.Query.Microenv
	}
	if c.Query.Graph != nil {
		opts.Graph = *c.Query.Graph
	}
	if c.Query.Settings != nil {
		opts.Settings = *c.Query.Settings
	}
	opts.Strict = c.Query.Strict
	opts.DecodeDeathModel = c.Query.DecodeDeathModel

	if len(c.Query.CustomTypes) > 0 {
		opts.CustomTypes = make(map[string]mcds.ColumnKind, len(c.Query.CustomTypes))
		for name, typeName := range c.Query.CustomTypes {
			kind, err := mcds.ParseColumnKind(typeName)
			if err != nil {
				return mcds.Options{}, fmt.Errorf("query.custom_types[%s]: %w", name, err)
			}
			opts.CustomTypes[name] = kind
		}
	}
	return opts, nil
}
