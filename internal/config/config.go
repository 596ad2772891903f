// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the neuronscope command line configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nlpodyssey/neuronscope/site"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file read when no path is given.
const DefaultFile = "neuronscope.yaml"

// Environment variables overriding the configuration file.
const (
	EnvHost    = "NEURONSCOPE_HOST"
	EnvWorkers = "NEURONSCOPE_WORKERS"
	EnvDebug   = "NEURONSCOPE_DEBUG"
)

// Config holds the neuronscope configuration.
type Config struct {
	Site    SiteConfig    `yaml:"site"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// SiteConfig configures site generation.
type SiteConfig struct {
	Title         string  `yaml:"title"`
	Workers       int     `yaml:"workers"` // 0 means GOMAXPROCS
	HeatmapScale  float32 `yaml:"heatmap_scale"`
	IndexTemplate string  `yaml:"index_template"` // path to a template file
}

// ServerConfig configures the preview server.
type ServerConfig struct {
	Host string `yaml:"host"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // debug, info, warn, error
	Encoding string `yaml:"encoding"` // json, console
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			Title:        site.DefaultTitle,
			HeatmapScale: site.DefaultHeatmapScale,
		},
		Server: ServerConfig{
			Host: "127.0.0.1:8080",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load reads the configuration from a YAML file, starting from the
// defaults and applying environment overrides last. A missing file at
// the default path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if host := strings.TrimSpace(os.Getenv(EnvHost)); host != "" {
		c.Server.Host = host
	}
	if s := os.Getenv(EnvWorkers); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvWorkers, s, err)
		}
		c.Site.Workers = n
	}
	if s := os.Getenv(EnvDebug); s != "" {
		debug, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvDebug, s, err)
		}
		if debug {
			c.Logging.Level = "debug"
		}
	}
	return nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.Site.Workers < 0 {
		return fmt.Errorf("site.workers must not be negative, got %d", c.Site.Workers)
	}
	if c.Site.HeatmapScale <= 0 {
		return fmt.Errorf("site.heatmap_scale must be positive, got %g", c.Site.HeatmapScale)
	}
	if c.Server.Host == "" {
		return errors.New("server.host must not be empty")
	}
	if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("logging.encoding must be json or console, got %q", c.Logging.Encoding)
	}
	return nil
}

// SiteOptions returns the site generator options described by the
// configuration. The index template file, if any, is read here.
func (c *Config) SiteOptions() ([]site.Option, error) {
	opts := []site.Option{
		site.WithTitle(c.Site.Title),
		site.WithWorkers(c.Site.Workers),
		site.WithHeatmapScale(c.Site.HeatmapScale),
	}
	if c.Site.IndexTemplate != "" {
		text, err := os.ReadFile(c.Site.IndexTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to read index template: %w", err)
		}
		opts = append(opts, site.WithIndexTemplate(string(text)))
	}
	return opts, nil
}
