// Package config loads the optional treemon.yaml configuration file.
// All values are optional and act as defaults; CLI flags always override
// config values.
package config

import (
	"fmt"
	"time"
)

// Config represents a treemon.yaml configuration file.
type Config struct {
	// Bind is the overlay listener bind address (default "0.0.0.0:0").
	Bind string `yaml:"bind"`
	// HTTPAddr is the root's HTTP view listen address (default ":1871").
	HTTPAddr string `yaml:"http_addr"`
	// LogLevel is the zap log level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// PublishInterval is the leaf demo publisher period (default 100ms).
	PublishInterval Duration `yaml:"publish_interval"`
	// Notify configures the optional tree-built webhook.
	Notify NotifyConfig `yaml:"notify"`
}

// NotifyConfig holds the tree-built webhook settings. An empty URL
// disables notification.
type NotifyConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "100ms" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Bind:            "0.0.0.0:0",
		HTTPAddr:        ":1871",
		LogLevel:        "info",
		PublishInterval: Duration{100 * time.Millisecond},
	}
}

// applyDefaults fills zero-valued fields from Default.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Bind == "" {
		c.Bind = d.Bind
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = d.HTTPAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.PublishInterval.Duration == 0 {
		c.PublishInterval = d.PublishInterval
	}
}
