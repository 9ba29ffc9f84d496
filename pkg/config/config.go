// Package config defines the agent configuration contract and its
// fail-fast validation. A Config that does not pass Validate never reaches
// a running component.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinAPIKeyLength is the shortest collector credential accepted.
	MinAPIKeyLength = 16
	// MinScanInterval is the floor for integrity scan scheduling bounds.
	MinScanInterval = 10 * time.Second
)

var (
	ErrMissingAPIKey   = errors.New("config: api key is required")
	ErrAPIKeyTooShort  = fmt.Errorf("config: api key shorter than %d characters", MinAPIKeyLength)
	ErrMissingEndpoint = errors.New("config: endpoint is required")
	ErrEndpointScheme  = errors.New("config: endpoint must use https")
)

// Config is the immutable agent configuration. Zero values are filled by
// ApplyDefaults; Validate rejects anything the agent must not run with.
type Config struct {
	// APIKey is the bearer credential for the remote collector.
	APIKey string `yaml:"api_key"`
	// Endpoint is the collector base URL; HTTPS only.
	Endpoint string `yaml:"endpoint"`

	// LearningPeriod is how long the baseline manager observes traffic
	// before freezing into protection mode.
	LearningPeriod time.Duration `yaml:"learning_period"`

	// ScanIntervalMin/Max bound the randomized integrity scan interval.
	ScanIntervalMin time.Duration `yaml:"scan_interval_min"`
	ScanIntervalMax time.Duration `yaml:"scan_interval_max"`

	EnableNetworkMonitoring   bool `yaml:"enable_network_monitoring"`
	EnableIntegrityMonitoring bool `yaml:"enable_integrity_monitoring"`
	EnableReporting           bool `yaml:"enable_reporting"`

	// AnomalyThreshold is the score at or above which a sample is anomalous.
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`

	// LogLevel is the minimum level emitted: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration with production defaults and no
// credential; callers must still set APIKey and Endpoint.
func Default() Config {
	cfg := Config{
		EnableNetworkMonitoring:   true,
		EnableIntegrityMonitoring: true,
		EnableReporting:           true,
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset tunables in place.
func (c *Config) ApplyDefaults() {
	if c.LearningPeriod == 0 {
		c.LearningPeriod = 24 * time.Hour
	}
	if c.ScanIntervalMin == 0 {
		c.ScanIntervalMin = 5 * time.Minute
	}
	if c.ScanIntervalMax == 0 {
		c.ScanIntervalMax = 15 * time.Minute
	}
	if c.AnomalyThreshold == 0 {
		c.AnomalyThreshold = 0.7
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects configurations the agent must not start with. The first
// violation found is returned; all errors are descriptive and carry no
// secret material.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if len(c.APIKey) < MinAPIKeyLength {
		return ErrAPIKeyTooShort
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return ErrMissingEndpoint
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("config: invalid endpoint: %w", err)
	}
	if u.Scheme != "https" {
		return ErrEndpointScheme
	}
	if u.Host == "" {
		return errors.New("config: endpoint has no host")
	}
	if c.LearningPeriod <= 0 {
		return errors.New("config: learning period must be positive")
	}
	if c.ScanIntervalMin < MinScanInterval {
		return fmt.Errorf("config: scan interval min below %s", MinScanInterval)
	}
	if c.ScanIntervalMax < c.ScanIntervalMin {
		return errors.New("config: scan interval max below min")
	}
	if c.AnomalyThreshold <= 0 || c.AnomalyThreshold > 1 {
		return errors.New("config: anomaly threshold must be in (0,1]")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// Load reads a YAML config file, then applies SECURUS_* environment
// overrides and defaults. Validation is left to the caller so a host can
// inspect the partial config.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SECURUS_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("SECURUS_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("SECURUS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SECURUS_LEARNING_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LearningPeriod = d
		}
	}
	if v := os.Getenv("SECURUS_SCAN_INTERVAL_MIN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ScanIntervalMin = d
		}
	}
	if v := os.Getenv("SECURUS_SCAN_INTERVAL_MAX"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ScanIntervalMax = d
		}
	}
}
