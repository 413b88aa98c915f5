package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/nscan/internal/errors"
	"github.com/anstrom/nscan/internal/scanning"
)

// Config represents the complete nscan configuration
type Config struct {
	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ScanningConfig holds scanning-related settings
type ScanningConfig struct {
	// Default scan strategy (single or multi)
	DefaultStrategy string `yaml:"default_strategy" json:"default_strategy"`

	// Default port range, e.g. "1-1024"
	DefaultPorts string `yaml:"default_ports" json:"default_ports"`

	// Per-port connection timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Multiplier applied to the CPU count when sizing the worker set
	WorkerMultiplier int `yaml:"worker_multiplier" json:"worker_multiplier"`

	// How often progress is polled and reported
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval"`

	// DNS server used for hostname resolution; empty means the system resolver
	DNSServer string `yaml:"dns_server" json:"dns_server"`

	// Timeout of one DNS query, independent of the per-port timeout
	DNSTimeout time.Duration `yaml:"dns_timeout" json:"dns_timeout"`

	// Rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig holds probe rate limiting settings
type RateLimitConfig struct {
	// Enable rate limiting
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Probes per second
	ProbesPerSecond int `yaml:"probes_per_second" json:"probes_per_second"`

	// Burst size
	BurstSize int `yaml:"burst_size" json:"burst_size"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Listen address
	Host string `yaml:"host" json:"host"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	// Server timeouts
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// Maximum number of scans running at once
	MaxConcurrentScans int `yaml:"max_concurrent_scans" json:"max_concurrent_scans"`

	// CORS settings
	EnableCORS  bool     `yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			DefaultStrategy:  "multi",
			DefaultPorts:     "1-1024",
			Timeout:          500 * time.Millisecond,
			WorkerMultiplier: 1,
			ProgressInterval: 100 * time.Millisecond,
			DNSServer:        "",
			DNSTimeout:       2 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:         false,
				ProbesPerSecond: 1000,
				BurstSize:       100,
			},
		},
		API: APIConfig{
			Host:               "127.0.0.1",
			Port:               8080,
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       10 * time.Second,
			IdleTimeout:        60 * time.Second,
			MaxConcurrentScans: 4,
			EnableCORS:         false,
			CORSOrigins:        []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Start with defaults
	config := Default()

	if path == "" {
		return config, nil
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil // Return defaults if no config file
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder covers both extensions
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := scanning.ParseStrategy(c.Scanning.DefaultStrategy); err != nil {
		return errors.ErrConfigInvalid("scanning.default_strategy", c.Scanning.DefaultStrategy)
	}
	if _, err := scanning.ParsePortRange(c.Scanning.DefaultPorts); err != nil {
		return errors.ErrConfigInvalid("scanning.default_ports", c.Scanning.DefaultPorts)
	}
	if c.Scanning.Timeout <= 0 {
		return errors.ErrConfigInvalid("scanning.timeout", c.Scanning.Timeout)
	}
	if c.Scanning.WorkerMultiplier < 1 {
		return errors.ErrConfigInvalid("scanning.worker_multiplier", c.Scanning.WorkerMultiplier)
	}
	if c.Scanning.ProgressInterval <= 0 {
		return errors.ErrConfigInvalid("scanning.progress_interval", c.Scanning.ProgressInterval)
	}
	if c.Scanning.DNSTimeout <= 0 {
		return errors.ErrConfigInvalid("scanning.dns_timeout", c.Scanning.DNSTimeout)
	}
	if c.Scanning.RateLimit.Enabled && c.Scanning.RateLimit.ProbesPerSecond <= 0 {
		return errors.ErrConfigInvalid("scanning.rate_limit.probes_per_second", c.Scanning.RateLimit.ProbesPerSecond)
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return errors.ErrConfigInvalid("api.port", c.API.Port)
	}
	if c.API.Host == "" {
		return errors.ErrConfigInvalid("api.host", c.API.Host)
	}
	if c.API.MaxConcurrentScans <= 0 {
		return errors.ErrConfigInvalid("api.max_concurrent_scans", c.API.MaxConcurrentScans)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}

// RateLimit returns the configured probe rate and burst, or zeros when disabled.
func (c *Config) RateLimit() (perSecond, burst int) {
	if !c.Scanning.RateLimit.Enabled {
		return 0, 0
	}
	return c.Scanning.RateLimit.ProbesPerSecond, c.Scanning.RateLimit.BurstSize
}
