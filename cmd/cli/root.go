// Package cli provides the command-line interface for the nscan port scanner.
// It implements the Cobra-based command tree: one-shot scans, the API server
// and version reporting.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/nscan/internal/config"
	"github.com/anstrom/nscan/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nscan",
	Short: "TCP port reachability scanner",
	Long: `nscan checks which TCP ports of a host accept connections.

A contiguous port range is split into batches that are probed either by a
single worker or by a set of concurrent workers sized from the CPU count.
Scans can be run once from the command line or submitted to the API server.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// NSCAN_SCANNING_TIMEOUT overrides scanning.timeout
	viper.SetEnvPrefix("NSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setConfigDefaults(config.Default())

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

// setConfigDefaults mirrors the built-in defaults into viper so that every
// key can be overridden from the environment.
func setConfigDefaults(d *config.Config) {
	// Scanning configuration
	viper.SetDefault("scanning.default_strategy", d.Scanning.DefaultStrategy)
	viper.SetDefault("scanning.default_ports", d.Scanning.DefaultPorts)
	viper.SetDefault("scanning.timeout", d.Scanning.Timeout)
	viper.SetDefault("scanning.worker_multiplier", d.Scanning.WorkerMultiplier)
	viper.SetDefault("scanning.progress_interval", d.Scanning.ProgressInterval)
	viper.SetDefault("scanning.dns_server", d.Scanning.DNSServer)
	viper.SetDefault("scanning.dns_timeout", d.Scanning.DNSTimeout)
	viper.SetDefault("scanning.rate_limit.enabled", d.Scanning.RateLimit.Enabled)
	viper.SetDefault("scanning.rate_limit.probes_per_second", d.Scanning.RateLimit.ProbesPerSecond)
	viper.SetDefault("scanning.rate_limit.burst_size", d.Scanning.RateLimit.BurstSize)

	// API configuration
	viper.SetDefault("api.host", d.API.Host)
	viper.SetDefault("api.port", d.API.Port)
	viper.SetDefault("api.max_concurrent_scans", d.API.MaxConcurrentScans)

	// Logging configuration
	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)
	viper.SetDefault("logging.output", d.Logging.Output)

	// Metrics configuration
	viper.SetDefault("metrics.enabled", d.Metrics.Enabled)
	viper.SetDefault("metrics.path", d.Metrics.Path)
}

// loadConfig loads the config file and layers environment overrides on top.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	applyViper(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyViper copies viper's view of each key into cfg. Viper has read the
// same file, so only environment variables change anything here.
func applyViper(cfg *config.Config) {
	cfg.Scanning.DefaultStrategy = viper.GetString("scanning.default_strategy")
	cfg.Scanning.DefaultPorts = viper.GetString("scanning.default_ports")
	cfg.Scanning.Timeout = viper.GetDuration("scanning.timeout")
	cfg.Scanning.WorkerMultiplier = viper.GetInt("scanning.worker_multiplier")
	cfg.Scanning.ProgressInterval = viper.GetDuration("scanning.progress_interval")
	cfg.Scanning.DNSServer = viper.GetString("scanning.dns_server")
	cfg.Scanning.DNSTimeout = viper.GetDuration("scanning.dns_timeout")
	cfg.Scanning.RateLimit.Enabled = viper.GetBool("scanning.rate_limit.enabled")
	cfg.Scanning.RateLimit.ProbesPerSecond = viper.GetInt("scanning.rate_limit.probes_per_second")
	cfg.Scanning.RateLimit.BurstSize = viper.GetInt("scanning.rate_limit.burst_size")

	cfg.API.Host = viper.GetString("api.host")
	cfg.API.Port = viper.GetInt("api.port")
	cfg.API.MaxConcurrentScans = viper.GetInt("api.max_concurrent_scans")

	cfg.Logging.Level = viper.GetString("logging.level")
	cfg.Logging.Format = viper.GetString("logging.format")
	cfg.Logging.Output = viper.GetString("logging.output")

	cfg.Metrics.Enabled = viper.GetBool("metrics.enabled")
	cfg.Metrics.Path = viper.GetString("metrics.path")
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:     logging.LogLevel(level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: level == "debug",
	})
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", level, "format", cfg.Logging.Format)
	}
}
