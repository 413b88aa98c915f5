package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/nscan/internal/api"
	"github.com/anstrom/nscan/internal/config"
	"github.com/anstrom/nscan/internal/logging"
)

var (
	serveHost string
	servePort int
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the nscan API server",
	Long: `Run the nscan REST API server.

The API server provides:
  - POST /api/v1/scans to start a background scan
  - GET /api/v1/scans and /api/v1/scans/{id} to inspect scans
  - a WebSocket progress stream at /api/v1/scans/{id}/progress
  - Prometheus metrics and health endpoints`,
	Example: `  nscan serve
  nscan serve --host 0.0.0.0 --port 9090
  nscan serve --config /etc/nscan/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "API server host address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "API server port (overrides config)")
}

// loadServeConfig loads the configuration and applies the listen flags.
func loadServeConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	logger := logging.Default()
	server, err := api.New(cfg, api.WithVersion(version), api.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "API server listening on %s\n", server.GetAddress())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("API server stopped")
	return nil
}
