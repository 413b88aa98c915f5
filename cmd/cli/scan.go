package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/nscan/internal/config"
	"github.com/anstrom/nscan/internal/logging"
	"github.com/anstrom/nscan/internal/progress"
	"github.com/anstrom/nscan/internal/resolver"
	"github.com/anstrom/nscan/internal/scanning"
)

// Output formats.
const (
	outputTable = "table"
	outputJSON  = "json"
)

// strategyFlag is a pflag.Value accepting "single" or "multi".
type strategyFlag struct {
	value scanning.Strategy
}

func (f *strategyFlag) String() string {
	if !f.value.Valid() {
		return ""
	}
	return f.value.String()
}

func (f *strategyFlag) Set(s string) error {
	strategy, err := scanning.ParseStrategy(s)
	if err != nil {
		return err
	}
	f.value = strategy
	return nil
}

func (f *strategyFlag) Type() string {
	return "strategy"
}

// Scan command flags.
var (
	scanPorts      string
	scanTimeout    time.Duration
	scanStrategy   strategyFlag
	scanMultiplier int
	scanRate       int
	scanBurst      int
	scanDNSServer  string
	scanOutput     string
	scanNoProgress bool
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan <host>",
	Short: "Scan a host for open TCP ports",
	Long: `Scan a single host for TCP ports that accept connections.

The host may be an IP address or a hostname. Hostnames are resolved with the
system resolver, or with --dns-server when given. The port range is probed
either sequentially (--strategy single) or by concurrent workers
(--strategy multi, the default). A port is open when a TCP connection
completes within --timeout.`,
	Example: `  nscan scan 192.168.1.10
  nscan scan example.com --ports 1-65535 --timeout 300ms
  nscan scan localhost --ports 8000-9000 --strategy single
  nscan scan 10.0.0.5 --multiplier 4 --rate 500 --output json`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanPorts, "ports", "p", "", "Port range to scan, e.g. '1-1024' (default from config)")
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 0, "Per-port connection timeout (default from config)")
	scanCmd.Flags().VarP(&scanStrategy, "strategy", "s", "Scan strategy: single or multi (default from config)")
	scanCmd.Flags().IntVarP(&scanMultiplier, "multiplier", "m", 0, "Workers per CPU for the multi strategy (default from config)")
	scanCmd.Flags().IntVar(&scanRate, "rate", 0, "Maximum probes per second, 0 for unlimited")
	scanCmd.Flags().IntVar(&scanBurst, "burst", 0, "Probe burst size when --rate is set")
	scanCmd.Flags().StringVar(&scanDNSServer, "dns-server", "", "DNS server used to resolve the host, e.g. 1.1.1.1:53")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", outputTable, "Output format: table or json")
	scanCmd.Flags().BoolVar(&scanNoProgress, "no-progress", false, "Do not report progress")
}

// scanOptions are the effective settings of one scan after flags have been
// layered over the configuration.
type scanOptions struct {
	Host       string
	Ports      scanning.PortRange
	Strategy   scanning.Strategy
	Timeout    time.Duration
	Multiplier int
	Rate       int
	Burst      int
	DNSServer  string
	DNSTimeout time.Duration
	Interval   time.Duration
	Output     string
}

// resolveScanOptions merges the command line over cfg.
func resolveScanOptions(cmd *cobra.Command, cfg *config.Config, host string) (scanOptions, error) {
	opts := scanOptions{
		Host:       host,
		Timeout:    cfg.Scanning.Timeout,
		Multiplier: cfg.Scanning.WorkerMultiplier,
		DNSServer:  cfg.Scanning.DNSServer,
		DNSTimeout: cfg.Scanning.DNSTimeout,
		Interval:   cfg.Scanning.ProgressInterval,
		Output:     scanOutput,
	}
	opts.Rate, opts.Burst = cfg.RateLimit()

	portSpec := cfg.Scanning.DefaultPorts
	if cmd.Flags().Changed("ports") {
		portSpec = scanPorts
	}
	ports, err := scanning.ParsePortRange(portSpec)
	if err != nil {
		return opts, err
	}
	opts.Ports = ports

	if cmd.Flags().Changed("strategy") {
		opts.Strategy = scanStrategy.value
	} else {
		strategy, err := scanning.ParseStrategy(cfg.Scanning.DefaultStrategy)
		if err != nil {
			return opts, err
		}
		opts.Strategy = strategy
	}

	if cmd.Flags().Changed("timeout") {
		if scanTimeout <= 0 {
			return opts, fmt.Errorf("--timeout must be positive, got %s", scanTimeout)
		}
		opts.Timeout = scanTimeout
	}
	if cmd.Flags().Changed("multiplier") {
		if scanMultiplier < 1 {
			return opts, fmt.Errorf("--multiplier must be at least 1, got %d", scanMultiplier)
		}
		opts.Multiplier = scanMultiplier
	}
	if cmd.Flags().Changed("rate") {
		opts.Rate = scanRate
		opts.Burst = scanBurst
	}
	if cmd.Flags().Changed("dns-server") {
		opts.DNSServer = scanDNSServer
	}

	switch opts.Output {
	case outputTable, outputJSON:
	default:
		return opts, fmt.Errorf("invalid output format %q (valid: table, json)", opts.Output)
	}

	return opts, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts, err := resolveScanOptions(cmd, cfg, args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Default().WithComponent("cli")
	reporter := progress.New(os.Stderr, scanNoProgress, logger)

	report, err := executeScan(ctx, opts, reporter, logger)
	if report != nil {
		if writeErr := writeReport(cmd.OutOrStdout(), opts.Output, report); writeErr != nil {
			return writeErr
		}
	}
	return err
}

// scanReport is the printed result of a scan.
type scanReport struct {
	Target    string             `json:"target"`
	Address   string             `json:"address"`
	Ports     scanning.PortRange `json:"ports"`
	Strategy  scanning.Strategy  `json:"strategy"`
	OpenPorts []int              `json:"open_ports"`
	Scanned   int                `json:"scanned"`
	Total     int                `json:"total"`
	Duration  string             `json:"duration"`
	Error     string             `json:"error,omitempty"`
}

// executeScan resolves the target and runs the engine alongside a progress
// watcher. A report is returned whenever the engine ran, even on error.
func executeScan(
	ctx context.Context,
	opts scanOptions,
	reporter scanning.Reporter,
	logger *logging.Logger,
	engineOpts ...scanning.Option,
) (*scanReport, error) {
	address, err := resolver.New(opts.DNSServer, opts.DNSTimeout).Resolve(ctx, opts.Host)
	if err != nil {
		return nil, err
	}

	options := []scanning.Option{
		scanning.WithMultiplier(opts.Multiplier),
		scanning.WithLogger(logger.WithTarget(opts.Host)),
	}
	if opts.Rate > 0 {
		options = append(options, scanning.WithRateLimit(opts.Rate, opts.Burst))
	}
	options = append(options, engineOpts...)

	engine := scanning.NewEngine(address, opts.Ports, opts.Timeout, options...)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	var open []int
	g.Go(func() (err error) {
		open, err = engine.Scan(gctx, opts.Strategy)
		return err
	})
	g.Go(func() error {
		// a failed scan cancels gctx, which is the only way this returns early
		_ = scanning.Watch(gctx, engine, reporter, opts.Interval)
		return nil
	})
	err = g.Wait()

	if engine.Phase() != scanning.PhaseCompleted {
		return nil, err
	}

	report := &scanReport{
		Target:    opts.Host,
		Address:   address,
		Ports:     opts.Ports,
		Strategy:  opts.Strategy,
		OpenPorts: open,
		Scanned:   engine.PortsScanned(),
		Total:     engine.Total(),
		Duration:  time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		report.Error = err.Error()
	}
	return report, err
}

func writeReport(w io.Writer, format string, report *scanReport) error {
	if format == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return writeTable(w, report)
}

// writeTable prints one row per open port followed by a summary line.
func writeTable(w io.Writer, report *scanReport) error {
	fmt.Fprintf(w, "Scan of %s (%s), ports %s, strategy %s\n",
		report.Target, report.Address, report.Ports, report.Strategy)

	if len(report.OpenPorts) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Port", "State")
		for _, port := range report.OpenPorts {
			_ = table.Append([]string{strconv.Itoa(port), scanning.PortOpen.String()})
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("failed to render results: %w", err)
		}
	}

	fmt.Fprintf(w, "%d open of %d scanned (%d total) in %s\n",
		len(report.OpenPorts), report.Scanned, report.Total, report.Duration)
	if report.Error != "" {
		fmt.Fprintf(w, "Scan incomplete: %s\n", report.Error)
	}
	return nil
}
