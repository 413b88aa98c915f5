package scanning

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/nscan/internal/errors"
	"github.com/anstrom/nscan/internal/logging"
	"github.com/anstrom/nscan/internal/metrics"
)

// Engine scans one address over one port range. An Engine runs a single
// scan; construct a new one for every scan.
type Engine struct {
	address string
	ports   PortRange
	timeout time.Duration

	prober      Prober
	multiplier  int
	parallelism int
	rateLimit   int
	rateBurst   int
	logger      *logging.Logger
	metrics     *metrics.PrometheusMetrics

	phase   atomic.Int32
	scanned atomic.Int64
	done    chan struct{}

	mu      sync.Mutex
	results []int
}

// Option configures an Engine.
type Option func(*Engine)

// WithProber replaces the default TCP connect prober.
func WithProber(p Prober) Option {
	return func(e *Engine) {
		e.prober = p
	}
}

// WithMultiplier scales the detected parallelism when sizing the worker set.
func WithMultiplier(multiplier int) Option {
	return func(e *Engine) {
		e.multiplier = multiplier
	}
}

// WithParallelism overrides runtime.NumCPU as the base worker count.
func WithParallelism(parallelism int) Option {
	return func(e *Engine) {
		e.parallelism = parallelism
	}
}

// WithRateLimit caps probes per second across all workers. Zero disables it.
func WithRateLimit(perSecond, burst int) Option {
	return func(e *Engine) {
		e.rateLimit = perSecond
		e.rateBurst = burst
	}
}

// WithLogger sets the logger used for scan lifecycle events.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the collector scan outcomes are recorded to.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an idle engine for address over ports, where each
// connection attempt may take up to timeout.
func NewEngine(address string, ports PortRange, timeout time.Duration, opts ...Option) *Engine {
	e := &Engine{
		address:     address,
		ports:       ports,
		timeout:     timeout,
		multiplier:  1,
		parallelism: runtime.NumCPU(),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.prober == nil {
		e.prober = NewTCPProber(timeout)
	}
	if e.rateLimit > 0 {
		e.prober = NewRateLimitedProber(e.prober, e.rateLimit, e.rateBurst)
	}
	if e.logger == nil {
		e.logger = logging.Default().WithComponent("scanner")
	}
	if e.metrics == nil {
		e.metrics = metrics.GetGlobalMetrics()
	}

	return e
}

// Address returns the scan target.
func (e *Engine) Address() string { return e.address }

// Ports returns the scanned range.
func (e *Engine) Ports() PortRange { return e.ports }

// Total returns the number of ports in the range.
func (e *Engine) Total() int { return e.ports.Size() }

// PortsScanned returns how many ports have been classified so far.
// It is safe to call while a scan is in flight.
func (e *Engine) PortsScanned() int {
	return int(e.scanned.Load())
}

// Snapshot returns the current progress.
func (e *Engine) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{Scanned: e.PortsScanned(), Total: e.Total()}
}

// Phase returns the lifecycle phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// Done is closed once the scan reaches PhaseCompleted.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Results returns a copy of the open ports, or nil before completion.
func (e *Engine) Results() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.results == nil {
		return nil
	}
	return slices.Clone(e.results)
}

// Scan probes the range with the given strategy and returns the open ports
// in ascending order.
//
// If some batches abort on an unexpected probe failure, Scan still returns
// every open port found, together with a BATCH_INCOMPLETE error wrapping one
// *BatchError per aborted batch.
func (e *Engine) Scan(ctx context.Context, strategy Strategy) ([]int, error) {
	if !strategy.Valid() {
		e.metrics.IncrementScanErrors("invalid", string(errors.CodeInvalidStrategy))
		return nil, errors.ErrInvalidStrategy(strategy.String())
	}
	if e.ports.Size() < 1 || e.ports.Start < MinPort || e.ports.End > MaxPort {
		return nil, errors.NewScanErrorWithTarget(errors.CodeValidation,
			fmt.Sprintf("invalid port range %d-%d", e.ports.Start, e.ports.End), e.address)
	}
	if !e.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseRunning)) {
		return nil, errors.NewScanErrorWithTarget(errors.CodeScanState,
			fmt.Sprintf("engine is %s, a scan can only start from idle", e.Phase()), e.address)
	}

	batches, err := e.plan(strategy)
	if err != nil {
		// planning only fails on inputs checked above
		e.complete(nil)
		return nil, err
	}

	e.metrics.ScanStarted()
	defer e.metrics.ScanFinished()
	e.metrics.SetWorkers(len(batches))

	start := time.Now()
	e.logger.InfoScan("scan started", e.address,
		"ports", e.ports.String(),
		"strategy", strategy.String(),
		"workers", len(batches))

	var (
		open      []int
		batchErrs []error
	)
	if strategy == SingleThreaded {
		open, batchErrs = e.runSequential(ctx, batches[0])
	} else {
		open, batchErrs = e.runConcurrent(ctx, batches)
	}

	slices.Sort(open)
	if open == nil {
		open = []int{}
	}
	e.complete(open)

	duration := time.Since(start)
	scanned := e.PortsScanned()
	e.metrics.RecordScanDuration(strategy.String(), duration)
	e.metrics.IncrementPortsScanned(PortOpen.String(), len(open))
	e.metrics.IncrementPortsScanned(PortClosed.String(), scanned-len(open))

	if len(batchErrs) > 0 {
		e.metrics.IncrementScansTotal(strategy.String(), "partial")
		e.metrics.IncrementScanErrors(strategy.String(), string(errors.CodeBatchIncomplete))
		e.logger.WarnContext(ctx, "scan incomplete",
			"target", e.address,
			"failed_batches", len(batchErrs),
			"scanned", scanned,
			"total", e.Total())
		return slices.Clone(open), errors.WrapScanErrorWithTarget(errors.CodeBatchIncomplete,
			fmt.Sprintf("%d of %d batches did not complete", len(batchErrs), len(batches)),
			e.address, errors.Join(batchErrs...))
	}

	e.metrics.IncrementScansTotal(strategy.String(), "success")
	e.logger.InfoScan("scan completed", e.address,
		"open_ports", len(open),
		"scanned", scanned,
		"duration", duration)

	return slices.Clone(open), nil
}

func (e *Engine) plan(strategy Strategy) ([]Batch, error) {
	if strategy == SingleThreaded {
		return PlanBatches(e.ports, 1)
	}
	return PlanBatches(e.ports, WorkerCount(e.parallelism, e.multiplier))
}

func (e *Engine) runSequential(ctx context.Context, batch Batch) ([]int, []error) {
	open, err := e.runBatch(ctx, batch)
	if err != nil {
		return open, []error{err}
	}
	return open, nil
}

// runConcurrent gives each batch its own goroutine and result slice; the
// slices are only merged after every worker has returned.
func (e *Engine) runConcurrent(ctx context.Context, batches []Batch) ([]int, []error) {
	found := make([][]int, len(batches))
	failed := make([]error, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			open, err := e.runBatch(ctx, batch)
			found[i] = open
			if err != nil {
				failed[i] = err
			}
		}()
	}
	wg.Wait()

	var (
		open []int
		errs []error
	)
	for i := range batches {
		open = append(open, found[i]...)
		if failed[i] != nil {
			errs = append(errs, failed[i])
		}
	}
	return open, errs
}

// runBatch probes batch ports in ascending order, stopping at the first
// unexpected failure. The failing port is not counted as scanned.
func (e *Engine) runBatch(ctx context.Context, batch Batch) ([]int, error) {
	var open []int
	for port := batch.Range.Start; port <= batch.Range.End; port++ {
		state, err := e.prober.Probe(ctx, e.address, port)
		if err != nil {
			batchErr := &BatchError{Batch: batch, Port: port, Err: err}
			e.logger.ErrorScan("batch aborted", e.address, err,
				"batch", batch.Index,
				"port", port,
				"remaining", batch.Range.End-port+1)
			return open, batchErr
		}

		e.scanned.Add(1)
		if state == PortOpen {
			open = append(open, port)
		}
	}
	return open, nil
}

func (e *Engine) complete(open []int) {
	e.mu.Lock()
	e.results = open
	e.mu.Unlock()

	e.phase.Store(int32(PhaseCompleted))
	close(e.done)
}
