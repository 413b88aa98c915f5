package api

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/anstrom/nscan/internal/config"
	"github.com/anstrom/nscan/internal/errors"
	"github.com/anstrom/nscan/internal/logging"
	"github.com/anstrom/nscan/internal/metrics"
	"github.com/anstrom/nscan/internal/resolver"
	"github.com/anstrom/nscan/internal/scanning"
)

// Job status values.
const (
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// JobSpec describes a scan to run.
type JobSpec struct {
	Target     string
	Ports      string
	Timeout    time.Duration
	Strategy   string
	Multiplier int
}

// Job is one scan submitted through the API.
type Job struct {
	ID        uuid.UUID
	Target    string
	Address   string
	Ports     scanning.PortRange
	Strategy  scanning.Strategy
	Timeout   time.Duration
	CreatedAt time.Time

	engine   *scanning.Engine
	finished chan struct{}

	mu         sync.RWMutex
	status     string
	phase      scanning.Phase
	finishedAt time.Time
	openPorts  []int
	err        error
}

// Engine returns the engine running the job.
func (j *Job) Engine() *scanning.Engine {
	return j.engine
}

// Done is closed once the scan has finished and its result is recorded.
func (j *Job) Done() <-chan struct{} {
	return j.finished
}

// JobView is the JSON representation of a Job.
type JobView struct {
	ID         string             `json:"id"`
	Target     string             `json:"target"`
	Address    string             `json:"address"`
	Ports      scanning.PortRange `json:"ports"`
	Strategy   scanning.Strategy  `json:"strategy"`
	TimeoutMS  int64              `json:"timeout_ms"`
	Status     string             `json:"status"`
	Phase      string             `json:"phase"`
	Scanned    int                `json:"scanned"`
	Total      int                `json:"total"`
	Progress   float64            `json:"progress"`
	OpenPorts  []int              `json:"open_ports,omitempty"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// View returns a consistent snapshot of the job.
func (j *Job) View() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()

	// the engine completes before finish records the result; until then the
	// job still reports running
	phase := j.phase
	if j.finishedAt.IsZero() {
		phase = min(j.engine.Phase(), scanning.PhaseRunning)
	}

	snap := j.engine.Snapshot()
	view := JobView{
		ID:        j.ID.String(),
		Target:    j.Target,
		Address:   j.Address,
		Ports:     j.Ports,
		Strategy:  j.Strategy,
		TimeoutMS: j.Timeout.Milliseconds(),
		Status:    j.status,
		Phase:     phase.String(),
		Scanned:   snap.Scanned,
		Total:     snap.Total,
		Progress:  snap.Progress(),
		OpenPorts: slices.Clone(j.openPorts),
		CreatedAt: j.CreatedAt,
	}
	if j.err != nil {
		view.Error = j.err.Error()
	}
	if !j.finishedAt.IsZero() {
		finished := j.finishedAt
		view.FinishedAt = &finished
	}
	return view
}

func (j *Job) finish(open []int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	defer close(j.finished)

	j.finishedAt = time.Now().UTC()
	j.phase = j.engine.Phase()
	j.openPorts = open
	j.err = err
	switch {
	case err == nil:
		j.status = StatusCompleted
	case errors.IsCode(err, errors.CodeBatchIncomplete):
		j.status = StatusIncomplete
	default:
		j.status = StatusFailed
	}
}

// JobManager runs scans in the background with a fixed number of slots.
type JobManager struct {
	defaults config.ScanningConfig
	capacity int64
	slots    *semaphore.Weighted
	resolver resolver.Resolver
	metrics  *metrics.PrometheusMetrics
	logger   *logging.Logger

	// appended to every engine's options
	engineOpts []scanning.Option

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
	// submission order, for listing
	order []uuid.UUID
}

// NewJobManager creates a manager that runs at most capacity scans at once.
func NewJobManager(
	defaults config.ScanningConfig,
	capacity int,
	res resolver.Resolver,
	m *metrics.PrometheusMetrics,
	logger *logging.Logger,
) *JobManager {
	if capacity <= 0 {
		capacity = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		defaults: defaults,
		capacity: int64(capacity),
		slots:    semaphore.NewWeighted(int64(capacity)),
		resolver: res,
		metrics:  m,
		logger:   logger.WithComponent("jobs"),
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[uuid.UUID]*Job),
	}
}

// Submit validates spec, resolves its target and starts the scan.
func (m *JobManager) Submit(ctx context.Context, spec JobSpec) (*Job, error) {
	strategyName := spec.Strategy
	if strategyName == "" {
		strategyName = m.defaults.DefaultStrategy
	}
	strategy, err := scanning.ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}

	portSpec := spec.Ports
	if portSpec == "" {
		portSpec = m.defaults.DefaultPorts
	}
	ports, err := scanning.ParsePortRange(portSpec)
	if err != nil {
		return nil, err
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = m.defaults.Timeout
	}
	multiplier := spec.Multiplier
	if multiplier <= 0 {
		multiplier = m.defaults.WorkerMultiplier
	}

	if err := resolver.ValidateHost(spec.Target); err != nil {
		return nil, err
	}
	address, err := m.resolver.Resolve(ctx, spec.Target)
	if err != nil {
		return nil, err
	}

	if !m.slots.TryAcquire(1) {
		return nil, errors.NewScanErrorWithTarget(errors.CodeCapacityExceeded,
			fmt.Sprintf("all %d scan slots are busy", m.capacity), spec.Target)
	}

	id := uuid.New()
	opts := []scanning.Option{
		scanning.WithMultiplier(multiplier),
		scanning.WithLogger(m.logger.WithScanID(id.String())),
		scanning.WithMetrics(m.metrics),
	}
	if m.defaults.RateLimit.Enabled {
		opts = append(opts, scanning.WithRateLimit(m.defaults.RateLimit.ProbesPerSecond, m.defaults.RateLimit.BurstSize))
	}
	opts = append(opts, m.engineOpts...)

	job := &Job{
		ID:        id,
		Target:    spec.Target,
		Address:   address,
		Ports:     ports,
		Strategy:  strategy,
		Timeout:   timeout,
		CreatedAt: time.Now().UTC(),
		engine:    scanning.NewEngine(address, ports, timeout, opts...),
		finished:  make(chan struct{}),
		status:    StatusRunning,
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.order = append(m.order, id)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(job)

	m.logger.Info("scan submitted",
		"scan_id", id.String(),
		"target", spec.Target,
		"address", address,
		"ports", ports.String(),
		"strategy", strategy.String())

	return job, nil
}

func (m *JobManager) run(job *Job) {
	defer m.wg.Done()

	open, err := job.engine.Scan(m.ctx, job.Strategy)
	m.slots.Release(1)
	job.finish(open, err)
	if err != nil {
		m.logger.ErrorScan("scan finished with error", job.Address, err, "scan_id", job.ID.String())
	}
}

// Get returns the job with the given ID.
func (m *JobManager) Get(id string) (*Job, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.NewScanError(errors.CodeValidation, fmt.Sprintf("invalid scan id %q", id))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[parsed]
	if !ok {
		return nil, errors.NewScanError(errors.CodeNotFound, fmt.Sprintf("scan %s not found", id))
	}
	return job, nil
}

// List returns all jobs in submission order.
func (m *JobManager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.order))
	for _, id := range m.order {
		jobs = append(jobs, m.jobs[id])
	}
	return jobs
}

// Active returns the number of scans holding a slot.
func (m *JobManager) Active() int {
	active := 0
	for _, job := range m.List() {
		select {
		case <-job.Done():
		default:
			active++
		}
	}
	return active
}

// Capacity returns the number of scan slots.
func (m *JobManager) Capacity() int {
	return int(m.capacity)
}

// Close cancels running scans and waits for them to return.
func (m *JobManager) Close() {
	m.cancel()
	m.wg.Wait()
}
