package api

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/nscan/internal/config"
	"github.com/anstrom/nscan/internal/errors"
	"github.com/anstrom/nscan/internal/logging"
	"github.com/anstrom/nscan/internal/metrics"
	"github.com/anstrom/nscan/internal/scanning"
)

type staticResolver map[string]string

func (r staticResolver) Resolve(_ context.Context, host string) (string, error) {
	if addr, ok := r[host]; ok {
		return addr, nil
	}
	return "", errors.ErrResolution(host, fmt.Errorf("no such host"))
}

func newTestJobManager(t *testing.T, capacity int, engineOpts ...scanning.Option) *JobManager {
	t.Helper()
	m := NewJobManager(
		config.Default().Scanning,
		capacity,
		staticResolver{"db.internal": "192.0.2.7", "127.0.0.1": "127.0.0.1"},
		metrics.NewPrometheusMetrics(),
		logging.NewWithWriter(logging.DefaultConfig(), io.Discard),
	)
	m.engineOpts = engineOpts
	t.Cleanup(m.Close)
	return m
}

func openPorts(ports ...int) scanning.Option {
	return scanning.WithProber(scanning.ProberFunc(
		func(_ context.Context, _ string, port int) (scanning.PortState, error) {
			for _, p := range ports {
				if p == port {
					return scanning.PortOpen, nil
				}
			}
			return scanning.PortClosed, nil
		}))
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", job.ID)
	}
}

func TestJobManager_SubmitAppliesDefaults(t *testing.T) {
	m := newTestJobManager(t, 2, openPorts(22, 443))

	job, err := m.Submit(context.Background(), JobSpec{Target: "db.internal"})
	require.NoError(t, err)

	assert.Equal(t, "192.0.2.7", job.Address)
	assert.Equal(t, scanning.PortRange{Start: 1, End: 1024}, job.Ports)
	assert.Equal(t, scanning.MultiThreaded, job.Strategy)
	assert.Equal(t, 500*time.Millisecond, job.Timeout)

	waitDone(t, job)
	view := job.View()
	assert.Equal(t, StatusCompleted, view.Status)
	assert.Equal(t, "completed", view.Phase)
	assert.Equal(t, []int{22, 443}, view.OpenPorts)
	assert.Equal(t, 1024, view.Scanned)
	assert.Equal(t, 1.0, view.Progress)
	assert.NotNil(t, view.FinishedAt)
	assert.Empty(t, view.Error)
}

func TestJobManager_SubmitRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		spec JobSpec
		code errors.ErrorCode
	}{
		{
			name: "unknown strategy",
			spec: JobSpec{Target: "db.internal", Strategy: "parallel"},
			code: errors.CodeInvalidStrategy,
		},
		{
			name: "reversed ports",
			spec: JobSpec{Target: "db.internal", Ports: "90-80"},
			code: errors.CodeValidation,
		},
		{
			name: "target with port",
			spec: JobSpec{Target: "db.internal:5432"},
			code: errors.CodeTargetInvalid,
		},
		{
			name: "unresolvable target",
			spec: JobSpec{Target: "missing.internal"},
			code: errors.CodeResolution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestJobManager(t, 1)
			_, err := m.Submit(context.Background(), tt.spec)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.Empty(t, m.List())
		})
	}
}

func TestJobManager_CapacityAndClose(t *testing.T) {
	release := make(chan struct{})
	m := newTestJobManager(t, 1, blockingProber(release))

	first, err := m.Submit(context.Background(), JobSpec{Target: "127.0.0.1", Ports: "1-4"})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Active())

	_, err = m.Submit(context.Background(), JobSpec{Target: "127.0.0.1", Ports: "1-4"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCapacityExceeded))

	m.Close()
	waitDone(t, first)

	view := first.View()
	assert.Equal(t, StatusIncomplete, view.Status)
	assert.NotEmpty(t, view.Error)
	assert.Equal(t, 0, m.Active())
}

func TestJobManager_GetAndList(t *testing.T) {
	m := newTestJobManager(t, 4, openPorts())

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := m.Submit(context.Background(), JobSpec{Target: "127.0.0.1", Ports: "1-8", Strategy: "single"})
		require.NoError(t, err)
		ids = append(ids, job.ID.String())
	}

	listed := m.List()
	require.Len(t, listed, 3)
	for i, job := range listed {
		assert.Equal(t, ids[i], job.ID.String())
	}

	got, err := m.Get(ids[1])
	require.NoError(t, err)
	assert.Equal(t, ids[1], got.ID.String())

	_, err = m.Get("not-a-uuid")
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	_, err = m.Get("8d3b7c4e-2f4a-4a4e-9c1b-000000000000")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestJob_ViewBeforeFinish(t *testing.T) {
	ports := scanning.PortRange{Start: 1, End: 5}
	engine := scanning.NewEngine("192.0.2.7", ports, time.Second,
		openPorts(2),
		scanning.WithLogger(logging.NewWithWriter(logging.DefaultConfig(), io.Discard)),
		scanning.WithMetrics(metrics.NewPrometheusMetrics()))
	job := &Job{
		Ports:    ports,
		Strategy: scanning.SingleThreaded,
		engine:   engine,
		finished: make(chan struct{}),
		status:   StatusRunning,
	}

	open, err := engine.Scan(context.Background(), scanning.SingleThreaded)
	require.NoError(t, err)
	require.Equal(t, scanning.PhaseCompleted, engine.Phase())

	view := job.View()
	assert.Equal(t, StatusRunning, view.Status)
	assert.Equal(t, "running", view.Phase, "phase must not run ahead of the recorded result")
	assert.Nil(t, view.FinishedAt)

	job.finish(open, nil)
	waitDone(t, job)

	view = job.View()
	assert.Equal(t, StatusCompleted, view.Status)
	assert.Equal(t, "completed", view.Phase)
	assert.Equal(t, []int{2}, view.OpenPorts)
}
