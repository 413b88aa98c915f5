package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/nscan/internal/config"
	"github.com/anstrom/nscan/internal/logging"
	"github.com/anstrom/nscan/internal/metrics"
	"github.com/anstrom/nscan/internal/scanning"
)

// Test helper functions
func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Scanning.Timeout = 200 * time.Millisecond
	cfg.Scanning.ProgressInterval = 5 * time.Millisecond
	cfg.API.MaxConcurrentScans = 2
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, engineOpts ...scanning.Option) (*Server, *httptest.Server) {
	t.Helper()

	srv, err := New(cfg,
		WithVersion("1.2.3"),
		WithLogger(logging.NewWithWriter(logging.DefaultConfig(), io.Discard)),
		WithMetrics(metrics.NewPrometheusMetrics()))
	require.NoError(t, err)
	srv.jobs.engineOpts = engineOpts

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.jobs.Close()
	})
	return srv, ts
}

func startListener(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// blockingProber holds every probe until release is closed.
func blockingProber(release <-chan struct{}) scanning.Option {
	return scanning.WithProber(scanning.ProberFunc(
		func(ctx context.Context, _ string, _ int) (scanning.PortState, error) {
			select {
			case <-release:
				return scanning.PortClosed, nil
			case <-ctx.Done():
				return scanning.PortClosed, ctx.Err()
			}
		}))
}

func postScan(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/scans", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func waitForJob(t *testing.T, srv *Server, id string) {
	t.Helper()
	job, err := srv.jobs.Get(id)
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("scan %s did not finish", id)
	}
}

func TestHealthAndVersion(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Capacity)

	resp, err = http.Get(ts.URL + "/api/v1/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	version := decode[VersionResponse](t, resp)
	assert.Equal(t, "1.2.3", version.Version)
	assert.Equal(t, "nscan", version.Service)
}

func TestCreateScan_FindsOpenPort(t *testing.T) {
	srv, ts := newTestServer(t, createTestConfig())
	port := startListener(t)

	resp := postScan(t, ts, `{"target":"127.0.0.1","ports":"`+strconv.Itoa(port)+`","strategy":"single"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decode[JobView](t, resp)
	assert.Equal(t, "/api/v1/scans/"+created.ID, resp.Header.Get("Location"))
	assert.Equal(t, scanning.SingleThreaded, created.Strategy)

	waitForJob(t, srv, created.ID)

	get, err := http.Get(ts.URL + "/api/v1/scans/" + created.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)

	view := decode[JobView](t, get)
	assert.Equal(t, StatusCompleted, view.Status)
	assert.Equal(t, "completed", view.Phase)
	assert.Equal(t, []int{port}, view.OpenPorts)
	assert.Equal(t, 1.0, view.Progress)
	assert.NotNil(t, view.FinishedAt)
}

func TestCreateScan_Errors(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"invalid strategy", `{"target":"127.0.0.1","ports":"1-10","strategy":"turbo"}`, http.StatusBadRequest, "INVALID_STRATEGY"},
		{"missing target", `{"ports":"1-10"}`, http.StatusBadRequest, "VALIDATION"},
		{"cidr target", `{"target":"10.0.0.0/24"}`, http.StatusBadRequest, "TARGET_INVALID"},
		{"multiplier too large", `{"target":"127.0.0.1","multiplier":100}`, http.StatusBadRequest, "VALIDATION"},
		{"negative timeout", `{"target":"127.0.0.1","timeout_ms":-5}`, http.StatusBadRequest, "VALIDATION"},
		{"bad port range", `{"target":"127.0.0.1","ports":"10-1"}`, http.StatusBadRequest, "VALIDATION"},
		{"unknown field", `{"target":"127.0.0.1","threads":4}`, http.StatusBadRequest, "VALIDATION"},
		{"malformed json", `{"target":`, http.StatusBadRequest, "VALIDATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postScan(t, ts, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			errResp := decode[ErrorResponse](t, resp)
			assert.Equal(t, tt.code, errResp.Code)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestCreateScan_UnsupportedContentType(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	resp, err := http.Post(ts.URL+"/api/v1/scans", "text/plain", strings.NewReader("target=127.0.0.1"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestCreateScan_CapacityExceeded(t *testing.T) {
	cfg := createTestConfig()
	cfg.API.MaxConcurrentScans = 1
	release := make(chan struct{})
	srv, ts := newTestServer(t, cfg, blockingProber(release))

	first := postScan(t, ts, `{"target":"127.0.0.1","ports":"1-4"}`)
	require.Equal(t, http.StatusAccepted, first.StatusCode)
	created := decode[JobView](t, first)

	second := postScan(t, ts, `{"target":"127.0.0.1","ports":"1-4"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "CAPACITY_EXCEEDED", decode[ErrorResponse](t, second).Code)

	close(release)
	waitForJob(t, srv, created.ID)

	third := postScan(t, ts, `{"target":"127.0.0.1","ports":"1-4"}`)
	assert.Equal(t, http.StatusAccepted, third.StatusCode)
}

func TestGetScan_NotFound(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	resp, err := http.Get(ts.URL + "/api/v1/scans/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/scans/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/nothing-here")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListScans(t *testing.T) {
	srv, ts := newTestServer(t, createTestConfig())

	var ids []string
	for range 2 {
		resp := postScan(t, ts, `{"target":"127.0.0.1","ports":"1"}`)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		ids = append(ids, decode[JobView](t, resp).ID)
	}
	for _, id := range ids {
		waitForJob(t, srv, id)
	}

	resp, err := http.Get(ts.URL + "/api/v1/scans")
	require.NoError(t, err)
	defer resp.Body.Close()

	list := decode[ScanListResponse](t, resp)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, ids[0], list.Scans[0].ID)
	assert.Equal(t, ids[1], list.Scans[1].ID)
}

func TestProgressWebSocket(t *testing.T) {
	release := make(chan struct{})
	srv, ts := newTestServer(t, createTestConfig(), blockingProber(release))

	resp := postScan(t, ts, `{"target":"127.0.0.1","ports":"1-8","strategy":"multi"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decode[JobView](t, resp)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/scans/" + created.ID + "/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first ProgressMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, created.ID, first.ID)
	assert.False(t, first.Final)
	assert.Equal(t, 8, first.Total)

	close(release)
	waitForJob(t, srv, created.ID)

	var last ProgressMessage
	for !last.Final {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&last))
		assert.LessOrEqual(t, last.Progress, 1.0)
	}
	assert.Equal(t, 1.0, last.Progress)
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, 8, last.Scanned)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestProgressWebSocket_UnknownScan(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/scans/" + uuid.NewString() + "/progress"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	health, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	health.Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `nscan_api_requests_total{method="GET",path="/api/v1/health",status="200"} 1`)
}

func TestSwaggerDocs(t *testing.T) {
	_, ts := newTestServer(t, createTestConfig())

	resp, err := http.Get(ts.URL + "/swagger/doc.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	doc := decode[map[string]any](t, resp)
	assert.Equal(t, "2.0", doc["swagger"])
	assert.Equal(t, "/api/v1", doc["basePath"])

	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	for _, path := range []string{"/health", "/version", "/scans", "/scans/{id}", "/scans/{id}/progress"} {
		assert.Contains(t, paths, path)
	}

	index, err := http.Get(ts.URL + "/swagger/index.html")
	require.NoError(t, err)
	defer index.Body.Close()
	assert.Equal(t, http.StatusOK, index.StatusCode)
}

func TestCORS(t *testing.T) {
	cfg := createTestConfig()
	cfg.API.EnableCORS = true
	_, ts := newTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusForError(t *testing.T) {
	_, err := scanning.ParseStrategy("nope")
	assert.Equal(t, http.StatusBadRequest, statusForError(err))
	assert.Equal(t, http.StatusInternalServerError, statusForError(io.EOF))
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
