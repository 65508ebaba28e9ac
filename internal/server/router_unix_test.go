//go:build !windows

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/toolhost/internal/executor"
	"github.com/clipforge/toolhost/internal/logger"
	"github.com/clipforge/toolhost/internal/process"
	"github.com/clipforge/toolhost/internal/registry"
	"github.com/clipforge/toolhost/internal/supervisor"
)

func newTestRouter(t *testing.T, onShutdown func()) (*Router, *supervisor.Supervisor) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New()
	sup := supervisor.New(log, reg)
	exec := executor.New(log, reg)
	t.Cleanup(func() { sup.StopAll(time.Second) })
	return NewRouter(sup, exec, logger.Config{Dir: t.TempDir()}, "/toolhost", onShutdown), sup
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStartStopStatusEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	h := r.Handler()

	w := doJSON(t, h, http.MethodPost, "/toolhost/start", process.Spec{ID: "sleeper", Command: "sleep 30"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// duplicate start conflicts
	w = doJSON(t, h, http.MethodPost, "/toolhost/start", process.Spec{ID: "sleeper", Command: "sleep 30"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, h, http.MethodGet, "/toolhost/status?id=sleeper", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st process.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Running)
	assert.Greater(t, st.PID, 0)

	w = doJSON(t, h, http.MethodGet, "/toolhost/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []process.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 1)

	w = doJSON(t, h, http.MethodPost, "/toolhost/stop?id=sleeper&grace=2s", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/toolhost/stop?id=sleeper", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartValidation(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	h := r.Handler()

	w := doJSON(t, h, http.MethodPost, "/toolhost/start", process.Spec{Command: "sleep 1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/toolhost/start", process.Spec{ID: "../etc", Command: "sleep 1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/toolhost/start", process.Spec{ID: "rel", Command: "sleep 1", WorkDir: "not/abs"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	h := r.Handler()

	w := doJSON(t, h, http.MethodPost, "/toolhost/run", RunRequest{
		Spec:    process.Spec{ID: "echo-run", Command: "echo from-api"},
		Timeout: 10 * time.Second,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.ExitCode)
	assert.Equal(t, "from-api\n", resp.Stdout)
	assert.False(t, resp.TimedOut)
}

func TestRunEndpointTimeout(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	h := r.Handler()

	w := doJSON(t, h, http.MethodPost, "/toolhost/run", RunRequest{
		Spec:    process.Spec{ID: "hang-run", Command: "echo early; sleep 30"},
		Timeout: 300 * time.Millisecond,
	})
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.TimedOut)
	assert.Equal(t, "early\n", resp.Stdout)
}

func TestRunEndpointStdin(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	h := r.Handler()

	w := doJSON(t, h, http.MethodPost, "/toolhost/run", RunRequest{
		Spec:    process.Spec{ID: "cat-run", Command: "cat"},
		Timeout: 10 * time.Second,
		Stdin:   "piped in\n",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "piped in\n", resp.Stdout)
}

func TestLogsEndpoint(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New()
	sup := supervisor.New(log, reg)
	exec := executor.New(log, reg)
	t.Cleanup(func() { sup.StopAll(time.Second) })
	r := NewRouter(sup, exec, logger.Config{Dir: dir}, "", nil)
	h := r.Handler()

	started, err := sup.Start(process.Spec{
		ID:      "chatty",
		Command: "echo one; echo two; sleep 30",
		Log:     logger.Config{Dir: dir},
	})
	require.NoError(t, err)
	require.True(t, started)

	deadline := time.Now().Add(3 * time.Second)
	var lines []string
	for time.Now().Before(deadline) {
		w := doJSON(t, h, http.MethodGet, "/logs?id=chatty&lines=10", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp logsResp
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		lines = resp.Lines
		if len(lines) >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[OUT]")
	assert.Contains(t, lines[0], "one")
	assert.Contains(t, lines[1], "two")

	// unknown id tails nothing but is not an error
	w := doJSON(t, h, http.MethodGet, "/logs?id=nobody", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/logs", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/logs?id=chatty&lines=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuiesceRejectsNewWork(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	h := r.Handler()

	w := doJSON(t, h, http.MethodPost, "/toolhost/quiesce", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/toolhost/start", process.Spec{ID: "late", Command: "sleep 1"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, h, http.MethodPost, "/toolhost/run", RunRequest{
		Spec: process.Spec{ID: "late-run", Command: "echo hi"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, h, http.MethodGet, "/toolhost/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestShutdownEndpointFiresHook(t *testing.T) {
	var fired atomic.Bool
	r, _ := newTestRouter(t, func() { fired.Store(true) })
	h := r.Handler()

	w := doJSON(t, h, http.MethodPost, "/toolhost/shutdown", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	deadline := time.Now().Add(2 * time.Second)
	for !fired.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, fired.Load())
}

func TestHealthzAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	h := r.Handler()

	w := doJSON(t, h, http.MethodGet, "/toolhost/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/toolhost/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
