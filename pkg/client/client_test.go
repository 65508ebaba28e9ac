package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeDaemon(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /toolhost/start", func(w http.ResponseWriter, r *http.Request) {
		var spec ProcessSpec
		require.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
		if spec.ID == "taken" {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]bool{"started": false})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"started": true})
	})
	mux.HandleFunc("POST /toolhost/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "unknown process"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("GET /toolhost/status", func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("id"); id != "" {
			_ = json.NewEncoder(w).Encode(ProcessStatus{ID: id, Running: true, PID: 42, Health: "passed"})
			return
		}
		_ = json.NewEncoder(w).Encode([]ProcessStatus{{ID: "a"}, {ID: "b"}})
	})
	mux.HandleFunc("GET /toolhost/logs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(LogLines{
			ID:    r.URL.Query().Get("id"),
			Lines: []string{"[OUT] one", "[ERR] two"},
		})
	})
	mux.HandleFunc("POST /toolhost/run", func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Spec.ID == "slow" {
			w.WriteHeader(http.StatusGatewayTimeout)
			_ = json.NewEncoder(w).Encode(RunResult{TimedOut: true, Error: "executor: run exceeded 1s timeout"})
			return
		}
		_ = json.NewEncoder(w).Encode(RunResult{ExitCode: 0, Stdout: "done\n"})
	})
	mux.HandleFunc("POST /toolhost/shutdown", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("GET /toolhost/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL + "/toolhost", Timeout: 5 * time.Second})
	return srv, c
}

func TestClientStart(t *testing.T) {
	_, c := newFakeDaemon(t)
	ctx := context.Background()

	started, err := c.Start(ctx, ProcessSpec{ID: "renderer", Command: "renderd"})
	require.NoError(t, err)
	assert.True(t, started)

	started, err = c.Start(ctx, ProcessSpec{ID: "taken", Command: "renderd"})
	require.NoError(t, err)
	assert.False(t, started)
}

func TestClientStopAndStatus(t *testing.T) {
	_, c := newFakeDaemon(t)
	ctx := context.Background()

	require.NoError(t, c.Stop(ctx, "renderer", 2*time.Second))
	err := c.Stop(ctx, "missing", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown process")

	st, err := c.Status(ctx, "renderer")
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 42, st.PID)

	all, err := c.StatusAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestClientLogsRunShutdown(t *testing.T) {
	_, c := newFakeDaemon(t)
	ctx := context.Background()

	ll, err := c.Logs(ctx, "renderer", 50)
	require.NoError(t, err)
	assert.Len(t, ll.Lines, 2)

	res, err := c.Run(ctx, RunRequest{Spec: ProcessSpec{ID: "probe", Command: "ffprobe in.mp4"}})
	require.NoError(t, err)
	assert.Equal(t, "done\n", res.Stdout)

	res, err = c.Run(ctx, RunRequest{Spec: ProcessSpec{ID: "slow", Command: "render"}, Timeout: time.Second})
	require.Error(t, err)
	assert.True(t, res.TimedOut)

	require.NoError(t, c.Shutdown(ctx))
	assert.True(t, c.IsReachable(ctx))
}

func TestClientDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultConfig().BaseURL, c.baseURL)
}
