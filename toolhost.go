// Package toolhost supervises the external helper tools behind a video
// editing application: long-running engines (preview renderer, TTS)
// and bounded one-shot jobs (transcodes, probes), with tree-kill
// semantics and a strict shutdown budget.
package toolhost

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/clipforge/toolhost/internal/config"
	"github.com/clipforge/toolhost/internal/env"
	"github.com/clipforge/toolhost/internal/executor"
	"github.com/clipforge/toolhost/internal/history"
	"github.com/clipforge/toolhost/internal/history/factory"
	"github.com/clipforge/toolhost/internal/logger"
	"github.com/clipforge/toolhost/internal/metrics"
	"github.com/clipforge/toolhost/internal/process"
	"github.com/clipforge/toolhost/internal/registry"
	iapi "github.com/clipforge/toolhost/internal/server"
	"github.com/clipforge/toolhost/internal/shutdown"
	"github.com/clipforge/toolhost/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type Health = process.Health

type LogConfig = logger.Config

type HistorySink = history.Sink

type RunOptions = executor.Options

type RunResult = executor.Result

type TimeoutError = executor.TimeoutError

type ShutdownStep = shutdown.Step

type ShutdownReport = shutdown.Report

// Host bundles the supervisor, the one-shot executor and their shared
// process registry behind a stable public API for embedding.
type Host struct {
	log  *slog.Logger
	reg  *registry.Registry
	sup  *supervisor.Supervisor
	exec *executor.Executor
}

func New() *Host { return NewWithLogger(slog.Default()) }

func NewWithLogger(log *slog.Logger) *Host {
	reg := registry.New()
	return &Host{
		log:  log,
		reg:  reg,
		sup:  supervisor.New(log, reg),
		exec: executor.New(log, reg),
	}
}

// SetGlobalEnv installs environment overrides applied to every tool.
func (h *Host) SetGlobalEnv(vars map[string]string) { h.sup.SetGlobalEnv(env.Var(vars)) }

// SetHistorySinks routes lifecycle and run events to the given sinks.
func (h *Host) SetHistorySinks(sinks ...HistorySink) {
	h.sup.SetHistorySinks(sinks...)
	h.exec.SetHistorySinks(sinks...)
}

// Start launches a supervised tool. Started is false (without error)
// when the id is already supervised.
func (h *Host) Start(spec Spec) (started bool, err error) { return h.sup.Start(spec) }

// Stop terminates a supervised tool, escalating to a forceful tree
// kill after grace. Zero grace uses the spec's own grace.
func (h *Host) Stop(id string, grace time.Duration) error { return h.sup.Stop(id, grace) }

// StopAll stops every supervised tool.
func (h *Host) StopAll(grace time.Duration) { h.sup.StopAll(grace) }

// Status returns the state of one tool; unknown ids yield the zero
// "not running" status.
func (h *Host) Status(id string) Status { return h.sup.Status(id) }

// StatusAll snapshots every supervised tool.
func (h *Host) StatusAll() []Status { return h.sup.StatusAll() }

// CheckHealth runs one bounded readiness probe against url.
func (h *Host) CheckHealth(ctx context.Context, id, url string, timeout time.Duration) bool {
	return h.sup.CheckHealthOnce(ctx, id, url, timeout)
}

// Run executes a one-shot tool to completion under a wall-clock budget.
func (h *Host) Run(ctx context.Context, spec Spec, opts RunOptions) (RunResult, error) {
	return h.exec.Run(ctx, spec, opts)
}

// ShutdownSteps builds the standard teardown sequence for this host.
// budget sizes the per-step sub-deadlines and should match the budget
// given to NewShutdownCoordinator; zero means the default budget.
func (h *Host) ShutdownSteps(budget time.Duration, primaryID, controlURL string, grace time.Duration, closers ...io.Closer) []ShutdownStep {
	return shutdown.DefaultSteps(shutdown.Hooks{
		Supervisor: h.sup,
		Registry:   h.reg,
		PrimaryID:  primaryID,
		ControlURL: controlURL,
		StopGrace:  grace,
		Budget:     budget,
		Closers:    closers,
	})
}

// NewShutdownCoordinator builds a fire-once coordinator over steps.
func (h *Host) NewShutdownCoordinator(budget time.Duration, steps ...ShutdownStep) *shutdown.Coordinator {
	return shutdown.New(h.log, budget, steps...)
}

// HTTPHandler returns the control API as a mountable http.Handler.
// onShutdown, when non-nil, is invoked once by POST {basePath}/shutdown.
func (h *Host) HTTPHandler(defaultLog LogConfig, basePath string, onShutdown func()) http.Handler {
	return iapi.NewRouter(h.sup, h.exec, defaultLog, basePath, onShutdown).Handler()
}

// NewHTTPServer starts a standalone control API server on addr.
func (h *Host) NewHTTPServer(addr, basePath string, defaultLog LogConfig, onShutdown func()) *http.Server {
	return iapi.NewServer(addr, iapi.NewRouter(h.sup, h.exec, defaultLog, basePath, onShutdown))
}

// LoadConfig reads the TOML configuration at path.
func LoadConfig(path string) (*cfg.FileConfig, error) { return cfg.Load(path) }

// NewHistorySink builds an event sink from a DSN
// (sqlite://, postgres://, clickhouse:// or a bare sqlite path).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewLogger builds the structured logger used across the host.
func NewLogger(level string, color bool) *slog.Logger { return logger.Setup(level, color) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
