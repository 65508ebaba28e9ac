package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolhost",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process starts.",
		}, []string{"id"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolhost",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"id"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolhost",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of auto restarts after unexpected exit.",
		}, []string{"id"},
	)
	processKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolhost",
			Subsystem: "process",
			Name:      "tree_kills_total",
			Help:      "Number of forced process-tree kills.",
		}, []string{"id"},
	)
	healthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolhost",
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Readiness probes by outcome.",
		}, []string{"id", "outcome"},
	)
	execRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolhost",
			Subsystem: "exec",
			Name:      "runs_total",
			Help:      "Bounded one-shot executions by outcome (ok, error, timeout, canceled).",
		}, []string{"outcome"},
	)
	execDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "toolhost",
			Subsystem: "exec",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one-shot executions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16),
		},
	)
	runningProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolhost",
			Subsystem: "process",
			Name:      "running",
			Help:      "Currently tracked running processes.",
		},
	)
	shutdownDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "toolhost",
			Subsystem: "shutdown",
			Name:      "duration_seconds",
			Help:      "Total elapsed time of the shutdown sequence.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
		},
	)
	shutdownStepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolhost",
			Subsystem: "shutdown",
			Name:      "step_failures_total",
			Help:      "Shutdown steps that reported an error or timed out.",
		}, []string{"step"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processStops, processRestarts, processKills,
		healthProbes, execRuns, execDuration, runningProcesses,
		shutdownDuration, shutdownStepFailures,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(id string) {
	if regOK.Load() {
		processStarts.WithLabelValues(id).Inc()
	}
}

func IncStop(id string) {
	if regOK.Load() {
		processStops.WithLabelValues(id).Inc()
	}
}

func IncRestart(id string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(id).Inc()
	}
}

func IncTreeKill(id string) {
	if regOK.Load() {
		processKills.WithLabelValues(id).Inc()
	}
}

func IncHealthProbe(id string, healthy bool) {
	if regOK.Load() {
		outcome := "unhealthy"
		if healthy {
			outcome = "healthy"
		}
		healthProbes.WithLabelValues(id, outcome).Inc()
	}
}

func IncExecRun(outcome string) {
	if regOK.Load() {
		execRuns.WithLabelValues(outcome).Inc()
	}
}

func ObserveExecDuration(seconds float64) {
	if regOK.Load() {
		execDuration.Observe(seconds)
	}
}

func SetRunningProcesses(n int) {
	if regOK.Load() {
		runningProcesses.Set(float64(n))
	}
}

func ObserveShutdownDuration(seconds float64) {
	if regOK.Load() {
		shutdownDuration.Observe(seconds)
	}
}

func IncShutdownStepFailure(step string) {
	if regOK.Load() {
		shutdownStepFailures.WithLabelValues(step).Inc()
	}
}
