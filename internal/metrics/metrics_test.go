package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
	require.NoError(t, Register(prometheus.NewRegistry()))
}

func TestHelpersRecordAfterRegister(t *testing.T) {
	_ = Register(prometheus.NewRegistry())

	IncStart("encoder")
	IncStart("encoder")
	IncStop("encoder")
	IncRestart("encoder")
	IncTreeKill("encoder")
	IncHealthProbe("encoder", true)
	IncHealthProbe("encoder", false)
	IncExecRun("timeout")
	ObserveExecDuration(0.2)
	SetRunningProcesses(3)
	ObserveShutdownDuration(1.5)
	IncShutdownStepFailure("kill-tracked")

	assert.GreaterOrEqual(t, testutil.ToFloat64(processStarts.WithLabelValues("encoder")), float64(2))
	assert.GreaterOrEqual(t, testutil.ToFloat64(processStops.WithLabelValues("encoder")), float64(1))
	assert.GreaterOrEqual(t, testutil.ToFloat64(healthProbes.WithLabelValues("encoder", "healthy")), float64(1))
	assert.GreaterOrEqual(t, testutil.ToFloat64(execRuns.WithLabelValues("timeout")), float64(1))
	assert.Equal(t, float64(3), testutil.ToFloat64(runningProcesses))
}
