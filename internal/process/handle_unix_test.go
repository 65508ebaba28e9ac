//go:build !windows

package process

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/toolhost/internal/logger"
)

func startHandle(t *testing.T, command string, sink LineSink) *Handle {
	t.Helper()
	h := New(Spec{ID: "t-" + t.Name(), Command: command, Log: logger.Config{Dir: t.TempDir()}})
	require.NoError(t, h.Start(StartOptions{Sink: sink}))
	t.Cleanup(func() {
		_ = h.KillTree(true)
		h.WaitExit(5 * time.Second)
	})
	return h
}

func TestStartReportsRunningAndPID(t *testing.T) {
	h := startHandle(t, "sleep 5", nil)
	assert.True(t, h.Running())
	assert.Greater(t, h.PID(), 0)

	st := h.Snapshot()
	assert.True(t, st.Running)
	assert.Greater(t, st.PID, 0)
	assert.False(t, st.StartedAt.IsZero())
}

func TestLaunchErrorOnBadPath(t *testing.T) {
	h := New(Spec{ID: "bad", Command: "/definitely/not/a/binary"})
	err := h.Start(StartOptions{})
	require.Error(t, err)
	var le *LaunchError
	assert.ErrorAs(t, err, &le)
	assert.False(t, h.Running())
}

func TestOutputLinesDeliveredInOrder(t *testing.T) {
	var mu sync.Mutex
	var out []string
	sink := func(tag, line string) {
		if tag == logger.TagStdout {
			mu.Lock()
			out = append(out, line)
			mu.Unlock()
		}
	}
	h := startHandle(t, `sh -c 'echo one; echo two; echo three'`, sink)
	outcome := h.WaitExit(5 * time.Second)
	require.False(t, outcome.TimedOut)
	require.Equal(t, 0, outcome.Code)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two", "three"}, out)
}

func TestWaitExitTimeout(t *testing.T) {
	h := startHandle(t, "sleep 10", nil)
	start := time.Now()
	outcome := h.WaitExit(100 * time.Millisecond)
	assert.True(t, outcome.TimedOut)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, h.Running())
}

func TestKillTreeTerminatesAndIsIdempotent(t *testing.T) {
	h := startHandle(t, "sleep 30", nil)
	pid := h.PID()
	require.Greater(t, pid, 0)

	require.NoError(t, h.KillTree(true))
	outcome := h.WaitExit(5 * time.Second)
	require.False(t, outcome.TimedOut)
	assert.False(t, h.Running())
	assert.Equal(t, 0, h.PID())

	// second kill on an exited process is a no-op
	require.NoError(t, h.KillTree(true))
	require.NoError(t, h.KillTree(false))

	// and the OS process is really gone
	waitGone(t, pid, 2*time.Second)
}

func TestKillTreeReachesChildren(t *testing.T) {
	// parent shell spawns a long sleep; killing the tree must reap both
	h := startHandle(t, `sh -c 'sleep 30 & wait'`, nil)
	require.NoError(t, h.KillTree(true))
	outcome := h.WaitExit(5 * time.Second)
	assert.False(t, outcome.TimedOut)
}

func TestGracefulKillTree(t *testing.T) {
	h := startHandle(t, "sleep 30", nil)
	require.NoError(t, h.KillTree(false))
	outcome := h.WaitExit(5 * time.Second)
	require.False(t, outcome.TimedOut)
	assert.NotNil(t, outcome.Err, "SIGTERM exit is reported as an exit error")
}

func TestExitCodeCaptured(t *testing.T) {
	h := startHandle(t, `sh -c 'exit 3'`, nil)
	outcome := h.WaitExit(5 * time.Second)
	require.False(t, outcome.TimedOut)
	assert.Equal(t, 3, outcome.Code)

	st := h.Snapshot()
	assert.Equal(t, 3, st.ExitCode)
	assert.NotEmpty(t, st.LastError)
	assert.False(t, st.StoppedAt.IsZero())
}

func TestStdinPipe(t *testing.T) {
	h := New(Spec{ID: "cat", Command: "cat", Log: logger.Config{Dir: t.TempDir()}})
	var mu sync.Mutex
	var got []string
	require.NoError(t, h.Start(StartOptions{
		WithStdin: true,
		Sink: func(tag, line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		},
	}))
	w := h.Stdin()
	require.NotNil(t, w)
	_, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	outcome := h.WaitExit(5 * time.Second)
	require.False(t, outcome.TimedOut)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello"}, got)
}

// waitGone polls until the pid is no longer alive or the bound elapses.
func waitGone(t *testing.T, pid int, bound time.Duration) {
	t.Helper()
	deadline := time.Now().Add(bound)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pid %d still alive after %v", pid, bound)
}
