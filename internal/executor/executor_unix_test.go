//go:build !windows

package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/toolhost/internal/process"
	"github.com/clipforge/toolhost/internal/registry"
)

func newTestExecutor() (*Executor, *registry.Registry) {
	reg := registry.New()
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), reg), reg
}

func TestRunCapturesOutput(t *testing.T) {
	x, _ := newTestExecutor()
	res, err := x.Run(context.Background(), process.Spec{
		ID:      "echo-job",
		Command: "echo hello; echo oops >&2",
	}, Options{Timeout: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestRunNonZeroExitIsNotError(t *testing.T) {
	x, _ := newTestExecutor()
	res, err := x.Run(context.Background(), process.Spec{
		ID:      "fail-job",
		Command: "echo partial; exit 3",
	}, Options{Timeout: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "partial\n", res.Stdout)
}

func TestRunLaunchFailure(t *testing.T) {
	x, reg := newTestExecutor()
	_, err := x.Run(context.Background(), process.Spec{
		ID:      "ghost",
		Command: "/no/such/binary",
	}, Options{})
	require.Error(t, err)
	var le *process.LaunchError
	assert.True(t, errors.As(err, &le))
	assert.Equal(t, 0, reg.Len())
}

func TestRunTimeoutKillsTree(t *testing.T) {
	x, reg := newTestExecutor()
	begin := time.Now()
	res, err := x.Run(context.Background(), process.Spec{
		ID:      "hang-job",
		Command: "echo before; sleep 30",
	}, Options{Timeout: 500 * time.Millisecond})
	require.Error(t, err)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 500*time.Millisecond, te.Timeout)
	assert.Less(t, time.Since(begin), 10*time.Second)
	assert.Equal(t, "before\n", res.Stdout, "partial output survives the timeout")
	assert.Equal(t, 0, reg.Len())
}

func TestRunContextCancel(t *testing.T) {
	x, reg := newTestExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	_, err := x.Run(ctx, process.Spec{
		ID:      "cancel-job",
		Command: "sleep 30",
	}, Options{Timeout: time.Minute})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, reg.Len())
}

func TestRunRegistryCancel(t *testing.T) {
	x, reg := newTestExecutor()
	errCh := make(chan error, 1)
	go func() {
		_, err := x.Run(context.Background(), process.Spec{
			ID:      "reg-cancel",
			Command: "sleep 30",
		}, Options{Timeout: time.Minute})
		errCh <- err
	}()

	var entry *registry.Entry
	deadline := time.Now().Add(3 * time.Second)
	for entry == nil && time.Now().Before(deadline) {
		entry, _ = reg.Get("reg-cancel")
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, entry)
	entry.Cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after registry cancel")
	}
	assert.Equal(t, 0, reg.Len())
}

func TestRunDuplicateIDRejected(t *testing.T) {
	x, reg := newTestExecutor()
	go func() {
		_, _ = x.Run(context.Background(), process.Spec{
			ID:      "shared",
			Command: "sleep 5",
		}, Options{Timeout: time.Minute})
	}()
	var entry *registry.Entry
	deadline := time.Now().Add(3 * time.Second)
	for entry == nil && time.Now().Before(deadline) {
		entry, _ = reg.Get("shared")
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, entry)

	_, err := x.Run(context.Background(), process.Spec{
		ID:      "shared",
		Command: "echo hi",
	}, Options{Timeout: time.Minute})
	require.Error(t, err)

	entry.Cancel()
}

func TestRunStdinFeed(t *testing.T) {
	x, _ := newTestExecutor()
	res, err := x.Run(context.Background(), process.Spec{
		ID:      "stdin-job",
		Command: "cat",
	}, Options{
		Timeout: 10 * time.Second,
		Stdin: func(w io.Writer) error {
			_, err := io.WriteString(w, "line one\nline two\n")
			return err
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", res.Stdout)
}

func TestRunStreamingCallbacks(t *testing.T) {
	x, _ := newTestExecutor()
	var mu sync.Mutex
	var outLines, errLines []string
	_, err := x.Run(context.Background(), process.Spec{
		ID:      "stream-job",
		Command: "echo a; echo b; echo warn >&2",
	}, Options{
		Timeout: 10 * time.Second,
		OnStdout: func(line string) {
			mu.Lock()
			outLines = append(outLines, line)
			mu.Unlock()
		},
		OnStderr: func(line string) {
			mu.Lock()
			errLines = append(errLines, line)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, outLines)
	assert.Equal(t, []string{"warn"}, errLines)
}

func TestRunDefaultTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Minute, DefaultTimeout)

	x, _ := newTestExecutor()
	res, err := x.Run(context.Background(), process.Spec{
		ID:      "quick",
		Command: "echo " + strings.Repeat("x", 10),
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 10)+"\n", res.Stdout)
}
