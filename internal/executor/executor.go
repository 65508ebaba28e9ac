// Package executor runs external tools as bounded one-shot jobs:
// capture output, enforce a wall-clock deadline, and guarantee the
// whole process tree is gone before the call returns.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clipforge/toolhost/internal/env"
	"github.com/clipforge/toolhost/internal/history"
	"github.com/clipforge/toolhost/internal/logger"
	"github.com/clipforge/toolhost/internal/metrics"
	"github.com/clipforge/toolhost/internal/process"
	"github.com/clipforge/toolhost/internal/registry"
)

// DefaultTimeout bounds a run when Options.Timeout is unset. Long, but
// finite: render and transcode jobs legitimately run for many minutes,
// a job that exceeds this is considered hung.
const DefaultTimeout = 30 * time.Minute

// Options tunes one Run call.
type Options struct {
	// Timeout is the wall-clock budget. Zero means DefaultTimeout.
	Timeout time.Duration
	// JobID tags the registry entry so operators can tell which
	// editing job owns the process.
	JobID string
	// OnStdout / OnStderr receive output lines as they arrive, in
	// addition to the captured Result buffers. May be nil.
	OnStdout func(line string)
	OnStderr func(line string)
	// Stdin, when set, is called with the child's stdin pipe. The pipe
	// is closed after the callback returns. A callback error aborts
	// nothing: the tool decides what a truncated stdin means.
	Stdin func(w io.Writer) error
}

// Result is what a completed (or interrupted) run produced. Stdout and
// Stderr hold whatever was captured before the run ended, including on
// the timeout and cancellation paths.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// TimeoutError reports that a run exceeded its wall-clock budget and
// was tree-killed.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("executor: run exceeded %v timeout", e.Timeout)
}

// Executor runs one-shot tool invocations against a shared registry so
// concurrent jobs cannot collide on an id and shutdown can find them.
type Executor struct {
	log   *slog.Logger
	reg   *registry.Registry
	envM  *env.Env
	mu    sync.Mutex
	sinks []history.Sink
}

func New(log *slog.Logger, reg *registry.Registry) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{log: log, reg: reg, envM: env.New()}
}

// SetHistorySinks configures run event sinks.
func (x *Executor) SetHistorySinks(sinks ...history.Sink) {
	x.mu.Lock()
	x.sinks = append([]history.Sink(nil), sinks...)
	x.mu.Unlock()
}

// Run executes spec to completion or until the first of: exit, timeout,
// ctx cancellation, or external cancellation through the registry
// entry. On every non-exit path the process tree is killed and reaped
// before Run returns; the partial Result is still populated.
//
// A non-zero exit is not an error: check Result.ExitCode. The returned
// error covers launch failures, timeouts (*TimeoutError) and
// cancellation (ctx.Err()).
func (x *Executor) Run(ctx context.Context, spec process.Spec, opts Options) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}
	spec.Normalize()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var (
		bufMu  sync.Mutex
		stdout strings.Builder
		stderr strings.Builder
	)
	sink := func(tag, line string) {
		bufMu.Lock()
		if tag == logger.TagStdout {
			stdout.WriteString(line)
			stdout.WriteByte('\n')
		} else {
			stderr.WriteString(line)
			stderr.WriteByte('\n')
		}
		bufMu.Unlock()
		switch tag {
		case logger.TagStdout:
			if opts.OnStdout != nil {
				opts.OnStdout(line)
			}
		case logger.TagStderr:
			if opts.OnStderr != nil {
				opts.OnStderr(line)
			}
		}
	}
	snapshot := func() Result {
		bufMu.Lock()
		defer bufMu.Unlock()
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}
	}

	h := process.New(spec)
	err := h.Start(process.StartOptions{
		Env:       x.envM.Merge(spec.Env),
		WithStdin: opts.Stdin != nil,
		Sink:      sink,
	})
	if err != nil {
		metrics.IncExecRun("error")
		return Result{}, err
	}

	entry, err := x.reg.Register(h, opts.JobID)
	if err != nil {
		_ = h.KillTree(true)
		h.WaitExit(0)
		metrics.IncExecRun("error")
		return Result{}, fmt.Errorf("executor: %w", err)
	}
	defer x.reg.Unregister(spec.ID)

	if opts.Stdin != nil {
		go func() {
			w := h.Stdin()
			if err := opts.Stdin(w); err != nil {
				x.log.Warn("stdin feed failed", "id", spec.ID, "error", err)
			}
			_ = w.Close()
		}()
	}

	start := time.Now()
	x.log.Info("run started", "id", spec.ID, "pid", h.PID(), "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var runErr error
	outcome := "ok"
	select {
	case <-h.Done():
	case <-timer.C:
		x.log.Warn("run timed out, killing tree", "id", spec.ID, "timeout", timeout)
		x.killAndReap(h, spec.ID)
		outcome = "timeout"
		runErr = &TimeoutError{Timeout: timeout}
	case <-ctx.Done():
		x.log.Info("run canceled by caller", "id", spec.ID)
		x.killAndReap(h, spec.ID)
		outcome = "canceled"
		runErr = ctx.Err()
	case <-entry.Context().Done():
		x.log.Info("run canceled through registry", "id", spec.ID)
		x.killAndReap(h, spec.ID)
		outcome = "canceled"
		runErr = context.Canceled
	}

	elapsed := time.Since(start)
	snap := h.Snapshot()
	res := snapshot()
	res.ExitCode = snap.ExitCode
	if outcome == "ok" && snap.ExitCode != 0 {
		outcome = "error"
	}

	metrics.IncExecRun(outcome)
	metrics.ObserveExecDuration(elapsed.Seconds())
	x.record(history.Event{
		Kind:       history.KindExec,
		OccurredAt: time.Now().UTC(),
		ProcessID:  spec.ID,
		PID:        snap.PID,
		ExitCode:   snap.ExitCode,
		Error:      errString(runErr),
	})
	x.log.Info("run finished",
		"id", spec.ID, "outcome", outcome, "exit_code", snap.ExitCode, "elapsed", elapsed)
	return res, runErr
}

// killAndReap force-kills the tree and waits for the exit state to be
// recorded so the caller never races a still-dying child.
func (x *Executor) killAndReap(h *process.Handle, id string) {
	if err := h.KillTree(true); err != nil {
		x.log.Error("kill tree failed", "id", id, "error", err)
	}
	h.WaitExit(0)
}

func (x *Executor) record(ev history.Event) {
	x.mu.Lock()
	sinks := append([]history.Sink(nil), x.sinks...)
	x.mu.Unlock()
	for _, sink := range sinks {
		if err := sink.Send(context.Background(), ev); err != nil {
			x.log.Warn("history sink send failed", "kind", ev.Kind, "id", ev.ProcessID, "error", err)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
