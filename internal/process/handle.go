package process

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/clipforge/toolhost/internal/logger"
	"github.com/clipforge/toolhost/internal/metrics"
)

// LineSink receives each completed output line exactly once, in the
// order the OS pipe produced it. tag is logger.TagStdout or
// logger.TagStderr; no ordering holds across the two streams.
type LineSink func(tag, line string)

const maxLineBytes = 1 << 20

// StartOptions tune a single launch.
type StartOptions struct {
	Env       []string // fully merged environment; nil inherits the parent's
	WithStdin bool     // open a stdin pipe, retrievable via Stdin()
	Sink      LineSink // optional per-line callback
}

// ExitOutcome is the result of waiting for process exit.
type ExitOutcome struct {
	TimedOut bool
	Code     int
	Err      error
}

// Handle owns one OS process: launch, captured output, exit detection,
// and the tree-kill primitive. All exported methods are safe for
// concurrent use.
type Handle struct {
	spec Spec

	mu        sync.Mutex
	pid       int
	startedAt time.Time
	stoppedAt time.Time
	exitCode  int
	exitErr   error
	started   bool
	exited    bool
	stdin     io.WriteCloser
	logFile   *logger.File

	waitDone chan struct{}
}

func New(spec Spec) *Handle {
	spec.Normalize()
	return &Handle{spec: spec}
}

func (h *Handle) Spec() Spec { return h.spec }

// Start launches the process and begins asynchronous line capture on
// both output streams. A LaunchError means the OS refused to create the
// process; nothing is retried here.
func (h *Handle) Start(opts StartOptions) error {
	cmd, err := h.spec.BuildCommand()
	if err != nil {
		return &LaunchError{ID: h.spec.ID, Err: err}
	}
	if h.spec.WorkDir != "" {
		cmd.Dir = h.spec.WorkDir
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	configureSysProcAttr(cmd)

	logFile, err := h.spec.Log.Open(h.spec.ID)
	if err != nil {
		return &LaunchError{ID: h.spec.ID, Err: err}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = logFile.Close()
		return &LaunchError{ID: h.spec.ID, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = logFile.Close()
		return &LaunchError{ID: h.spec.ID, Err: err}
	}
	var stdin io.WriteCloser
	if opts.WithStdin {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			_ = logFile.Close()
			return &LaunchError{ID: h.spec.ID, Err: err}
		}
	}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return &LaunchError{ID: h.spec.ID, Err: err}
	}

	h.mu.Lock()
	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	h.started = true
	h.exited = false
	h.exitErr = nil
	h.exitCode = 0
	h.stdin = stdin
	h.logFile = logFile
	h.waitDone = make(chan struct{})
	done := h.waitDone
	h.mu.Unlock()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go h.pump(stdout, logger.TagStdout, opts.Sink, &pumps)
	go h.pump(stderr, logger.TagStderr, opts.Sink, &pumps)

	// Single waiter owns cmd.Wait. Stop/kill paths only ever wait on
	// the done channel, never on the command itself.
	go func() {
		pumps.Wait()
		err := cmd.Wait()

		h.mu.Lock()
		h.exited = true
		h.stoppedAt = time.Now()
		h.exitErr = err
		if cmd.ProcessState != nil {
			h.exitCode = cmd.ProcessState.ExitCode()
		}
		lf := h.logFile
		h.logFile = nil
		h.mu.Unlock()

		_ = lf.Close()
		close(done)
	}()

	return nil
}

func (h *Handle) pump(r io.Reader, tag string, sink LineSink, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		h.mu.Lock()
		lf := h.logFile
		h.mu.Unlock()
		lf.WriteLine(tag, line)
		if sink != nil {
			sink(tag, line)
		}
	}
}

// Stdin returns the stdin pipe opened by StartOptions.WithStdin, or nil.
func (h *Handle) Stdin() io.WriteCloser {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stdin
}

// Running reports whether the process has started and exit has not yet
// been observed. Non-blocking.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started && !h.exited
}

// PID returns the OS process id, or 0 when the process is not running.
// The value is only trusted while the waiter has not observed exit.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started || h.exited {
		return 0
	}
	return h.pid
}

// Done returns a channel closed when exit has been observed and state
// recorded. Nil before the first Start.
func (h *Handle) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitDone
}

// WaitExit suspends the caller until the process exits or the timeout
// elapses. timeout <= 0 waits indefinitely.
func (h *Handle) WaitExit(timeout time.Duration) ExitOutcome {
	done := h.Done()
	if done == nil {
		return ExitOutcome{}
	}
	if timeout <= 0 {
		<-done
	} else {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			return ExitOutcome{TimedOut: true}
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return ExitOutcome{Code: h.exitCode, Err: h.exitErr}
}

// KillTree terminates the process and all its descendants. force
// selects the forceful mechanism (SIGKILL / taskkill /F); otherwise the
// graceful one (SIGTERM / taskkill). Calling it on an already-exited
// process is a no-op.
func (h *Handle) KillTree(force bool) error {
	h.mu.Lock()
	if !h.started || h.exited {
		h.mu.Unlock()
		return nil
	}
	pid := h.pid
	h.mu.Unlock()

	if force {
		metrics.IncTreeKill(h.spec.ID)
	}
	return killTree(pid, force)
}

// Snapshot returns the current externally visible state.
func (h *Handle) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Status{
		ID:        h.spec.ID,
		Running:   h.started && !h.exited,
		StartedAt: h.startedAt,
		StoppedAt: h.stoppedAt,
		ExitCode:  h.exitCode,
		Health:    HealthUnknown,
	}
	if st.Running {
		st.PID = h.pid
	}
	if h.exitErr != nil {
		st.LastError = h.exitErr.Error()
	}
	return st
}
