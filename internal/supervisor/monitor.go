package supervisor

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"github.com/clipforge/toolhost/internal/health"
	"github.com/clipforge/toolhost/internal/history"
	"github.com/clipforge/toolhost/internal/metrics"
	"github.com/clipforge/toolhost/internal/process"
)

// monitor watches one process generation until it exits or the monitor
// is canceled by an intentional stop. On an unexpected exit it either
// restarts the process after a backoff or retires the entry.
func (s *Supervisor) monitor(ctx context.Context, e *procEntry) {
	h := e.handle
	id := e.spec.ID

	select {
	case <-ctx.Done():
		// Stop owns teardown from here.
		return
	case <-h.Done():
	}

	snap := h.Snapshot()
	s.log.Warn("process exited unexpectedly",
		"id", id, "pid", snap.PID, "exit_code", snap.ExitCode, "error", snap.LastError)

	s.mu.Lock()
	suppressed := e.stopRequested
	e.state = stateCrashed
	e.handle = nil
	e.lastError = snap.LastError
	restartable := e.spec.AutoRestart && !suppressed
	s.mu.Unlock()

	// The dead generation no longer owns the id; a concurrent Stop still
	// finds the entry and suppresses the restart via stopRequested.
	s.reg.Unregister(id)
	s.record(history.Event{
		Kind: history.KindStop, OccurredAt: time.Now().UTC(),
		ProcessID: id, PID: snap.PID, ExitCode: snap.ExitCode, Error: snap.LastError,
	})

	if !restartable {
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
		return
	}

	b := &backoff.Backoff{
		Min:    e.spec.RestartBackoff,
		Max:    e.spec.RestartBackoff * 8,
		Factor: 2,
		Jitter: false,
	}
	for {
		delay := b.Duration()
		s.log.Info("scheduling restart", "id", id, "delay", delay, "attempt", int(b.Attempt()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		if e.stopRequested {
			s.mu.Unlock()
			return
		}
		e.state = stateStarting
		s.mu.Unlock()

		err := s.launch(e)
		if err == nil {
			s.mu.Lock()
			e.restarts++
			s.mu.Unlock()
			metrics.IncRestart(id)
			s.record(history.Event{
				Kind: history.KindRestart, OccurredAt: time.Now().UTC(), ProcessID: id,
			})
			// launch started a fresh monitor for the new generation
			return
		}
		s.log.Error("restart failed", "id", id, "error", err)
		s.mu.Lock()
		e.state = stateCrashed
		e.lastError = err.Error()
		s.mu.Unlock()
	}
}

// pollHealth runs the readiness loop for one process generation. It
// stops with the monitor context, with supervisor-wide health shutdown,
// or when the process exits. Probe failures are recorded but never
// terminate the process.
func (s *Supervisor) pollHealth(ctx context.Context, e *procEntry, h *process.Handle) {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopHook := context.AfterFunc(s.healthCtx, cancel)
	defer stopHook()
	go func() {
		select {
		case <-h.Done():
			cancel()
		case <-pctx.Done():
		}
	}()

	spec := e.spec
	res := health.Poll(pctx, spec.HealthURL, spec.HealthTimeout, func(ok bool) {
		metrics.IncHealthProbe(spec.ID, ok)
		if !ok {
			s.log.Warn("health probe failed", "id", spec.ID, "url", spec.HealthURL)
		}
	})
	if res == process.HealthUnknown {
		return
	}

	s.mu.Lock()
	e.healthResult = res
	s.mu.Unlock()
	if res == process.HealthPassed {
		s.log.Info("process healthy", "id", spec.ID)
	} else {
		s.log.Warn("process failed readiness window",
			"id", spec.ID, "window", spec.HealthTimeout)
	}
}
