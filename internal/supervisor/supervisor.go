// Package supervisor owns the lifecycle of long-running external tools:
// start, readiness polling, crash-restart, and graceful-then-forceful
// stop, one state machine per logical process id.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clipforge/toolhost/internal/env"
	"github.com/clipforge/toolhost/internal/health"
	"github.com/clipforge/toolhost/internal/history"
	"github.com/clipforge/toolhost/internal/metrics"
	"github.com/clipforge/toolhost/internal/process"
	"github.com/clipforge/toolhost/internal/registry"
)

// Entry states, for logs and diagnostics.
const (
	stateStarting = "starting"
	stateRunning  = "running"
	stateStopping = "stopping"
	stateCrashed  = "crashed"
)

type procEntry struct {
	spec          process.Spec
	handle        *process.Handle
	monitorCancel context.CancelFunc
	state         string
	healthResult  process.Health
	lastError     string
	restarts      int
	stopRequested bool
}

// Supervisor manages named long-running processes. All methods are safe
// for concurrent use.
type Supervisor struct {
	log  *slog.Logger
	reg  *registry.Registry
	envM *env.Env

	mu      sync.Mutex
	entries map[string]*procEntry
	sinks   []history.Sink

	healthCtx    context.Context
	healthCancel context.CancelFunc
}

func New(log *slog.Logger, reg *registry.Registry) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	hctx, hcancel := context.WithCancel(context.Background())
	return &Supervisor{
		log:          log,
		reg:          reg,
		envM:         env.New(),
		entries:      make(map[string]*procEntry),
		healthCtx:    hctx,
		healthCancel: hcancel,
	}
}

// SetGlobalEnv installs configuration-level environment overrides
// applied beneath each spec's own Env.
func (s *Supervisor) SetGlobalEnv(vars env.Var) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range vars {
		s.envM.Set(k, v)
	}
}

// SetHistorySinks configures lifecycle event sinks. Passing none clears
// the list.
func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

// Registry returns the shared process registry.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// Start launches a supervised process. A duplicate id is not an error:
// it returns (false, nil) and leaves the existing entry untouched.
// (false, err) means the launch itself failed.
func (s *Supervisor) Start(spec process.Spec) (bool, error) {
	if err := spec.Validate(); err != nil {
		return false, err
	}
	spec.Normalize()

	s.mu.Lock()
	if _, ok := s.entries[spec.ID]; ok {
		s.mu.Unlock()
		s.log.Warn("start rejected: id already supervised", "id", spec.ID)
		return false, nil
	}
	e := &procEntry{spec: spec, state: stateStarting, healthResult: process.HealthUnknown}
	s.entries[spec.ID] = e
	s.mu.Unlock()

	if err := s.launch(e); err != nil {
		s.mu.Lock()
		delete(s.entries, spec.ID)
		s.mu.Unlock()
		s.log.Error("start failed", "id", spec.ID, "error", err)
		return false, err
	}
	return true, nil
}

// launch starts the OS process for e and attaches monitoring. Callers
// must have installed e in the entries map.
func (s *Supervisor) launch(e *procEntry) error {
	spec := e.spec
	h := process.New(spec)
	mergedEnv := s.envM.Merge(spec.Env)
	if err := h.Start(process.StartOptions{Env: mergedEnv}); err != nil {
		return err
	}
	if _, err := s.reg.Register(h, ""); err != nil {
		// id collided with an untracked owner (e.g. an executor run);
		// do not leave the orphan running
		_ = h.KillTree(true)
		h.WaitExit(0)
		return fmt.Errorf("supervisor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if e.stopRequested {
		s.mu.Unlock()
		cancel()
		_ = h.KillTree(true)
		h.WaitExit(0)
		s.reg.Unregister(spec.ID)
		return fmt.Errorf("supervisor: %q stopped during launch", spec.ID)
	}
	e.handle = h
	e.monitorCancel = cancel
	e.state = stateRunning
	s.mu.Unlock()

	s.log.Info("process started", "id", spec.ID, "pid", h.PID())
	metrics.IncStart(spec.ID)
	s.record(history.Event{
		Kind: history.KindStart, OccurredAt: time.Now().UTC(),
		ProcessID: spec.ID, PID: h.PID(),
	})

	go s.monitor(ctx, e)
	if spec.HealthURL != "" {
		go s.pollHealth(ctx, e, h)
	}
	return nil
}

// Stop terminates a supervised process: monitor canceled first so a
// crash-restart cannot race the intentional stop, then graceful signal,
// grace wait, forceful tree kill. The entry is always removed, even
// when the kill path reports errors.
func (s *Supervisor) Stop(id string, grace time.Duration) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: unknown process %q", id)
	}
	e.stopRequested = true
	e.state = stateStopping
	cancel := e.monitorCancel
	h := e.handle
	if grace <= 0 {
		grace = e.spec.StopGrace
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h != nil && h.Running() {
		if err := h.KillTree(false); err != nil {
			s.log.Warn("graceful kill failed", "id", id, "error", err)
		}
		if out := h.WaitExit(grace); out.TimedOut {
			s.log.Warn("grace period elapsed, escalating", "id", id, "grace", grace)
			if err := h.KillTree(true); err != nil {
				s.log.Error("force kill failed", "id", id, "error", err)
			}
			h.WaitExit(0)
		}
	}

	s.remove(id)
	s.log.Info("process stopped", "id", id)
	metrics.IncStop(id)
	ev := history.Event{Kind: history.KindStop, OccurredAt: time.Now().UTC(), ProcessID: id}
	if h != nil {
		snap := h.Snapshot()
		ev.ExitCode = snap.ExitCode
		ev.Error = snap.LastError
	}
	s.record(ev)
	return nil
}

// StopAll stops every supervised process with the same grace period.
func (s *Supervisor) StopAll(grace time.Duration) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.Stop(id, grace); err != nil {
			s.log.Warn("stop failed during stop-all", "id", id, "error", err)
		}
	}
}

// Status returns the externally visible state for id. Unknown ids get
// the zero "not running" status, never an error.
func (s *Supervisor) Status(id string) process.Status {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return process.Status{ID: id, Health: process.HealthUnknown}
	}
	h := e.handle
	healthRes := e.healthResult
	lastErr := e.lastError
	restarts := e.restarts
	s.mu.Unlock()

	st := process.Status{ID: id, Health: process.HealthUnknown}
	if h != nil {
		st = h.Snapshot()
	}
	st.Health = healthRes
	st.Restarts = restarts
	if lastErr != "" {
		st.LastError = lastErr
	}
	return st
}

// StatusAll snapshots every supervised entry.
func (s *Supervisor) StatusAll() []process.Status {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	out := make([]process.Status, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Status(id))
	}
	return out
}

// Spec returns the launch spec for a supervised id.
func (s *Supervisor) Spec(id string) (process.Spec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return process.Spec{}, false
	}
	return e.spec, true
}

// CheckHealthOnce runs a single bounded probe independent of the
// polling loop. Network errors and timeouts yield false, never an
// error. The result is recorded on the entry when one exists.
func (s *Supervisor) CheckHealthOnce(ctx context.Context, id, url string, timeout time.Duration) bool {
	ok := health.CheckOnce(ctx, url, timeout)
	metrics.IncHealthProbe(id, ok)
	s.mu.Lock()
	if e, found := s.entries[id]; found {
		if ok {
			e.healthResult = process.HealthPassed
		} else {
			e.healthResult = process.HealthFailed
		}
	}
	s.mu.Unlock()
	return ok
}

// StopHealthPolling halts all readiness polling, current and future.
// Used as the first shutdown step; it is cheap and irreversible.
func (s *Supervisor) StopHealthPolling() {
	s.healthCancel()
}

// remove drops the entry and its registry registration. Idempotent.
func (s *Supervisor) remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	s.reg.Unregister(id)
}

func (s *Supervisor) record(ev history.Event) {
	s.mu.Lock()
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		if err := sink.Send(context.Background(), ev); err != nil {
			s.log.Warn("history sink send failed", "kind", ev.Kind, "id", ev.ProcessID, "error", err)
		}
	}
}
