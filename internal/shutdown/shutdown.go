// Package shutdown drives app-exit teardown: a fixed sequence of
// cleanup steps raced against a hard wall-clock budget, so quitting the
// app never hangs on a stuck external tool.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipforge/toolhost/internal/metrics"
)

// DefaultBudget is the total time allowed for the whole sequence.
// Desktop quit paths cannot tolerate more.
const DefaultBudget = 5 * time.Second

// Coordinator states.
const (
	stateIdle int32 = iota
	stateShuttingDown
	stateCompleted
)

// Step is one isolated unit of teardown. A failing or panicking step
// never prevents later steps from running.
type Step struct {
	Name string
	// Timeout caps this step alone; zero means only the overall budget
	// applies.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// StepResult records one executed step.
type StepResult struct {
	Name    string
	Err     error
	Elapsed time.Duration
}

// Report summarizes a completed shutdown.
type Report struct {
	Elapsed  time.Duration
	Steps    []StepResult
	TimedOut bool
}

// Coordinator runs the teardown sequence exactly once. Concurrent and
// repeated Shutdown calls all observe the same Report.
type Coordinator struct {
	log    *slog.Logger
	budget time.Duration
	steps  []Step

	state  atomic.Int32
	done   chan struct{}
	report Report
}

func New(log *slog.Logger, budget time.Duration, steps ...Step) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Coordinator{
		log:    log,
		budget: budget,
		steps:  steps,
		done:   make(chan struct{}),
	}
}

// Shutdown runs the sequence. The first caller drives it; later callers
// log and block until the first run completes, then receive its Report.
func (c *Coordinator) Shutdown() Report {
	if !c.state.CompareAndSwap(stateIdle, stateShuttingDown) {
		c.log.Warn("shutdown already requested, waiting for the active run")
		<-c.done
		return c.report
	}

	start := time.Now()
	c.log.Info("shutdown started", "budget", c.budget, "steps", len(c.steps))
	ctx, cancel := context.WithTimeout(context.Background(), c.budget)
	defer cancel()

	var mu sync.Mutex
	var results []StepResult
	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		for _, st := range c.steps {
			if ctx.Err() != nil {
				return
			}
			res := c.runStep(ctx, st)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}
	}()

	timedOut := false
	select {
	case <-seqDone:
	case <-ctx.Done():
		timedOut = true
		c.log.Error("shutdown budget exhausted, abandoning remaining steps", "budget", c.budget)
	}

	mu.Lock()
	rep := Report{
		Elapsed:  time.Since(start),
		Steps:    append([]StepResult(nil), results...),
		TimedOut: timedOut,
	}
	mu.Unlock()

	metrics.ObserveShutdownDuration(rep.Elapsed.Seconds())
	for _, sr := range rep.Steps {
		if sr.Err != nil {
			metrics.IncShutdownStepFailure(sr.Name)
		}
	}
	c.log.Info("shutdown finished", "elapsed", rep.Elapsed, "timed_out", rep.TimedOut)

	c.report = rep
	c.state.Store(stateCompleted)
	close(c.done)
	return rep
}

// runStep executes one step in its own goroutine so a hung step can be
// abandoned when its deadline passes. A panic inside the step is
// converted to an error.
func (c *Coordinator) runStep(parent context.Context, st Step) StepResult {
	ctx := parent
	if st.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, st.Timeout)
		defer cancel()
	}

	t0 := time.Now()
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("step panicked: %v", r)
			}
		}()
		errCh <- st.Run(ctx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	res := StepResult{Name: st.Name, Err: err, Elapsed: time.Since(t0)}
	if err != nil {
		c.log.Warn("shutdown step failed", "step", st.Name, "elapsed", res.Elapsed, "error", err)
	} else {
		c.log.Debug("shutdown step done", "step", st.Name, "elapsed", res.Elapsed)
	}
	return res
}
