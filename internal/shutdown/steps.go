package shutdown

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clipforge/toolhost/internal/registry"
	"github.com/clipforge/toolhost/internal/supervisor"
)

// Hooks wires the standard teardown sequence to the live subsystems.
// Any field may be left zero; the corresponding step becomes a no-op.
type Hooks struct {
	Supervisor *supervisor.Supervisor
	Registry   *registry.Registry
	// PrimaryID is the long-lived tool the app depends on (the preview
	// renderer); it gets its own graceful stop before the sweep.
	PrimaryID string
	// ControlURL, when set, receives a POST asking the embedded API
	// server to stop accepting work.
	ControlURL string
	// StopGrace bounds the primary's graceful stop. It is clamped so the
	// forceful escalation still fits inside the step's sub-deadline;
	// zero means "as much as the sub-deadline allows".
	StopGrace time.Duration
	// Budget is the coordinator's overall budget, used to size the
	// per-step sub-deadlines. Zero means DefaultBudget. Keep it equal to
	// the budget handed to New.
	Budget time.Duration
	// Closers are released last: log files, history sinks, listeners.
	Closers []io.Closer
}

// DefaultSteps builds the standard five-step teardown order:
// stop health polling, quiesce the API, stop the primary tool, sweep
// every tracked process, release resources.
//
// The two kill steps each get their own sub-deadline (2/5 of the budget
// apiece), so a primary that ignores its termination signal can never
// consume the whole budget and starve the tracked sweep.
func DefaultSteps(h Hooks) []Step {
	budget := h.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	killTimeout := budget * 2 / 5
	return []Step{
		{
			Name: "stop-health-polling",
			Run: func(context.Context) error {
				if h.Supervisor != nil {
					h.Supervisor.StopHealthPolling()
				}
				return nil
			},
		},
		{
			Name:    "graceful-api-stop",
			Timeout: time.Second,
			Run: func(ctx context.Context) error {
				if h.ControlURL == "" {
					return nil
				}
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.ControlURL, strings.NewReader(""))
				if err != nil {
					return err
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return err
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				if resp.StatusCode >= 300 {
					return fmt.Errorf("api stop returned %s", resp.Status)
				}
				return nil
			},
		},
		{
			Name:    "stop-primary",
			Timeout: killTimeout,
			Run: func(ctx context.Context) error {
				if h.Supervisor == nil || h.PrimaryID == "" {
					return nil
				}
				if !h.Supervisor.Status(h.PrimaryID).Running {
					return nil
				}
				return h.Supervisor.Stop(h.PrimaryID, clampGrace(ctx, h.StopGrace))
			},
		},
		{
			Name:    "kill-tracked",
			Timeout: killTimeout,
			Run: func(ctx context.Context) error {
				if h.Registry == nil {
					return nil
				}
				return killTracked(ctx, h.Registry)
			},
		},
		{
			Name: "release-resources",
			Run: func(context.Context) error {
				for _, c := range h.Closers {
					if c != nil {
						_ = c.Close()
					}
				}
				return nil
			},
		},
	}
}

// clampGrace bounds the graceful wait handed to Supervisor.Stop so the
// forceful escalation and reap still fit before the step's deadline.
// Zero grace must not fall through to the spec's own grace here: a spec
// default can exceed the entire shutdown budget.
func clampGrace(ctx context.Context, grace time.Duration) time.Duration {
	const reserve = 300 * time.Millisecond
	const floor = 50 * time.Millisecond
	d, ok := ctx.Deadline()
	if !ok {
		if grace > 0 {
			return grace
		}
		return time.Second
	}
	limit := time.Until(d) - reserve
	if limit < floor {
		limit = floor
	}
	if grace <= 0 || grace > limit {
		return limit
	}
	return grace
}

// killTracked sweeps every registered process: cancel its context,
// signal the tree gracefully, then wait. When the step deadline hits,
// everything still alive is force-killed without further waiting.
func killTracked(ctx context.Context, reg *registry.Registry) error {
	entries := reg.List()
	for _, e := range entries {
		e.Cancel()
		if e.Handle.Running() {
			_ = e.Handle.KillTree(false)
		}
	}

	var escalated bool
wait:
	for _, e := range entries {
		select {
		case <-e.Handle.Done():
		case <-ctx.Done():
			escalated = true
			for _, r := range entries {
				if r.Handle.Running() {
					_ = r.Handle.KillTree(true)
				}
			}
			break wait
		}
	}

	for _, e := range entries {
		reg.Unregister(e.ID)
	}
	if escalated {
		return fmt.Errorf("grace elapsed, force-killed remaining processes: %w", ctx.Err())
	}
	return nil
}
