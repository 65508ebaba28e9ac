// Package history exports process lifecycle events to external systems
// (statistics, debugging of flaky external tools). Export failures are
// logged by callers and never affect supervision.
package history

import (
	"context"
	"time"
)

// Kind classifies a lifecycle event.
type Kind string

const (
	KindStart   Kind = "start"
	KindStop    Kind = "stop"
	KindRestart Kind = "restart"
	KindExec    Kind = "exec"
)

// Event is one exported lifecycle record.
type Event struct {
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	ProcessID  string    `json:"process_id"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
