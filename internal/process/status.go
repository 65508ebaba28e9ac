package process

import "time"

// Health is the tri-state outcome of the most recent readiness probe.
type Health string

const (
	HealthUnknown Health = "unknown"
	HealthPassed  Health = "passed"
	HealthFailed  Health = "failed"
)

// Status is a point-in-time view of one managed process. The zero value
// is the well-defined "not running" shape returned for unknown ids.
type Status struct {
	ID        string    `json:"id"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	ExitCode  int       `json:"exit_code"`
	LastError string    `json:"last_error,omitempty"`
	Health    Health    `json:"health"`
	Restarts  int       `json:"restarts"`
}
