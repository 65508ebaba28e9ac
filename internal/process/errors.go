package process

import "fmt"

// LaunchError reports that the OS refused to create the process.
// Start attempts failing this way are not retried automatically.
type LaunchError struct {
	ID  string
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %v", e.ID, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// KillError reports that the termination mechanism itself failed.
// Callers treat it as best-effort and proceed to fallbacks.
type KillError struct {
	PID int
	Err error
}

func (e *KillError) Error() string {
	return fmt.Sprintf("kill tree pid %d: %v", e.PID, e.Err)
}

func (e *KillError) Unwrap() error { return e.Err }
