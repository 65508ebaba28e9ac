package client

import "time"

// ProcessSpec describes a tool to launch. It mirrors the daemon's
// start body so users of the public client never import internals.
type ProcessSpec struct {
	ID             string            `json:"id"`
	Command        string            `json:"command"`
	WorkDir        string            `json:"work_dir,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	HealthURL      string            `json:"health_url,omitempty"`
	HealthTimeout  time.Duration     `json:"health_timeout,omitempty"`
	AutoRestart    bool              `json:"auto_restart,omitempty"`
	RestartBackoff time.Duration     `json:"restart_backoff,omitempty"`
	StopGrace      time.Duration     `json:"stop_grace,omitempty"`
}

// ProcessStatus is the daemon's view of one managed tool.
type ProcessStatus struct {
	ID        string    `json:"id"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	ExitCode  int       `json:"exit_code"`
	LastError string    `json:"last_error,omitempty"`
	Health    string    `json:"health"`
	Restarts  int       `json:"restarts"`
}

// RunRequest describes a synchronous one-shot run.
type RunRequest struct {
	Spec    ProcessSpec   `json:"spec"`
	Timeout time.Duration `json:"timeout,omitempty"`
	JobID   string        `json:"job_id,omitempty"`
	Stdin   string        `json:"stdin,omitempty"`
}

// RunResult is what the one-shot run produced.
type RunResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// LogLines is the response of the log tail endpoint.
type LogLines struct {
	ID    string   `json:"id"`
	Lines []string `json:"lines"`
}

// ErrorResponse is the daemon's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
