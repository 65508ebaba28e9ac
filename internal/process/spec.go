package process

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/clipforge/toolhost/internal/logger"
)

// Default policy values applied when a Spec leaves them zero.
const (
	DefaultStopGrace      = 5 * time.Second
	DefaultRestartBackoff = 5 * time.Second
	DefaultHealthTimeout  = 30 * time.Second
)

// Spec describes one external tool process to launch.
// Everything except Env mutations is immutable after start.
type Spec struct {
	ID             string            `json:"id"`
	Command        string            `json:"command"`         // command line, tokenized with shell-style quoting
	WorkDir        string            `json:"work_dir"`        // optional working dir
	Env            map[string]string `json:"env"`             // overrides merged into the inherited environment
	HealthURL      string            `json:"health_url"`      // optional readiness endpoint; empty disables polling
	HealthTimeout  time.Duration     `json:"health_timeout"`  // total readiness window (default 30s)
	AutoRestart    bool              `json:"auto_restart"`    // relaunch after unexpected exit
	RestartBackoff time.Duration     `json:"restart_backoff"` // delay before relaunch (default 5s)
	StopGrace      time.Duration     `json:"stop_grace"`      // graceful stop window (default 5s)
	Log            logger.Config     `json:"log"`             // captured output destination
}

// Validate checks the fields a start request must carry.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("spec: id required")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("spec: command required for %q", s.ID)
	}
	return nil
}

// Normalize fills zero policy fields with defaults.
func (s *Spec) Normalize() {
	if s.StopGrace <= 0 {
		s.StopGrace = DefaultStopGrace
	}
	if s.RestartBackoff <= 0 {
		s.RestartBackoff = DefaultRestartBackoff
	}
	if s.HealthTimeout <= 0 {
		s.HealthTimeout = DefaultHealthTimeout
	}
}

// BuildCommand constructs an *exec.Cmd for the spec's command line.
// Plain command lines are tokenized with shell-style quoting rules so
// arguments like -metadata title="My Clip" survive intact. Command
// lines using shell metacharacters (pipes, redirection) are handed to
// the platform shell.
func (s *Spec) BuildCommand() (*exec.Cmd, error) {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return nil, fmt.Errorf("spec: empty command for %q", s.ID)
	}
	if strings.ContainsAny(cmdStr, "|&;<>`$") {
		return shellCommand(cmdStr), nil
	}
	parts, err := shlex.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("spec: parse command for %q: %w", s.ID, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("spec: empty command for %q", s.ID)
	}
	// #nosec G204 -- launching caller-specified tools is this package's purpose
	return exec.Command(parts[0], parts[1:]...), nil
}
