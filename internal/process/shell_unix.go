//go:build !windows

package process

import "os/exec"

// shellCommand wraps a command line in the POSIX shell.
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}
