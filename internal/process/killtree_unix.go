//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// killTree signals the process group created at launch. A vanished
// group (ESRCH) is success: the tree is already gone. If group
// signaling fails for another reason, fall back to the top-level pid.
func killTree(pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(-pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err2 := syscall.Kill(pid, sig); err2 != nil && !errors.Is(err2, syscall.ESRCH) {
		return &KillError{PID: pid, Err: err2}
	}
	return nil
}

// Alive reports whether a pid still refers to a live process.
func Alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
