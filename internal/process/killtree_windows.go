//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// killTree terminates the process tree via taskkill /T, the primary
// mechanism on Windows since the OS does not track parent/child links
// once a child detaches. If taskkill itself fails to launch or returns
// non-zero, fall back to a direct kill of the top-level process.
func killTree(pid int, force bool) error {
	args := []string{"/T", "/PID", strconv.Itoa(pid)}
	if force {
		args = append([]string{"/F"}, args...)
	}
	// #nosec G204
	kill := exec.Command("taskkill", args...)
	if err := kill.Run(); err == nil {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		// already gone
		return nil
	}
	if err := p.Kill(); err != nil {
		return &KillError{PID: pid, Err: err}
	}
	return nil
}

// Alive reports whether a pid still refers to a live process.
func Alive(pid int) bool {
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}
