//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// Windows creation flags
const createNewProcessGroup = 0x00000200

// configureSysProcAttr starts the child in a new process group so
// console control events do not propagate back to the daemon.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}
