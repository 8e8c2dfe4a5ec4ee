//go:build unix

// internal/workers/apply/run-automation/procgroup_unix.go
package runautomation

import (
	"os/exec"
	"syscall"
)

// startInOwnGroup makes cancellation kill the whole process tree, not just
// the direct child.
func startInOwnGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
