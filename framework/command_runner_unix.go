//go:build unix

package framework

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the command in its own process group so a
// timeout kills children spawned by interpreters like npm or python as well.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
