//go:build !windows

package toolexec

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the tool in its own process group so a
// timeout kills FFmpeg/ImageMagick helpers as well as the parent.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID targets the group; fall back to the process itself.
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
}
