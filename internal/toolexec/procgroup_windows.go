//go:build windows

package toolexec

import "os/exec"

// configureProcessGroup is a no-op on Windows; CommandContext kills the
// direct child only.
func configureProcessGroup(cmd *exec.Cmd) {}
