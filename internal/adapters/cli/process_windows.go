//go:build windows

package cli

import (
	"os/exec"
	"time"
)

func configureProcAttr(_ *exec.Cmd) {}

// terminateGroup kills the process. Windows has no process-group signals.
func terminateGroup(cmd *exec.Cmd, _ time.Duration) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
