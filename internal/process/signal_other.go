//go:build !unix

package process

import (
	"os/exec"
	"syscall"
)

func newProcAttr() *syscall.SysProcAttr {
	return nil
}

// terminateGroup kills directly; there is no portable graceful signal.
func terminateGroup(cmd *exec.Cmd) {
	killGroup(cmd)
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
