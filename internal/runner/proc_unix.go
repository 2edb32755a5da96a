//go:build unix

package runner

import (
	"errors"
	"os/exec"
	"syscall"
)

// prepareProcAttrs puts the child in its own process group so a SIGTERM or
// SIGKILL aimed at -pid reaches any descendants it spawned, not just the
// immediate child.
func prepareProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func terminateGroup(pid int) error { return signalGroup(pid, syscall.SIGTERM) }
func killGroup(pid int) error      { return signalGroup(pid, syscall.SIGKILL) }
func pauseGroup(pid int) error     { return signalGroup(pid, syscall.SIGSTOP) }
func resumeGroup(pid int) error    { return signalGroup(pid, syscall.SIGCONT) }
