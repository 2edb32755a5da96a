//go:build unix

package main

import (
	"os/exec"
	"syscall"
)

// detachAttrs puts a re-exec'd daemon process in its own session so it
// survives the launching shell exiting, the same detachment
// cmd/bd/daemon_autostart.go's configureDaemonProcess gives the background
// daemon on unix.
func detachAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
