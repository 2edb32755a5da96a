//go:build windows

package main

import "os/exec"

// detachAttrs is a no-op on windows: exec.Cmd's default handle inheritance
// is already enough to outlive the launching console for our purposes.
func detachAttrs(cmd *exec.Cmd) {}
