//go:build windows

package runner

import (
	"fmt"
	"os"
	"os/exec"
)

// prepareProcAttrs is a no-op on Windows: there is no process-group
// equivalent wired up here, so descendants spawned by a command may outlive
// it if it doesn't clean them up itself.
func prepareProcAttrs(cmd *exec.Cmd) {}

func terminateGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func killGroup(pid int) error { return terminateGroup(pid) }

func pauseGroup(pid int) error  { return fmt.Errorf("pausing a run is not supported on windows") }
func resumeGroup(pid int) error { return fmt.Errorf("resuming a run is not supported on windows") }
