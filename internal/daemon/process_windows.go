//go:build windows

package daemon

import "os"

// processAlive reports whether pid names a live process. Windows'
// os.FindProcess always succeeds regardless of liveness, so this is a
// coarser check than the unix variant — same tradeoff internal/runner's
// Windows process-group fallback accepts.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
