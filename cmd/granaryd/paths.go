package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// granaryHome returns ~/.granary, the root every per-user Granary artifact
// (config.toml, workers.db, the daemon subdirectory) lives under.
func granaryHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".granary"), nil
}

// daemonHome returns ~/.granary/daemon: the daemon's own directory for its
// socket, auth token, operational log, and per-run child process logs
// (spec.md §6).
func daemonHome() (string, error) {
	home, err := granaryHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "daemon"), nil
}

// workersDBPath returns ~/.granary/workers.db, the global Worker/Run store.
func workersDBPath() (string, error) {
	home, err := granaryHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "workers.db"), nil
}
