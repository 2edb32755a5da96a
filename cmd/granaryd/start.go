package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/speakeasy-api/granary/internal/lockfile"
	"github.com/speakeasy-api/granary/internal/rpc"
)

func newStartCmd() *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon, detached by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := daemonHome()
			if err != nil {
				return err
			}
			if lockfile.IsDaemonRunning(home) {
				return fmt.Errorf("granaryd is already running")
			}
			if foreground {
				return serve(true)
			}
			return startDetached(home)
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run in this process instead of detaching")
	return cmd
}

// startDetached re-execs this binary as `granaryd run`, detached from the
// current terminal session, and waits for its socket to come up before
// returning.
func startDetached(home string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer func() { _ = devNull.Close() }()

	cmd := exec.Command(exe, "run")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	detachAttrs(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon process: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release daemon process: %w", err)
	}

	socketPath := rpc.SocketPath(home)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not become ready within 5s (check %s/daemon.log)", home)
}
