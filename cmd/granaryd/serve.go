package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/speakeasy-api/granary/internal/config"
	"github.com/speakeasy-api/granary/internal/daemon"
	"github.com/speakeasy-api/granary/internal/daemonlog"
	"github.com/speakeasy-api/granary/internal/lockfile"
	"github.com/speakeasy-api/granary/internal/rpc"
	"github.com/speakeasy-api/granary/internal/runner"
	"github.com/speakeasy-api/granary/internal/storage/sqlite"
)

// serve runs the daemon to completion in the calling goroutine: acquire the
// singleton lock, open the global store, recover prior state, serve RPC
// until signalled, then shut down. It implements spec.md §4.4's startup and
// shutdown sequences end to end.
func serve(foreground bool) error {
	home, err := daemonHome()
	if err != nil {
		return err
	}

	lock, ok, err := lockfile.TryAcquireDaemonLock(home)
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("a granaryd instance is already running (lock held at %s)", home)
	}
	defer func() { _ = lock.Release() }()

	logger, logCloser, err := daemonlog.New(home, daemonlog.DefaultOptions, foreground, slog.LevelInfo)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	token, err := rpc.GenerateToken()
	if err != nil {
		return fmt.Errorf("generate auth token: %w", err)
	}
	if err := rpc.WriteTokenFile(rpc.TokenPath(home), token); err != nil {
		return fmt.Errorf("write auth token: %w", err)
	}

	dbPath, err := workersDBPath()
	if err != nil {
		return err
	}
	global, err := sqlite.OpenGlobal(dbPath)
	if err != nil {
		return fmt.Errorf("open global store %s: %w", dbPath, err)
	}
	defer func() { _ = global.Close() }()

	cfgPath, err := config.Path()
	if err != nil {
		return err
	}
	cfgWatcher, err := config.NewWatcher(cfgPath)
	if err != nil {
		return fmt.Errorf("watch config %s: %w", cfgPath, err)
	}
	defer func() { _ = cfgWatcher.Close() }()

	cfg := cfgWatcher.Current()
	executor := runner.New(global, cfgWatcher, filepath.Join(home, "logs"), logger)
	executor.ShutdownGrace = time.Duration(cfg.Defaults.RunnerGraceSecs) * time.Second

	d := daemon.New(daemon.Options{
		Home:          home,
		ShutdownGrace: time.Duration(cfg.Defaults.ShutdownGraceSecs) * time.Second,
		Logger:        logger,
	}, global, executor, cfgWatcher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("recovering daemon state")
	if err := d.Recover(ctx); err != nil {
		return fmt.Errorf("recover daemon state: %w", err)
	}
	d.RunRetryLoop(ctx, time.Second)

	server := rpc.NewServer(rpc.SocketPath(home), token, d, logger)
	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("rpc server failed to start: %w", err)
	case <-server.WaitReady():
		logger.Info("daemon ready", "socket", rpc.SocketPath(home))
	case <-time.After(5 * time.Second):
		logger.Warn("rpc server not ready after 5s, continuing to wait")
	}

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case <-d.Done():
		logger.Info("shutdown requested over rpc")
	case err := <-serverErrChan:
		logger.Error("rpc server failed", "error", err)
	}

	_ = server.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		logger.Warn("daemon shutdown reported an error", "error", err)
	}
	if err := d.Close(); err != nil {
		logger.Warn("daemon close reported an error", "error", err)
	}
	return nil
}
