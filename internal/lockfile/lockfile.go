// Package lockfile wraps gofrs/flock for the advisory file locks Granary
// uses to serialize daemon startup, plus generic exclusive-lock helpers
// for read-modify-write access to a shared file (spec.md §6, "Storage
// layout").
package lockfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// DaemonLock is a process-lifetime advisory lock held by the daemon that
// owns a given daemon home directory. Only one daemon per daemon home may
// hold it at a time.
type DaemonLock struct {
	fl   *flock.Flock
	path string
}

// TryAcquireDaemonLock attempts to take the daemon lock for home without
// blocking. ok is false if another process already holds it.
func TryAcquireDaemonLock(home string) (lock *DaemonLock, ok bool, err error) {
	if err := os.MkdirAll(home, 0o750); err != nil {
		return nil, false, fmt.Errorf("create daemon home: %w", err)
	}
	path := filepath.Join(home, "daemon.lock")
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("try daemon lock: %w", err)
	}
	if !locked {
		return nil, false, nil
	}
	return &DaemonLock{fl: fl, path: path}, true, nil
}

// IsDaemonRunning reports whether some process currently holds the daemon
// lock for home, without itself acquiring it.
func IsDaemonRunning(home string) bool {
	fl := flock.New(filepath.Join(home, "daemon.lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return false
	}
	if locked {
		_ = fl.Unlock()
		return false
	}
	return true
}

// Release unlocks and closes the daemon lock.
func (l *DaemonLock) Release() error {
	return l.fl.Unlock()
}

// WithExclusive runs fn while holding an exclusive, blocking lock on the
// file at path, for read-modify-write access to a file shared across
// processes on the host.
func WithExclusive(path string, fn func() error) error {
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock %s: %w", path, err)
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

// WithExclusiveTimeout is WithExclusive bounded by timeout, polling at the
// given interval. Returns an error if the lock isn't acquired in time.
func WithExclusiveTimeout(path string, timeout, retryEvery time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, retryEvery)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("timed out acquiring lock %s", path)
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}
