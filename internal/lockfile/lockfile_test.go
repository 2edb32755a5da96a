package lockfile

import (
	"path/filepath"
	"testing"
)

func TestTryAcquireDaemonLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()

	lock, ok, err := TryAcquireDaemonLock(dir)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, ok=%v err=%v", ok, err)
	}
	defer lock.Release()

	if IsDaemonRunning(dir) != true {
		t.Fatalf("expected IsDaemonRunning to report true while lock held")
	}

	_, ok, err = TryAcquireDaemonLock(dir)
	if err != nil {
		t.Fatalf("second TryAcquireDaemonLock errored: %v", err)
	}
	if ok {
		t.Fatalf("expected second daemon lock attempt to fail while first is held")
	}
}

func TestWithExclusiveRunsCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.lock")

	ran := false
	if err := WithExclusive(path, func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("WithExclusive: %v", err)
	}
	if !ran {
		t.Fatalf("expected callback to run")
	}
}
