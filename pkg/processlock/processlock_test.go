package processlock

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndReleaseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")

	lock, err := acquire(path)
	if err != nil {
		t.Fatalf("acquire() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected pidfile to exist after acquire(): %v", err)
	}

	lock.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected pidfile to be removed after Release(), stat err = %v", err)
	}
}

func TestAcquireFailsWhenAnotherInstanceIsRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")

	contents := fmt.Sprintf("%d %d\n", os.Getpid(), time.Now().Unix())
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("seeding pidfile: %v", err)
	}

	if _, err := acquire(path); err == nil {
		t.Fatal("expected acquire() to refuse while the recorded pid is alive and young")
	}
}

func TestAcquireIgnoresStalePidfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")

	// PID 999999 almost certainly does not correspond to a live process.
	contents := fmt.Sprintf("%d %d\n", 999999, time.Now().Unix())
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("seeding stale pidfile: %v", err)
	}

	lock, err := acquire(path)
	if err != nil {
		t.Fatalf("acquire() should ignore a stale pidfile, got error: %v", err)
	}
	lock.Release()
}

func TestReleaseOnNilLockIsSafe(t *testing.T) {
	var lock *Lock
	lock.Release()
}
