package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// unlockLock is a test helper that unlocks and logs any error
func unlockLock(t *testing.T, lock *FileLock) {
	t.Helper()
	if err := lock.Unlock(); err != nil {
		t.Logf("Warning: Unlock failed: %v", err)
	}
}

func TestFileLock_TryLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "locks", "build.lock")

	lock1 := NewFileLock(lockPath)
	acquired, err := lock1.TryLock()
	if err != nil {
		t.Fatalf("First TryLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Expected to acquire first lock")
	}
	defer unlockLock(t, lock1)

	lock2 := NewFileLock(lockPath)
	acquired, err = lock2.TryLock()
	if err != nil {
		t.Fatalf("Second TryLock returned error: %v", err)
	}
	if acquired {
		t.Error("Expected second lock acquisition to fail")
		unlockLock(t, lock2)
	}
}

func TestFileLock_UnlockReleases(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "build.lock")

	lock1 := NewFileLock(lockPath)
	if ok, err := lock1.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	if err := lock1.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if err := lock1.Unlock(); err != nil {
		t.Errorf("Second Unlock should be a no-op, got %v", err)
	}

	lock2 := NewFileLock(lockPath)
	defer unlockLock(t, lock2)
	if ok, err := lock2.TryLock(); err != nil || !ok {
		t.Errorf("Expected lock to be free after unlock, got %v, %v", ok, err)
	}
}

func TestFileLock_LockTimeout(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "build.lock")

	holder := NewFileLock(lockPath)
	if ok, err := holder.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer unlockLock(t, holder)

	waiter := NewFileLock(lockPath)
	start := time.Now()
	err := waiter.Lock(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Lock error = %v, want ErrLockTimeout", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("Lock returned before the timeout")
	}
}

func TestFileLock_LockContextCanceled(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "build.lock")

	holder := NewFileLock(lockPath)
	if ok, err := holder.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer unlockLock(t, holder)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	waiter := NewFileLock(lockPath)
	if err := waiter.Lock(ctx, time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Lock error = %v, want context.DeadlineExceeded", err)
	}
}

func TestFileLock_LockAcquiresWhenReleased(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "build.lock")

	holder := NewFileLock(lockPath)
	if ok, err := holder.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = holder.Unlock()
	}()

	waiter := NewFileLock(lockPath)
	defer unlockLock(t, waiter)
	if err := waiter.Lock(context.Background(), 5*time.Second); err != nil {
		t.Errorf("Lock failed: %v", err)
	}
}
