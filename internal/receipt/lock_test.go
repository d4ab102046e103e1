package receipt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireLock(t *testing.T) {
	t.Run("creates lock file", func(t *testing.T) {
		dir := t.TempDir()

		lock, err := AcquireLock(context.Background(), dir)
		if err != nil {
			t.Fatalf("AcquireLock failed: %v", err)
		}
		defer lock.Release()

		info, err := ReadLockInfo(dir)
		if err != nil {
			t.Fatalf("ReadLockInfo failed: %v", err)
		}
		if info.PID != os.Getpid() {
			t.Errorf("PID = %d, want %d", info.PID, os.Getpid())
		}
		if time.Since(info.AcquiredAt) > time.Minute {
			t.Errorf("AcquiredAt = %v", info.AcquiredAt)
		}
	})

	t.Run("prevents concurrent locks", func(t *testing.T) {
		dir := t.TempDir()

		lock1, err := AcquireLock(context.Background(), dir)
		if err != nil {
			t.Fatalf("first AcquireLock failed: %v", err)
		}
		defer lock1.Release()

		if _, err := AcquireLock(context.Background(), dir); err != ErrLockExists {
			t.Errorf("expected ErrLockExists, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := AcquireLock(ctx, t.TempDir()); err == nil {
			t.Error("expected error for cancelled context")
		}
	})

	t.Run("takes over stale lock", func(t *testing.T) {
		dir := t.TempDir()
		lockPath := filepath.Join(dir, "install.lock")
		if err := os.WriteFile(lockPath, []byte("pid: 1\n"), 0600); err != nil {
			t.Fatal(err)
		}
		old := time.Now().Add(-2 * StaleLockThreshold)
		if err := os.Chtimes(lockPath, old, old); err != nil {
			t.Fatal(err)
		}

		lock, err := AcquireLock(context.Background(), dir)
		if err != nil {
			t.Fatalf("AcquireLock on stale lock failed: %v", err)
		}
		lock.Release()
	})

	t.Run("stale takeover keeps a lock replaced in the meantime", func(t *testing.T) {
		dir := t.TempDir()
		lockPath := filepath.Join(dir, "install.lock")
		if err := os.WriteFile(lockPath, []byte("pid: 1\n"), 0600); err != nil {
			t.Fatal(err)
		}
		old := time.Now().Add(-2 * StaleLockThreshold)
		if err := os.Chtimes(lockPath, old, old); err != nil {
			t.Fatal(err)
		}
		stale, ok := staleLock(lockPath)
		if !ok {
			t.Fatal("expected lock to be stale")
		}

		// Another process takes the stale lock over first.
		if err := os.Remove(lockPath); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(lockPath, []byte("pid: 2\n"), 0600); err != nil {
			t.Fatal(err)
		}

		if err := takeOver(lockPath, stale); err != ErrLockExists {
			t.Fatalf("takeOver = %v, want ErrLockExists", err)
		}
		info, err := ReadLockInfo(dir)
		if err != nil {
			t.Fatalf("fresh lock was lost: %v", err)
		}
		if info.PID != 2 {
			t.Errorf("PID = %d, want 2", info.PID)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("expected only the lock file, found %d entries", len(entries))
		}
		if _, err := AcquireLock(context.Background(), dir); err != ErrLockExists {
			t.Errorf("expected ErrLockExists, got %v", err)
		}
	})

	t.Run("stale lock already cleared by another process", func(t *testing.T) {
		dir := t.TempDir()
		lockPath := filepath.Join(dir, "install.lock")
		if err := os.WriteFile(lockPath, []byte("pid: 1\n"), 0600); err != nil {
			t.Fatal(err)
		}
		stale, err := os.Stat(lockPath)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.Remove(lockPath); err != nil {
			t.Fatal(err)
		}
		if err := takeOver(lockPath, stale); err != nil {
			t.Errorf("takeOver = %v, want nil", err)
		}
	})

	t.Run("release allows reacquire", func(t *testing.T) {
		dir := t.TempDir()

		lock, err := AcquireLock(context.Background(), dir)
		if err != nil {
			t.Fatal(err)
		}
		if err := lock.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if err := lock.Release(); err != nil {
			t.Errorf("second Release failed: %v", err)
		}

		lock2, err := AcquireLock(context.Background(), dir)
		if err != nil {
			t.Fatalf("reacquire failed: %v", err)
		}
		lock2.Release()
	})
}
