package receipt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// StaleLockThreshold is the age after which a lock left behind by a crashed
// install is taken over.
const StaleLockThreshold = 10 * time.Minute

const lockName = "install.lock"

var ErrLockExists = errors.New("install lock exists: another install may be in progress")

// LockInfo is written into the lock file.
type LockInfo struct {
	PID        int       `yaml:"pid"`
	Host       string    `yaml:"host,omitempty"`
	AcquiredAt time.Time `yaml:"acquired_at"`
}

// Lock is an exclusive lock on a state directory.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock takes the install lock in dir, creating dir if needed. A lock
// older than StaleLockThreshold is removed and taken over once.
func AcquireLock(ctx context.Context, dir string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, lockName)
	file, err := createExclusive(lockPath)
	if errors.Is(err, os.ErrExist) {
		if stale, ok := staleLock(lockPath); ok {
			if terr := takeOver(lockPath, stale); terr != nil {
				return nil, terr
			}
			file, err = createExclusive(lockPath)
		}
	}
	if errors.Is(err, os.ErrExist) {
		return nil, ErrLockExists
	}
	if err != nil {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	l := &Lock{path: lockPath, file: file}
	if err := l.writeInfo(); err != nil {
		l.Release()
		return nil, err
	}
	return l, nil
}

// ReadLockInfo returns the owner recorded in dir's lock file.
func ReadLockInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, lockName))
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &info, nil
}

// Release removes the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

func (l *Lock) writeInfo() error {
	host, _ := os.Hostname()
	data, err := yaml.Marshal(LockInfo{PID: os.Getpid(), Host: host, AcquiredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal lock info: %w", err)
	}
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func createExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
}

// staleLock uses the file's modification time, so an unreadable or
// half-written lock still expires.
func staleLock(path string) (os.FileInfo, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	return info, time.Since(info.ModTime()) > StaleLockThreshold
}

// takeOver renames the stale lock aside. When the renamed file is not the one
// observed as stale, another process already took the lock over, and its lock
// is linked back in place.
func takeOver(lockPath string, stale os.FileInfo) error {
	aside := lockPath + "." + uuid.NewString() + ".stale"
	if err := os.Rename(lockPath, aside); err != nil {
		if os.IsNotExist(err) {
			// Someone else already cleared it; race them for the new lock.
			return nil
		}
		return fmt.Errorf("move stale lock: %w", err)
	}
	defer os.Remove(aside)

	moved, err := os.Stat(aside)
	if err != nil {
		return fmt.Errorf("stat stale lock: %w", err)
	}
	if os.SameFile(stale, moved) {
		return nil
	}

	// A fresh lock was swapped in after the stale check. Restore it.
	if err := os.Link(aside, lockPath); err != nil && !os.IsExist(err) {
		return fmt.Errorf("restore lock: %w", err)
	}
	return ErrLockExists
}
