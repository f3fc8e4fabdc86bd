// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package proclock keeps two shipyard processes on one machine from
// mutating the same target at once, using flock(2).
//
// This is a local guard only. The remote lock in services/release/lock
// covers deployers on different machines.
package proclock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrLockHeld is returned when another process holds the lock.
	ErrLockHeld = errors.New("another shipyard process is operating on this target")

	// ErrAcquireFailed wraps filesystem errors while acquiring.
	ErrAcquireFailed = errors.New("failed to acquire process lock")
)

// FileLock is an exclusive advisory lock on a file.
type FileLock struct {
	path string
	file *os.File
}

// New returns a lock for target under dir (e.g. ~/.shipyard/locks).
func New(dir, target string) *FileLock {
	name := strings.ReplaceAll(target, "/", "_")
	return &FileLock{path: filepath.Join(dir, name+".lock")}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Acquire takes the lock without blocking.
//
// # Outputs
//
//   - error: ErrLockHeld (with the holder pid when readable) if another
//     process holds it, ErrAcquireFailed on filesystem errors.
func (l *FileLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: creating lock directory: %v", ErrAcquireFailed, err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("%w: opening lock file: %v", ErrAcquireFailed, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid := l.HolderPID(); pid > 0 {
				return fmt.Errorf("%w (pid %d)", ErrLockHeld, pid)
			}
			return ErrLockHeld
		}
		return fmt.Errorf("%w: flock: %v", ErrAcquireFailed, err)
	}

	// Holder metadata is informational; the flock is the lock.
	_ = file.Truncate(0)
	_, _ = file.Seek(0, 0)
	_, _ = fmt.Fprintf(file, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))

	l.file = file
	return nil
}

// Release drops the lock. Safe to call when not held. The file is left in
// place so a concurrent opener never locks an unlinked inode.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}

// HolderPID returns the pid recorded in the lock file, or 0.
func (l *FileLock) HolderPID() int {
	content, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(string(content), "pid=%d", &pid); err != nil {
		return 0
	}
	return pid
}
