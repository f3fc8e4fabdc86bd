// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock implements a deploy lock under a release base path.
//
// The lock is a directory, basePath/.shipyard.lock, created with plain
// mkdir so that creation is atomic on the host. An owner file inside it
// records who holds the lock. Only the holder (matched by a random owner
// token) may release it; Break removes it unconditionally.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Shipyard/services/release/remote"
)

// DirName is the lock directory name under the base path.
const DirName = ".shipyard.lock"

var (
	// ErrLockHeld is returned by Acquire when another deployer holds the
	// lock.
	ErrLockHeld = errors.New("deploy lock held")

	// ErrNotOwner is returned by Release when the lock belongs to someone
	// else.
	ErrNotOwner = errors.New("deploy lock owned by another deployer")

	// ErrNotHeld is returned by Release when no lock exists.
	ErrNotHeld = errors.New("deploy lock not held")
)

// Info describes a lock holder.
type Info struct {
	Owner    string    `json:"owner"`
	User     string    `json:"user"`
	Hostname string    `json:"host"`
	PID      int       `json:"pid"`
	Time     time.Time `json:"time"`
}

// String formats the holder for error messages.
func (i Info) String() string {
	return fmt.Sprintf("%s@%s pid %d since %s", i.User, i.Hostname, i.PID, i.Time.Format(time.RFC3339))
}

func (i Info) encode() string {
	return fmt.Sprintf("owner=%s user=%s host=%s pid=%d time=%s",
		i.Owner, i.User, i.Hostname, i.PID, i.Time.UTC().Format(time.RFC3339))
}

func parseInfo(s string) Info {
	var info Info
	for _, field := range strings.Fields(s) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "owner":
			info.Owner = value
		case "user":
			info.User = value
		case "host":
			info.Hostname = value
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "time":
			info.Time, _ = time.Parse(time.RFC3339, value)
		}
	}
	return info
}

// Lock is a deploy lock for one base path on one host.
type Lock struct {
	exec   remote.Executor
	dir    string
	info   Info
	logger *slog.Logger
	clock  func() time.Time
}

// New creates an unacquired lock for basePath.
func New(exec remote.Executor, basePath string, logger *slog.Logger) *Lock {
	if logger == nil {
		logger = slog.Default()
	}
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Lock{
		exec: exec,
		dir:  path.Join(basePath, DirName),
		info: Info{
			Owner:    uuid.NewString(),
			User:     strings.ReplaceAll(username, " ", "_"),
			Hostname: hostname,
			PID:      os.Getpid(),
		},
		logger: logger.With("component", "lock", "host", exec.Host()),
		clock:  time.Now,
	}
}

// Path returns the lock directory.
func (l *Lock) Path() string { return l.dir }

// Owner returns this lock's owner token.
func (l *Lock) Owner() string { return l.info.Owner }

// Acquire takes the lock.
//
// # Outputs
//
//   - error: ErrLockHeld (with the holder) if the lock exists, or the
//     command error.
func (l *Lock) Acquire(ctx context.Context) error {
	if _, err := l.exec.Run(ctx, "mkdir "+remote.Quote(l.dir)); err != nil {
		exists, existsErr := remote.PathExists(ctx, l.exec, l.dir)
		if existsErr == nil && exists {
			holder, _, _ := Read(ctx, l.exec, path.Dir(l.dir))
			return fmt.Errorf("%w on %s by %s", ErrLockHeld, l.exec.Host(), holder)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	info := l.info
	info.Time = l.clock()
	cmd := fmt.Sprintf("printf '%%s\\n' %s > %s", remote.Quote(info.encode()), remote.Quote(path.Join(l.dir, "owner")))
	if _, err := l.exec.Run(ctx, cmd); err != nil {
		_, _ = l.exec.Run(context.WithoutCancel(ctx), "rm -rf "+remote.Quote(l.dir))
		return fmt.Errorf("write lock owner: %w", err)
	}
	l.logger.Info("deploy lock acquired", slog.String("path", l.dir))
	return nil
}

// Release removes the lock if this Lock holds it.
func (l *Lock) Release(ctx context.Context) error {
	holder, held, err := Read(ctx, l.exec, path.Dir(l.dir))
	if err != nil {
		return err
	}
	if !held {
		return ErrNotHeld
	}
	if holder.Owner != l.info.Owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, holder)
	}
	if _, err := l.exec.Run(ctx, "rm -rf "+remote.Quote(l.dir)); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.logger.Info("deploy lock released", slog.String("path", l.dir))
	return nil
}

// Read returns the current holder of the lock under basePath.
//
// # Outputs
//
//   - Info: Holder metadata; zero if the owner file is unreadable.
//   - bool: Whether the lock directory exists.
//   - error: Command failures other than absence.
func Read(ctx context.Context, exec remote.Executor, basePath string) (Info, bool, error) {
	dir := path.Join(basePath, DirName)
	exists, err := remote.PathExists(ctx, exec, dir)
	if err != nil || !exists {
		return Info{}, false, err
	}
	out, err := exec.Run(ctx, "cat "+remote.Quote(path.Join(dir, "owner")))
	if err != nil {
		return Info{}, true, nil
	}
	return parseInfo(out), true, nil
}

// Break removes the lock under basePath regardless of owner.
func Break(ctx context.Context, exec remote.Executor, basePath string) error {
	if _, err := exec.Run(ctx, "rm -rf "+remote.Quote(path.Join(basePath, DirName))); err != nil {
		return fmt.Errorf("break lock: %w", err)
	}
	return nil
}
