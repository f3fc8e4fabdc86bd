// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Executor runs shell command lines on one host.
//
// # Description
//
// Run executes command with a POSIX shell and returns its stdout. A
// non-zero exit yields a *CommandError.
//
// # Thread Safety
//
// Implementations must be safe for sequential use from one goroutine.
// Release operations never issue concurrent commands on an Executor.
type Executor interface {
	Run(ctx context.Context, command string) (string, error)

	// Host returns the host name used in logs and errors.
	Host() string
}

// Closer is implemented by executors holding a connection.
type Closer interface {
	Close() error
}

// Quote returns s as a single-quoted shell word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteAll quotes every word and joins them with spaces.
func QuoteAll(words ...string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = Quote(w)
	}
	return strings.Join(quoted, " ")
}

// PathExists reports whether path exists on the host. A dangling symlink
// counts as existing.
func PathExists(ctx context.Context, ex Executor, path string) (bool, error) {
	return testPath(ctx, ex, fmt.Sprintf("test -e %s || test -L %s", Quote(path), Quote(path)))
}

// IsSymlink reports whether path is a symbolic link.
func IsSymlink(ctx context.Context, ex Executor, path string) (bool, error) {
	return testPath(ctx, ex, "test -L "+Quote(path))
}

func testPath(ctx context.Context, ex Executor, cmd string) (bool, error) {
	_, err := ex.Run(ctx, cmd)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// ReadLink returns the target of the symlink at path, unresolved.
func ReadLink(ctx context.Context, ex Executor, path string) (string, error) {
	out, err := ex.Run(ctx, "readlink "+Quote(path))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ListDirectoryNames returns the names of the real directories directly
// inside dir, sorted ascending. Symlinks and files are skipped. A dir that
// is itself a symlink is followed.
func ListDirectoryNames(ctx context.Context, ex Executor, dir string) ([]string, error) {
	root := strings.TrimSuffix(dir, "/") + "/"
	out, err := ex.Run(ctx, fmt.Sprintf("find %s -mindepth 1 -maxdepth 1 -type d", Quote(root)))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		names = append(names, path.Base(line))
	}
	sort.Strings(names)
	return names, nil
}
