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
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownHost is returned by Connect for an empty host address.
var ErrUnknownHost = errors.New("host has no address")

// CommandError is returned when a shell command exits non-zero or cannot
// be started on a host.
//
// # Description
//
// Preserves the host, the command line, the exit code and stderr so the
// CLI can show why a step failed. Wrapped holds the transport error
// (exec.ExitError, ssh.ExitError, a dial failure).
type CommandError struct {
	// Host is the executor's host name.
	Host string

	// Command is the command line that was executed.
	Command string

	// ExitCode is the process exit code (-1 if unknown).
	ExitCode int

	// Stderr contains the trimmed standard error output.
	Stderr string

	// Wrapped is the underlying error.
	Wrapped error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("[%s] %s (exit %d): %s", e.Host, e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s (exit %d): %v", e.Host, e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s (exit %d)", e.Host, e.Command, e.ExitCode)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr reports whether stderr was captured.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

// NewCommandError creates a CommandError, trimming stderr.
func NewCommandError(host, cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Host:     host,
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// ExitCode returns the exit code carried by err's chain, or -1 when err
// holds no CommandError.
func ExitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return -1
}

// ExtractStderr returns the first non-empty stderr found in err's chain.
func ExtractStderr(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Stderr
	}
	return ""
}
