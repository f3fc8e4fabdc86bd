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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
)

// LocalAddress is the host address that selects the Local executor.
const LocalAddress = "local"

// Local runs commands on this machine with "sh -c".
type Local struct {
	name   string
	shell  string
	logger *slog.Logger
}

// NewLocal creates a Local executor reporting itself as name.
func NewLocal(name string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = LocalAddress
	}
	return &Local{
		name:   name,
		shell:  "sh",
		logger: logger.With("host", name),
	}
}

// Host returns the executor name.
func (l *Local) Host() string { return l.name }

// Run executes command and returns stdout.
//
// A cancelled ctx refuses to start the command. A command that has
// already started runs to completion.
func (l *Local) Run(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewCommandError(l.name, command, -1, "", err)
	}
	l.logger.Debug("run", slog.String("command", command))

	cmd := exec.CommandContext(context.WithoutCancel(ctx), l.shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.String(), NewCommandError(l.name, command, exitCode, stderr.String(), err)
	}
	return stdout.String(), nil
}

var _ Executor = (*Local)(nil)
