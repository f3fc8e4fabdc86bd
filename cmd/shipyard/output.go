// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AleutianAI/Shipyard/pkg/ux"
	"github.com/AleutianAI/Shipyard/services/release"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Completed without change, e.g. nothing to roll back
	CLIExitError    = 2 // Operation failed
)

// OutputConfig controls output behavior.
type OutputConfig struct {
	JSON    bool // Output as JSON
	Compact bool // No indentation

	// Warnings are the run's Warn log lines, reported in the envelope.
	Warnings []string
}

// CommandResult wraps command output with metadata.
type CommandResult struct {
	APIVersion string    `json:"api_version"`
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	ExitCode   int       `json:"exit_code"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
}

// OutputJSON writes data as JSON to w.
func OutputJSON(w io.Writer, data any, compact bool) error {
	encoder := json.NewEncoder(w)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// ExitCodeFor maps a task error to the process exit code.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return CLIExitSuccess
	case errors.Is(err, release.ErrNoPreviousRelease), errors.Is(err, ux.ErrDeclined):
		return CLIExitFindings
	default:
		return CLIExitError
	}
}

// OutputResult writes the envelope in JSON mode and returns the exit code.
//
// # Inputs
//
//   - w: Destination for JSON output (stdout).
//   - errw: Destination for the plain error line outside JSON mode.
//   - cfg: Output configuration.
//   - cmd: Command name for metadata.
//   - start: Start time for duration calculation.
//   - data: Partial or full results; included even on failure.
//   - err: Any error that occurred.
//
// # Outputs
//
//   - int: The exit code to use.
func OutputResult(w, errw io.Writer, cfg OutputConfig, cmd string, start time.Time, data any, err error) int {
	code := ExitCodeFor(err)

	if !cfg.JSON {
		if code == CLIExitError {
			fmt.Fprintf(errw, "Error: %v\n", err)
		}
		return code
	}

	result := CommandResult{
		APIVersion: "1.0",
		Command:    cmd,
		Timestamp:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
		Success:    err == nil,
		ExitCode:   code,
		Data:       data,
		Warnings:   cfg.Warnings,
	}
	if err != nil {
		result.Error = err.Error()
	}
	if encErr := OutputJSON(w, result, cfg.Compact); encErr != nil {
		fmt.Fprintf(errw, "Failed to encode JSON: %v\n", encErr)
		return CLIExitError
	}
	return code
}
