// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrScopeActive is returned when Scope is entered twice on one Release.
var ErrScopeActive = errors.New("release scope already active")

// Scope runs one deploy attempt.
//
// # Description
//
//  1. Checks basePath. A missing base path returns ErrMissingBasePath
//     without any unwind, since nothing was created.
//  2. Inside a transaction: Setup (layout and a new release directory),
//     then fn, then Symlink.
//  3. If any step fails the transaction removes the new release and
//     restores current, and the failure is returned unchanged.
//  4. After success, Cleanup prunes old releases. A cleanup failure is
//     only reported as a warning: the new release is already live.
//
// # Inputs
//
//   - ctx: Passed to every step. Cancellation still lets the unwind run.
//   - fn: The work phase, typically syncing files into
//     CurrentReleasePath(). May be nil.
//
// # Outputs
//
//   - error: The first failure, or nil.
func (r *Release) Scope(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.inScope {
		return ErrScopeActive
	}
	if err := r.CheckBasePath(ctx); err != nil {
		return err
	}

	r.inScope = true
	defer func() { r.inScope = false }()

	err := r.tx.Do(ctx, func(ctx context.Context) error {
		if err := r.setup(ctx); err != nil {
			return err
		}
		if fn != nil {
			if err := fn(ctx); err != nil {
				return err
			}
		}
		r.reporter.Success("Release successful.")
		return r.Symlink(ctx)
	})
	if err != nil {
		r.reporter.Error("Rolling back release to previous version")
		r.logger.Error("release failed", slog.String("release", r.CurrentReleaseID()), slog.String("error", err.Error()))
		return err
	}

	if removed, cerr := r.Cleanup(ctx); cerr != nil {
		r.logger.Warn("cleanup failed", slog.String("error", cerr.Error()), slog.Int("removed", len(removed)))
		r.reporter.Warning(fmt.Sprintf("Cleanup failed: %v", cerr))
	}
	r.logger.Info("release finished", slog.String("release", r.CurrentReleaseID()))
	return nil
}
