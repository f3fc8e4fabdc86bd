// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package release manages timestamped release directories on a deploy host.
//
// # Layout
//
//	basePath/
//	  current -> releases/<releaseId>
//	  releases/
//	    <releaseId>/
//	      log -> ../../shared/log
//	      static -> ../../shared/static
//	  shared/
//	    log/
//	    static/
//
// Release identifiers are "YYYY-MM-DD.SSSSS" where SSSSS is the number of
// seconds since local midnight, zero padded, so sorting names sorts by
// deploy time.
//
// # Lifecycle
//
// A Release is built once per deploy attempt. Scope runs the attempt:
//
//	rel, _ := release.New(exec, release.Config{BasePath: "/srv/app"})
//	err := rel.Scope(ctx, func(ctx context.Context) error {
//	    return syncFiles(ctx, rel.CurrentReleasePath())
//	})
//
// Scope creates the layout and a new release directory, runs the work,
// and points current at the new release. Any failure removes the new
// release directory (and restores current) through the embedded
// transaction, then returns the failure. Old releases beyond the retention
// count are pruned after success.
//
// RollbackRelease is the operator's undo: it points current at the second
// newest release and deletes the newest.
//
// All filesystem work happens on the host through a remote.Executor.
package release
