// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package deploy runs deploy tasks for a target across hosts.

A Target declares which optional steps it has with a Capability set and
implements the matching interface for each one:

	CapBuild     Builder     local build before any host is touched
	CapPrepare   Preparer    on the host, right after the release dir exists
	CapSync      Syncer      fills the release dir
	CapFinalize  Finalizer   after Sync, before current moves

The Deployer checks the declaration against the implementation once, in
New, and then drives each host through a release scope.
*/
package deploy
