// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remote runs shell commands on deploy hosts.
//
// An Executor runs one POSIX shell command line at a time and returns its
// stdout. Two implementations exist: Local runs commands through "sh -c"
// on this machine, and SSH runs them over an x/crypto/ssh session per
// command. Package remotetest provides an in-memory fake.
//
// Command lines are built by callers with Quote so paths containing spaces
// or quotes survive the remote shell. The filesystem queries used by the
// release layer (PathExists, IsSymlink, ReadLink, ListDirectoryNames) are
// plain functions over an Executor rather than interface methods, so every
// Executor gets them for free.
//
// Commands are never retried. Only SSH dialing is retried, with
// exponential backoff.
package remote
