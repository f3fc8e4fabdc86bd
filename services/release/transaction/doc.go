// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transaction provides a compensating-action stack with scope
// semantics.
//
// # Overview
//
// A Transaction owns an ordered list of undo actions. Work registers an
// action for every side effect it makes; if the work later fails, the
// actions run last-in-first-out so the remote host is returned to the
// state it had before the scope opened.
//
// Two kinds of undo action exist:
//
//   - Command: a shell command executed through the CommandRunner
//     (normally the remote executor).
//   - Step: a Go function called directly.
//
// # Example
//
//	tx := transaction.New(executor, transaction.Options{Logger: logger})
//	err := tx.Do(ctx, func(ctx context.Context) error {
//	    if _, err := executor.Run(ctx, "mkdir -p /tmp/foobar"); err != nil {
//	        return err
//	    }
//	    return tx.OnRollbackCommand("rm -rf '/tmp/foobar'")
//	})
//
// # Failure Semantics
//
// Rollback drains the whole stack. A failing undo action is logged at
// Warn and recorded in the RollbackReport; the remaining actions still
// run. Do always returns the error that triggered the unwind, never an
// undo failure.
//
// # Thread Safety
//
// Registration is mutex-protected, but a Transaction models one
// sequential deploy attempt. Do not run two scopes on one instance at
// the same time.
package transaction
