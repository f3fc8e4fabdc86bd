// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner records every command and fails those containing failOn.
type recordingRunner struct {
	mu       sync.Mutex
	commands []string
	failOn   string
}

func (r *recordingRunner) Run(ctx context.Context, command string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	if r.failOn != "" && strings.Contains(command, r.failOn) {
		return "", fmt.Errorf("exit status 1: %s", command)
	}
	return "", nil
}

func (r *recordingRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commands))
	copy(out, r.commands)
	return out
}

// recordingReporter keeps the reporter lines in order.
type recordingReporter struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingReporter) add(prefix, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, prefix+text)
}

func (r *recordingReporter) Success(text string) { r.add("OK: ", text) }
func (r *recordingReporter) Warning(text string) { r.add("WARN: ", text) }
func (r *recordingReporter) Error(text string)   { r.add("ERROR: ", text) }
func (r *recordingReporter) Info(text string)    { r.add("", text) }

func newTestTransaction(runner CommandRunner) (*Transaction, *recordingReporter) {
	reporter := &recordingReporter{}
	return New(runner, Options{Reporter: reporter}), reporter
}

func TestTransaction_OnRollbackValidates(t *testing.T) {
	tx, _ := newTestTransaction(&recordingRunner{})

	assert.ErrorIs(t, tx.OnRollback(Action{}), ErrInvalidAction)
	assert.ErrorIs(t, tx.OnRollbackCommand(""), ErrInvalidAction)
	assert.ErrorIs(t, tx.OnRollbackStep("nil step", nil), ErrInvalidAction)
	assert.Equal(t, 0, tx.Len())

	require.NoError(t, tx.OnRollbackCommand("rm -rf /srv/app/releases/x"))
	require.NoError(t, tx.OnRollbackStep("restore", func(ctx context.Context) error { return nil }))
	assert.Equal(t, 2, tx.Len())

	pending := tx.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, KindCommand, pending[0].Kind())
	assert.Equal(t, "rm -rf /srv/app/releases/x", pending[0].CommandLine())
	assert.Equal(t, KindStep, pending[1].Kind())
	assert.Equal(t, "restore", pending[1].Name())
}

func TestTransaction_RollbackRunsInReverseOrder(t *testing.T) {
	runner := &recordingRunner{}
	tx, _ := newTestTransaction(runner)

	var order []string
	require.NoError(t, tx.OnRollbackCommand("undo a"))
	require.NoError(t, tx.OnRollbackStep("undo b", func(ctx context.Context) error {
		order = append(order, "undo b")
		return nil
	}))
	require.NoError(t, tx.OnRollbackCommand("undo c"))

	report := tx.Rollback(context.Background())

	assert.True(t, report.OK())
	assert.NoError(t, report.Err())
	assert.Equal(t, 3, report.Executed)
	assert.Equal(t, []string{"undo c", "undo a"}, runner.Commands())
	assert.Equal(t, []string{"undo b"}, order)
	assert.Equal(t, 0, tx.Len())
}

func TestTransaction_RollbackOnEmptyStack(t *testing.T) {
	tx, _ := newTestTransaction(nil)

	report := tx.Rollback(context.Background())

	assert.True(t, report.OK())
	assert.Equal(t, 0, report.Executed)
}

func TestTransaction_RollbackContinuesPastFailures(t *testing.T) {
	runner := &recordingRunner{failOn: "second"}
	tx, reporter := newTestTransaction(runner)

	require.NoError(t, tx.OnRollbackCommand("first"))
	require.NoError(t, tx.OnRollbackCommand("second"))
	require.NoError(t, tx.OnRollbackStep("third", func(ctx context.Context) error {
		return errors.New("step failed")
	}))

	report := tx.Rollback(context.Background())

	assert.Equal(t, 3, report.Executed)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, "third", report.Failures[0].Action.Name())
	assert.Equal(t, "second", report.Failures[1].Action.Name())
	assert.Equal(t, []string{"second", "first"}, runner.Commands())
	assert.Error(t, report.Err())
	assert.Equal(t, 0, tx.Len())

	warnings := 0
	for _, line := range reporter.lines {
		if strings.HasPrefix(line, "WARN: ") {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestTransaction_RollbackRecoversPanickingStep(t *testing.T) {
	runner := &recordingRunner{}
	tx, _ := newTestTransaction(runner)

	require.NoError(t, tx.OnRollbackCommand("after"))
	require.NoError(t, tx.OnRollbackStep("boom", func(ctx context.Context) error {
		panic("kaboom")
	}))

	report := tx.Rollback(context.Background())

	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Err.Error(), "kaboom")
	assert.Equal(t, []string{"after"}, runner.Commands())
}

func TestTransaction_CommandWithoutRunner(t *testing.T) {
	tx, _ := newTestTransaction(nil)
	require.NoError(t, tx.OnRollbackCommand("rm -rf x"))

	report := tx.Rollback(context.Background())

	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0].Err, ErrNoRunner)
}

func TestTransaction_DuplicateActionsRunTwice(t *testing.T) {
	runner := &recordingRunner{}
	tx, _ := newTestTransaction(runner)

	require.NoError(t, tx.OnRollbackCommand("rm -rf x"))
	require.NoError(t, tx.OnRollbackCommand("rm -rf x"))
	tx.Rollback(context.Background())

	assert.Equal(t, []string{"rm -rf x", "rm -rf x"}, runner.Commands())
}

func TestTransaction_DoSuccessDiscardsActions(t *testing.T) {
	runner := &recordingRunner{}
	tx, reporter := newTestTransaction(runner)

	err := tx.Do(context.Background(), func(ctx context.Context) error {
		require.NoError(t, tx.OnRollbackCommand("undo a"))
		require.NoError(t, tx.OnRollbackCommand("undo b"))
		return nil
	})

	require.NoError(t, err)
	assert.Empty(t, runner.Commands())
	assert.Equal(t, 0, tx.Len())
	assert.Equal(t, []string{"OK: Starting transaction.", "OK: Finishing transaction."}, reporter.lines)
}

func TestTransaction_DoFailureUnwindsAndReturnsOriginalError(t *testing.T) {
	runner := &recordingRunner{failOn: "undo b"}
	tx, reporter := newTestTransaction(runner)
	cause := errors.New("rsync failed")

	err := tx.Do(context.Background(), func(ctx context.Context) error {
		require.NoError(t, tx.OnRollbackCommand("undo a"))
		require.NoError(t, tx.OnRollbackCommand("undo b"))
		require.NoError(t, tx.OnRollbackCommand("undo c"))
		return cause
	})

	assert.Same(t, cause, err)
	assert.Equal(t, []string{"undo c", "undo b", "undo a"}, runner.Commands())
	assert.Equal(t, 0, tx.Len())
	require.GreaterOrEqual(t, len(reporter.lines), 3)
	assert.Equal(t, "OK: Starting transaction.", reporter.lines[0])
	assert.Equal(t, "ERROR: Transaction failed.", reporter.lines[1])
	assert.Equal(t, "ERROR: Rolling back.", reporter.lines[2])
}

func TestTransaction_DoPanicUnwindsThenRepanics(t *testing.T) {
	runner := &recordingRunner{}
	tx, _ := newTestTransaction(runner)

	assert.PanicsWithValue(t, "disk on fire", func() {
		_ = tx.Do(context.Background(), func(ctx context.Context) error {
			require.NoError(t, tx.OnRollbackCommand("undo a"))
			panic("disk on fire")
		})
	})
	assert.Equal(t, []string{"undo a"}, runner.Commands())
	assert.Equal(t, 0, tx.Len())
}

func TestTransaction_DoUnwindsWhenContextCancelled(t *testing.T) {
	runner := &recordingRunner{}
	tx, _ := newTestTransaction(runner)
	ctx, cancel := context.WithCancel(context.Background())

	var stepCtxErr error
	err := tx.Do(ctx, func(ctx context.Context) error {
		require.NoError(t, tx.OnRollbackCommand("undo a"))
		require.NoError(t, tx.OnRollbackStep("check ctx", func(ctx context.Context) error {
			stepCtxErr = ctx.Err()
			return nil
		}))
		cancel()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, stepCtxErr)
	assert.Equal(t, []string{"undo a"}, runner.Commands())
}

func TestTransaction_ActionsOutsideScopeArePending(t *testing.T) {
	runner := &recordingRunner{}
	tx, _ := newTestTransaction(runner)

	require.NoError(t, tx.OnRollbackCommand("undo outer"))
	err := tx.Do(context.Background(), func(ctx context.Context) error {
		require.NoError(t, tx.OnRollbackCommand("undo inner"))
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.Equal(t, []string{"undo inner", "undo outer"}, runner.Commands())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "command", KindCommand.String())
	assert.Equal(t, "step", KindStep.String())
	assert.Equal(t, "invalid", Kind(99).String())
}
