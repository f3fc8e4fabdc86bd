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
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/Shipyard/pkg/ux"
)

// CommandRunner executes a shell command. The remote executor satisfies
// it; Command actions are drained through it.
type CommandRunner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Options configures a Transaction.
type Options struct {
	// Logger receives structured transaction events.
	// Default: slog.Default()
	Logger *slog.Logger

	// Reporter receives the human status lines.
	// Default: ux.Discard
	Reporter ux.Reporter

	// TracingEnabled emits transaction.scope / transaction.rollback spans.
	TracingEnabled bool
}

// ActionFailure records an undo action that failed during Rollback.
type ActionFailure struct {
	Action Action
	Err    error
}

// RollbackReport summarizes a drain.
type RollbackReport struct {
	// Executed counts actions attempted, failed or not.
	Executed int

	// Failures lists the actions that returned an error, in drain order.
	Failures []ActionFailure

	// Duration is the wall time of the drain.
	Duration time.Duration
}

// OK reports whether every undo action succeeded.
func (r RollbackReport) OK() bool { return len(r.Failures) == 0 }

// Err joins the failures into one error for display, or returns nil.
func (r RollbackReport) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s %q: %w", f.Action.Kind(), f.Action.Name(), f.Err))
	}
	return errors.Join(errs...)
}

// Transaction is a LIFO stack of undo actions with scope semantics.
//
// # Description
//
// Actions pushed with OnRollback accumulate while a scope (Do) runs.
// A scope that ends without error discards them; a scope that fails
// drains them in reverse registration order and returns the failure.
//
// # Thread Safety
//
// Registration and draining are mutex-protected. One scope at a time.
type Transaction struct {
	runner   CommandRunner
	actions  []Action
	logger   *slog.Logger
	reporter ux.Reporter
	tracer   *Tracer
	mu       sync.Mutex
}

// New creates an empty Transaction.
//
// # Inputs
//
//   - runner: Executes Command actions. May be nil if only Step actions
//     are registered.
//   - opts: Logging, reporting and tracing options.
//
// # Outputs
//
//   - *Transaction: Ready to use.
func New(runner CommandRunner, opts Options) *Transaction {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = ux.Discard
	}
	logger = logger.With("component", "transaction")
	return &Transaction{
		runner:   runner,
		logger:   logger,
		reporter: reporter,
		tracer:   NewTracer(logger, opts.TracingEnabled),
	}
}

// OnRollback pushes an undo action.
//
// # Description
//
// The action is validated here rather than at drain time: a zero Action
// or a Step without a function yields ErrInvalidAction and nothing is
// pushed. Actions are not deduplicated; pushing the same action twice
// runs it twice.
func (t *Transaction) OnRollback(action Action) error {
	if err := action.validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions = append(t.actions, action)
	t.logger.Debug("rollback action registered",
		slog.String("kind", action.Kind().String()),
		slog.String("action", action.Name()),
		slog.Int("depth", len(t.actions)),
	)
	return nil
}

// OnRollbackCommand pushes a Command action.
func (t *Transaction) OnRollbackCommand(cmd string) error {
	return t.OnRollback(Command(cmd))
}

// OnRollbackStep pushes a Step action.
func (t *Transaction) OnRollbackStep(name string, fn StepFunc) error {
	return t.OnRollback(Step(name, fn))
}

// Len returns the number of pending undo actions.
func (t *Transaction) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.actions)
}

// Pending returns a copy of the pending actions in registration order.
func (t *Transaction) Pending() []Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Action, len(t.actions))
	copy(out, t.actions)
	return out
}

// Discard drops every pending action without running it.
func (t *Transaction) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions = nil
}

func (t *Transaction) pop() (Action, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.actions)
	if n == 0 {
		return Action{}, false
	}
	action := t.actions[n-1]
	t.actions = t.actions[:n-1]
	return action, true
}

// Rollback pops and executes every pending action, last pushed first.
//
// # Description
//
// A failing action is logged at Warn and recorded; the drain continues
// because skipping an earlier-registered undo usually leaves the host
// worse off than a partially failed cleanup. The drain ignores
// cancellation of ctx so an interrupted deploy still cleans up.
//
// # Outputs
//
//   - RollbackReport: What ran and what failed. The stack is empty
//     afterwards.
func (t *Transaction) Rollback(ctx context.Context) RollbackReport {
	ctx = context.WithoutCancel(ctx)
	ctx, span := t.tracer.StartRollback(ctx, t.Len())
	start := time.Now()

	var report RollbackReport
	for {
		action, ok := t.pop()
		if !ok {
			break
		}
		report.Executed++
		t.logger.Info("rolling back", slog.String("kind", action.Kind().String()), slog.String("action", action.Name()))

		err := t.execute(ctx, action)
		recordRollbackAction(ctx, action.Kind(), err == nil)
		if err != nil {
			report.Failures = append(report.Failures, ActionFailure{Action: action, Err: err})
			t.logger.Warn("rollback action failed",
				slog.String("kind", action.Kind().String()),
				slog.String("action", action.Name()),
				slog.String("error", err.Error()),
			)
			t.reporter.Warning(fmt.Sprintf("Rollback action failed: %s: %v", action.Name(), err))
		}
	}

	report.Duration = time.Since(start)
	t.tracer.EndRollback(span, report)
	return report
}

func (t *Transaction) execute(ctx context.Context, action Action) (err error) {
	switch action.kind {
	case KindCommand:
		if t.runner == nil {
			return ErrNoRunner
		}
		_, err = t.runner.Run(ctx, action.command)
		return err
	case KindStep:
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("step panicked: %v", r)
			}
		}()
		return action.step(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownActionKind, action.kind)
	}
}

// Do runs fn as a transaction scope.
//
// # Description
//
// On entry the start of the transaction is logged. If fn returns nil the
// pending actions are discarded and nil is returned. If fn returns an
// error, or panics, the stack is drained with Rollback and the original
// error is returned (a panic is re-raised after the drain). Do never
// replaces the triggering error with an undo failure.
//
// # Inputs
//
//   - ctx: Passed to fn. Rollback runs even if ctx is cancelled.
//   - fn: The protected work.
//
// # Outputs
//
//   - error: fn's error, or nil.
func (t *Transaction) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx, span := t.tracer.StartScope(ctx)
	start := time.Now()

	t.logger.Info("starting transaction")
	t.reporter.Success("Starting transaction.")

	panicked := true
	defer func() {
		if !panicked {
			return
		}
		r := recover()
		perr := fmt.Errorf("transaction panicked: %v", r)
		t.unwind(ctx, perr)
		recordScope(ctx, time.Since(start), false)
		t.tracer.EndScope(span, perr)
		panic(r)
	}()

	err = fn(ctx)
	panicked = false

	if err != nil {
		t.unwind(ctx, err)
		recordScope(ctx, time.Since(start), false)
		t.tracer.EndScope(span, err)
		return err
	}

	t.Discard()
	t.logger.Info("transaction finished", slog.Duration("duration", time.Since(start)))
	t.reporter.Success("Finishing transaction.")
	recordScope(ctx, time.Since(start), true)
	t.tracer.EndScope(span, nil)
	return nil
}

func (t *Transaction) unwind(ctx context.Context, cause error) {
	t.logger.Error("transaction failed, rolling back",
		slog.String("error", cause.Error()),
		slog.Int("actions", t.Len()),
	)
	t.reporter.Error("Transaction failed.")
	t.reporter.Error("Rolling back.")

	report := t.Rollback(ctx)
	if !report.OK() {
		t.logger.Warn("rollback finished with failures",
			slog.Int("executed", report.Executed),
			slog.Int("failed", len(report.Failures)),
		)
		return
	}
	t.logger.Info("rollback finished", slog.Int("executed", report.Executed))
}
