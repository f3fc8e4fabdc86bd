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
)

var (
	// ErrInvalidAction is returned when registering a zero Action or a
	// Step without a function.
	ErrInvalidAction = errors.New("invalid rollback action")

	// ErrUnknownActionKind signals an action of a kind the executor does
	// not know how to run. Registration rejects these, so seeing it at
	// drain time means an integration bug.
	ErrUnknownActionKind = errors.New("unknown rollback action kind")

	// ErrNoRunner is returned when a Command action is drained by a
	// Transaction created without a CommandRunner.
	ErrNoRunner = errors.New("no command runner configured")
)

// Kind discriminates the Action variants.
type Kind int

const (
	kindInvalid Kind = iota

	// KindCommand actions run a shell command through the CommandRunner.
	KindCommand

	// KindStep actions call a Go function.
	KindStep
)

// String returns "command", "step" or "invalid".
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindStep:
		return "step"
	default:
		return "invalid"
	}
}

// StepFunc is the function form of an undo action.
type StepFunc func(ctx context.Context) error

// Action is a single undo action. Build one with Command or Step; the
// zero value is invalid and is rejected by OnRollback.
type Action struct {
	kind    Kind
	name    string
	command string
	step    StepFunc
}

// Command returns an Action that runs cmd through the CommandRunner.
func Command(cmd string) Action {
	return Action{kind: KindCommand, name: cmd, command: cmd}
}

// Step returns an Action that calls fn. The name is used in logs and
// rollback reports.
func Step(name string, fn StepFunc) Action {
	return Action{kind: KindStep, name: name, step: fn}
}

// Kind returns the action variant.
func (a Action) Kind() Kind { return a.kind }

// Name returns the command line for Command actions and the given name
// for Step actions.
func (a Action) Name() string { return a.name }

// CommandLine returns the shell command of a Command action, or "".
func (a Action) CommandLine() string { return a.command }

func (a Action) validate() error {
	switch a.kind {
	case KindCommand:
		if a.command == "" {
			return fmt.Errorf("%w: empty command", ErrInvalidAction)
		}
	case KindStep:
		if a.step == nil {
			return fmt.Errorf("%w: step %q has no function", ErrInvalidAction, a.name)
		}
	default:
		return fmt.Errorf("%w: kind %s", ErrInvalidAction, a.kind)
	}
	return nil
}
