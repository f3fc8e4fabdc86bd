// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned by Confirm when no terminal is attached
// and the caller did not pre-approve the action.
var ErrNotInteractive = errors.New("confirmation required but terminal is not interactive (use --yes)")

// ErrDeclined is returned by Confirm when the user answers no or aborts.
var ErrDeclined = errors.New("operation cancelled")

// Confirm asks a yes/no question before a destructive operation.
//
// # Description
//
// Returns nil immediately when assumeYes is true. Otherwise a huh confirm
// form is shown; a non-interactive session yields ErrNotInteractive so CI
// jobs never hang on a prompt.
//
// # Inputs
//
//   - title: Question shown to the user.
//   - description: Extra context (e.g. which releases are affected).
//   - assumeYes: Skip the prompt (the --yes flag).
//
// # Outputs
//
//   - error: nil when confirmed, ErrDeclined, ErrNotInteractive or a
//     form error.
func Confirm(title, description string, assumeYes bool) error {
	if assumeYes {
		return nil
	}
	if !IsInteractive() {
		return ErrNotInteractive
	}

	confirmed := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrDeclined
		}
		return err
	}
	if !confirmed {
		return ErrDeclined
	}
	return nil
}
