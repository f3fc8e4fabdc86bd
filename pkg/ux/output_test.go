// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withLevel(t *testing.T, level PersonalityLevel) {
	t.Helper()
	prev := GetPersonalityLevel()
	SetPersonalityLevel(level)
	t.Cleanup(func() { SetPersonalityLevel(prev) })
}

func TestConsole_MachineMode(t *testing.T) {
	withLevel(t, PersonalityMachine)

	var out, errOut bytes.Buffer
	c := &Console{Out: &out, Err: &errOut}

	c.Title("Deploying webapp")
	c.Success("Release successful.")
	c.Info("web1: 2024-01-05.43200")
	c.Warning("cleanup failed")
	c.Error("Transaction failed.")

	assert.Equal(t, "OK: Release successful.\nweb1: 2024-01-05.43200\n", out.String())
	assert.Equal(t, "WARN: cleanup failed\nERROR: Transaction failed.\n", errOut.String())
}

func TestConsole_MinimalModeUsesIcons(t *testing.T) {
	withLevel(t, PersonalityMinimal)

	var out bytes.Buffer
	c := &Console{Out: &out, Err: &out}
	c.Success("done")
	c.Warning("careful")
	c.Error("broken")

	assert.Contains(t, out.String(), "done")
	assert.Contains(t, out.String(), "careful")
	assert.Contains(t, out.String(), "broken")
	assert.Contains(t, out.String(), string(IconSuccess))
}

func TestConsole_TitleOnlyInFullMode(t *testing.T) {
	var out bytes.Buffer
	c := &Console{Out: &out, Err: &out}

	withLevel(t, PersonalityStandard)
	c.Title("hidden")
	assert.Empty(t, out.String())

	SetPersonalityLevel(PersonalityFull)
	c.Title("shown")
	assert.Contains(t, out.String(), "shown")
}

func TestDiscardReporter(t *testing.T) {
	// Must not panic.
	Discard.Success("x")
	Discard.Warning("x")
	Discard.Error("x")
	Discard.Info("x")
}

func TestConfirm_AssumeYes(t *testing.T) {
	assert.NoError(t, Confirm("Roll back?", "", true))
}

func TestConfirm_NonInteractiveRefuses(t *testing.T) {
	withLevel(t, PersonalityMachine)
	assert.ErrorIs(t, Confirm("Roll back?", "", false), ErrNotInteractive)
}
