// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		in   string
		want PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"F", PersonalityFull},
		{"std", PersonalityStandard},
		{"minimal", PersonalityMinimal},
		{"quiet", PersonalityMachine},
		{"machine", PersonalityMachine},
		{"whatever", PersonalityStandard},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePersonalityLevel(tt.in))
		})
	}
}

func TestInitPersonality_EnvOverride(t *testing.T) {
	prev := GetPersonalityLevel()
	t.Cleanup(func() { SetPersonalityLevel(prev) })

	t.Setenv(PersonalityEnv, "minimal")
	InitPersonality()
	assert.Equal(t, PersonalityMinimal, GetPersonalityLevel())
}

func TestIsInteractive_FalseInMachineMode(t *testing.T) {
	prev := GetPersonalityLevel()
	t.Cleanup(func() { SetPersonalityLevel(prev) })

	SetPersonalityLevel(PersonalityMachine)
	assert.False(t, IsInteractive())
}
