// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the Shipyard CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Shipyard palette - harbor teals
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconShip    Icon = "⛵"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Reporter receives human-readable status lines. Reporting is purely
// observational; nothing a Reporter does changes deploy behavior.
type Reporter interface {
	Success(text string)
	Warning(text string)
	Error(text string)
	Info(text string)
}

// Console is a Reporter writing styled lines according to the active
// personality level. Success and Info go to Out; in machine mode Warning
// and Error go to Err so scripts can separate them.
type Console struct {
	Out io.Writer
	Err io.Writer
	mu  sync.Mutex
}

// NewConsole returns a Console on stdout/stderr.
func NewConsole() *Console {
	return &Console{Out: os.Stdout, Err: os.Stderr}
}

// Title prints a styled title. Titles are dropped below full personality.
func (c *Console) Title(text string) {
	if GetPersonalityLevel() != PersonalityFull {
		return
	}
	c.println(c.Out, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (c *Console) Success(text string) {
	switch GetPersonalityLevel() {
	case PersonalityMachine:
		c.println(c.Out, "OK: "+text)
	case PersonalityMinimal:
		c.println(c.Out, IconSuccess.Render()+" "+text)
	default:
		c.println(c.Out, IconSuccess.Render()+" "+Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (c *Console) Warning(text string) {
	switch GetPersonalityLevel() {
	case PersonalityMachine:
		c.println(c.Err, "WARN: "+text)
	case PersonalityMinimal:
		c.println(c.Out, IconWarning.Render()+" "+text)
	default:
		c.println(c.Out, IconWarning.Render()+" "+Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (c *Console) Error(text string) {
	switch GetPersonalityLevel() {
	case PersonalityMachine:
		c.println(c.Err, "ERROR: "+text)
	case PersonalityMinimal:
		c.println(c.Out, IconError.Render()+" "+text)
	default:
		c.println(c.Out, IconError.Render()+" "+Styles.Error.Render(text))
	}
}

// Info prints an informational message
func (c *Console) Info(text string) {
	if GetPersonalityLevel() == PersonalityMachine {
		c.println(c.Out, text)
		return
	}
	c.println(c.Out, Styles.Muted.Render("│")+" "+text)
}

func (c *Console) println(w io.Writer, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(w, line)
}

// Discard is a Reporter that drops every line.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Success(string) {}
func (discard) Warning(string) {}
func (discard) Error(string)   {}
func (discard) Info(string)    {}

var _ Reporter = (*Console)(nil)
