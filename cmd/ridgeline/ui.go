// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/cli"
	"github.com/mitchellh/colorstring"
)

// buildUI returns a colored cli.Ui when stdout is a real terminal, and a
// plain one otherwise, matching this codebase's convention of never
// emitting ANSI escapes into piped output.
func buildUI() cli.Ui {
	base := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return base
	}
	return &cli.ColoredUi{
		Ui:          base,
		OutputColor: cli.UiColorNone,
		InfoColor:   cli.UiColor{Code: int(color.FgCyan), Bold: false},
		ErrorColor:  cli.UiColor{Code: int(color.FgRed), Bold: true},
		WarnColor:   cli.UiColor{Code: int(color.FgYellow), Bold: false},
	}
}

// banner renders the startup line, colorized with colorstring's inline
// [color] markup rather than fatih/color's builder API, matching how this
// codebase already distinguishes "structured message" coloring (fatih)
// from "short inline label" coloring (colorstring).
func banner(invocationID string) string {
	return colorstring.Color("[bold]ridgeline[reset] [dim](" + invocationID + ")[reset]")
}
