// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/mitchellh/cli"
)

const version = "0.1.0"

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ui := buildUI()
	log := hclogLevelFromEnv()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, append(ignoreSignals, forwardSignals...)...)
	go func() {
		for sig := range sigCh {
			for _, forward := range forwardSignals {
				if sig == forward {
					os.Exit(1)
				}
			}
			// ignoreSignals members (e.g. os.Interrupt) are swallowed here:
			// subcommands watch ctx cancellation instead of dying on ^C mid
			// evaluation.
		}
	}()

	c := cli.NewCLI("ridgeline", version)
	c.Args = os.Args[1:]
	c.Autocomplete = true
	c.Commands = map[string]cli.CommandFactory{
		"eval": func() (cli.Command, error) {
			return &EvalCommand{meta: newMeta(ui, log)}, nil
		},
		"watch": func() (cli.Command, error) {
			return &WatchCommand{meta: newMeta(ui, log)}, nil
		},
		"idle": func() (cli.Command, error) {
			return &IdleCommand{meta: newMeta(ui, log)}, nil
		},
	}

	status, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return status
}

func hclogLevelFromEnv() string {
	if lvl := os.Getenv("RIDGELINE_LOG"); lvl != "" {
		return lvl
	}
	return "warn"
}
