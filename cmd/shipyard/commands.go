// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Shipyard/pkg/ux"
	"github.com/AleutianAI/Shipyard/services/deploy"
	"github.com/AleutianAI/Shipyard/services/history"
	"github.com/AleutianAI/Shipyard/services/release"
)

// newRootCmd builds the cobra tree: one subcommand per registered task.
func newRootCmd(a *app, reg *taskRegistry) *cobra.Command {
	root := &cobra.Command{
		Use:   "shipyard",
		Short: "Capistrano-style release management over SSH",
		Long: `Shipyard deploys a project into timestamped release directories
under a base path, switches the "current" symlink atomically per host, and
rolls back when anything fails.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default $SHIPYARD_CONFIG or ./shipyard.yaml)")
	flags.StringSliceVar(&a.hosts, "hosts", nil, "only run on these hosts")
	flags.StringSliceVar(&a.roles, "roles", nil, "only run on hosts with these roles")
	flags.BoolVar(&a.jsonOut, "json", false, "print a JSON result envelope on stdout")
	flags.BoolVarP(&a.yes, "yes", "y", false, "do not ask for confirmation")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")
	flags.StringVar(&a.personality, "personality", "", "output style: full, standard, minimal, machine")

	for _, name := range reg.names() {
		t, _ := reg.lookup(name)
		cmd := &cobra.Command{
			Use:   t.name,
			Short: t.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a.exitCode = a.runTask(cmd.Context(), t)
				return nil
			},
		}
		switch t.name {
		case deploy.OpUpdate:
			cmd.Flags().BoolVar(&a.skipBuild, "skip-build", false, "deploy the existing build")
		case "history":
			cmd.Flags().IntVar(&a.limit, "limit", a.limit, "number of entries, 0 for all")
		}
		root.AddCommand(cmd)
	}
	return root
}

// runTask executes t and writes its output. It returns the exit code.
func (a *app) runTask(ctx context.Context, t task) int {
	start := time.Now()
	data, err := a.executeTask(ctx, t)
	if !a.jsonOut {
		a.render(data)
	}
	cfg := OutputConfig{JSON: a.jsonOut, Warnings: a.warningLines()}
	return OutputResult(a.stdout, a.stderr, cfg, t.name, start, data, err)
}

func (a *app) executeTask(ctx context.Context, t task) (any, error) {
	var hosts []deploy.Host
	if t.onHost != nil {
		var err error
		if hosts, err = a.selectedHosts(); err != nil {
			return nil, err
		}
	}

	if t.confirm != "" {
		if err := ux.Confirm(t.confirm, "Hosts: "+hostNames(hosts), a.yes); err != nil {
			return nil, err
		}
	}

	if t.mutating {
		unlock, err := a.lockLocal()
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	if t.local != nil {
		return t.local(ctx, a)
	}

	if t.before != nil {
		if _, err := t.before(ctx, a); err != nil {
			return nil, err
		}
	}

	// A host with nothing to roll back does not stop the others; the
	// run still ends with that outcome.
	var noops []error
	results := make([]deploy.Result, 0, len(hosts))
	for _, h := range hosts {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		a.console.Title(fmt.Sprintf("%s %s on %s", ux.IconShip, t.name, h.Name))
		r, err := t.onHost(ctx, a, h)
		results = append(results, r)
		switch {
		case errors.Is(err, release.ErrNoPreviousRelease):
			a.console.Warning(err.Error())
			noops = append(noops, err)
		case err != nil:
			return results, err
		}
	}
	return results, errors.Join(noops...)
}

func hostNames(hosts []deploy.Host) string {
	if len(hosts) == 0 {
		return "-"
	}
	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = h.Name
	}
	return strings.Join(names, ", ")
}

// render prints the human summary of a task's data.
func (a *app) render(data any) {
	switch v := data.(type) {
	case []deploy.Result:
		for _, r := range v {
			a.renderResult(r)
		}
	case []history.Entry:
		a.renderHistory(v)
	}
}

func (a *app) renderResult(r deploy.Result) {
	switch r.Operation {
	case deploy.OpUpdate:
		if r.ReleaseID != "" {
			a.console.Info(fmt.Sprintf("%s: release %s (%s)", r.Host, r.ReleaseID, r.Duration.Round(time.Millisecond)))
		}
	case deploy.OpReleases:
		if len(r.Releases) == 0 {
			a.console.Info(r.Host + ": no releases")
		}
		for _, id := range r.Releases {
			marker := "  "
			if id == r.Current {
				marker = string(ux.IconArrow) + " "
			}
			a.console.Info(fmt.Sprintf("%s: %s%s", r.Host, marker, id))
		}
		if r.Lock != nil {
			a.console.Warning(fmt.Sprintf("%s: locked by %s", r.Host, r.Lock))
		}
	case deploy.OpCleanup, deploy.OpFinalize:
		for _, id := range r.Removed {
			a.console.Info(fmt.Sprintf("%s: removed %s", r.Host, id))
		}
	case deploy.OpRollback:
		if r.Rollback != nil {
			a.console.Success(fmt.Sprintf("%s: current -> %s (removed %s)", r.Host, r.Rollback.To, r.Rollback.From))
		}
	}
}

func (a *app) renderHistory(entries []history.Entry) {
	if len(entries) == 0 {
		a.console.Info("No history.")
		return
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-8s %-9s %-7s %s",
			e.StartedAt.Local().Format(time.DateTime), e.Host, e.Operation, e.Status, e.ReleaseID)
		if e.Error != "" {
			line += "  " + e.Error
		}
		a.console.Info(strings.TrimRight(line, " "))
	}
}
