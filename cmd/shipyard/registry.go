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

	"github.com/AleutianAI/Shipyard/services/deploy"
)

// hostFunc runs a task on one host.
type hostFunc func(ctx context.Context, a *app, host deploy.Host) (deploy.Result, error)

// localFunc runs a task once on this machine.
type localFunc func(ctx context.Context, a *app) (any, error)

// task is a named operation exposed as a subcommand.
//
// Exactly one of onHost and local is set. onHost tasks run against the
// selected hosts in configuration order and stop at the first failure.
// A host with no previous release to roll back to is skipped, not fatal.
type task struct {
	name  string
	short string

	// mutating tasks take the local process lock.
	mutating bool

	// confirm asks before running unless --yes.
	confirm string

	// before runs once before the per-host loop (the update task builds).
	before localFunc

	onHost hostFunc
	local  localFunc
}

// taskRegistry is the explicit set of tasks the CLI exposes.
type taskRegistry struct {
	tasks []task
	index map[string]int
}

var errDuplicateTask = errors.New("task already registered")

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{index: map[string]int{}}
}

// register adds t. Names are unique and a task must have exactly one
// runner.
func (r *taskRegistry) register(t task) error {
	if t.name == "" {
		return errors.New("task has no name")
	}
	if _, ok := r.index[t.name]; ok {
		return fmt.Errorf("%w: %s", errDuplicateTask, t.name)
	}
	if (t.onHost == nil) == (t.local == nil) {
		return fmt.Errorf("task %s must run either per host or locally", t.name)
	}
	r.index[t.name] = len(r.tasks)
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *taskRegistry) mustRegister(t task) {
	if err := r.register(t); err != nil {
		panic(err)
	}
}

// lookup returns the task called name.
func (r *taskRegistry) lookup(name string) (task, bool) {
	i, ok := r.index[name]
	if !ok {
		return task{}, false
	}
	return r.tasks[i], true
}

// names lists task names in registration order.
func (r *taskRegistry) names() []string {
	out := make([]string, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = t.name
	}
	return out
}

// defaultTasks builds the registry of every shipyard task.
func defaultTasks() *taskRegistry {
	r := newTaskRegistry()

	r.mustRegister(task{
		name:     deploy.OpSetup,
		short:    "Create releases/ and shared/ under the base path",
		mutating: true,
		onHost: func(ctx context.Context, a *app, h deploy.Host) (deploy.Result, error) {
			return a.deployer.Setup(ctx, h)
		},
	})
	r.mustRegister(task{
		name:     deploy.OpBuild,
		short:    "Run the local build",
		mutating: true,
		local: func(ctx context.Context, a *app) (any, error) {
			return a.deployer.Build(ctx)
		},
	})
	r.mustRegister(task{
		name:     deploy.OpUpdate,
		short:    "Build, then deploy a new release to each host",
		mutating: true,
		before: func(ctx context.Context, a *app) (any, error) {
			if a.skipBuild {
				return nil, nil
			}
			return a.deployer.Build(ctx)
		},
		onHost: func(ctx context.Context, a *app, h deploy.Host) (deploy.Result, error) {
			return a.deployer.Update(ctx, h)
		},
	})
	r.mustRegister(task{
		name:     deploy.OpFinalize,
		short:    "Point current at the newest release and prune old ones",
		mutating: true,
		onHost: func(ctx context.Context, a *app, h deploy.Host) (deploy.Result, error) {
			return a.deployer.Finalize(ctx, h)
		},
	})
	r.mustRegister(task{
		name:     deploy.OpCleanup,
		short:    "Remove releases beyond the retention count",
		mutating: true,
		onHost: func(ctx context.Context, a *app, h deploy.Host) (deploy.Result, error) {
			return a.deployer.Cleanup(ctx, h)
		},
	})
	r.mustRegister(task{
		name:     deploy.OpRollback,
		short:    "Switch current to the previous release and delete the newest",
		mutating: true,
		confirm:  "Roll back to the previous release? The newest release will be deleted.",
		onHost: func(ctx context.Context, a *app, h deploy.Host) (deploy.Result, error) {
			return a.deployer.Rollback(ctx, h)
		},
	})
	r.mustRegister(task{
		name:  deploy.OpReleases,
		short: "List releases and the current one",
		onHost: func(ctx context.Context, a *app, h deploy.Host) (deploy.Result, error) {
			return a.deployer.Releases(ctx, h)
		},
	})
	r.mustRegister(task{
		name:    deploy.OpUnlock,
		short:   "Remove a stale deploy lock",
		confirm: "Remove the deploy lock? Only do this if no deploy is running.",
		onHost: func(ctx context.Context, a *app, h deploy.Host) (deploy.Result, error) {
			return a.deployer.Unlock(ctx, h)
		},
	})
	r.mustRegister(task{
		name:  "history",
		short: "Show recent operations for this target",
		local: func(ctx context.Context, a *app) (any, error) {
			if a.store == nil {
				return nil, errors.New("history is disabled in the config")
			}
			return a.store.List(ctx, a.cfg.Name, a.limit)
		},
	})
	return r
}
