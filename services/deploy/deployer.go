// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Shipyard/pkg/ux"
	"github.com/AleutianAI/Shipyard/services/history"
	"github.com/AleutianAI/Shipyard/services/release"
	"github.com/AleutianAI/Shipyard/services/release/lock"
	"github.com/AleutianAI/Shipyard/services/release/remote"
)

// ErrNoReleases is returned by Finalize when the host has no release to
// point current at.
var ErrNoReleases = errors.New("no releases on host")

// Operation names, as recorded in history.
const (
	OpBuild    = "build"
	OpSetup    = "setup"
	OpUpdate   = "update"
	OpFinalize = "finalize"
	OpCleanup  = "cleanup"
	OpRollback = "rollback"
	OpReleases = "releases"
	OpUnlock   = "unlock"
)

// Host is one deploy destination.
type Host struct {
	Name    string
	Address string
	Roles   []string
}

// Options configures a Deployer.
type Options struct {
	// Target is the project being deployed. Required.
	Target Target

	// Release holds the layout policy applied on every host. Logger and
	// Reporter are filled from the Deployer when unset.
	Release release.Config

	// Connector opens executors for hosts. Required.
	Connector remote.Connector

	// Recorder journals each mutating operation. Default: history.Discard
	Recorder history.Recorder

	// Lock takes the remote deploy lock around mutating operations.
	Lock bool

	// Logger. Default: slog.Default()
	Logger *slog.Logger

	// Reporter. Default: ux.Discard
	Reporter ux.Reporter
}

// Result describes one finished operation on one host.
type Result struct {
	Operation string        `json:"operation"`
	Host      string        `json:"host"`
	AttemptID string        `json:"attempt_id"`
	ReleaseID string        `json:"release_id,omitempty"`
	Removed   []string      `json:"removed,omitempty"`
	Releases  []string      `json:"releases,omitempty"`
	Current   string        `json:"current,omitempty"`
	Rollback  *RollbackInfo `json:"rollback,omitempty"`
	Lock      *lock.Info    `json:"lock,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// RollbackInfo is the release pair of a rollback.
type RollbackInfo struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Deployer runs the deploy tasks against hosts.
//
// # Description
//
// Every per-host operation opens its own executor and builds a fresh
// Release, so each attempt gets its own identifier and undo stack.
// Mutating operations take the remote lock when enabled and are recorded
// in history whether they succeed or not.
//
// # Thread Safety
//
// Operations may run concurrently on different hosts. Running two
// operations on the same host at once is only safe with Lock enabled.
type Deployer struct {
	opts     Options
	target   Target
	logger   *slog.Logger
	reporter ux.Reporter
}

// New validates opts and returns a Deployer.
//
// # Outputs
//
//   - *Deployer: Ready to use.
//   - error: ErrCapabilityMismatch if the target does not implement what
//     it declares, or a configuration error.
func New(opts Options) (*Deployer, error) {
	if opts.Target == nil {
		return nil, errors.New("deploy: target is required")
	}
	if opts.Connector == nil {
		return nil, errors.New("deploy: connector is required")
	}
	if err := CheckCapabilities(opts.Target); err != nil {
		return nil, err
	}
	if opts.Recorder == nil {
		opts.Recorder = history.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Reporter == nil {
		opts.Reporter = ux.Discard
	}
	if opts.Release.Logger == nil {
		opts.Release.Logger = opts.Logger
	}
	if opts.Release.Reporter == nil {
		opts.Release.Reporter = opts.Reporter
	}
	return &Deployer{
		opts:     opts,
		target:   opts.Target,
		logger:   opts.Logger.With("component", "deploy", "target", opts.Target.Name()),
		reporter: opts.Reporter,
	}, nil
}

// Target returns the deployed target.
func (d *Deployer) Target() Target { return d.target }

// ============================================================================
// Local
// ============================================================================

// Build runs the target's local build, once, before any host is touched.
func (d *Deployer) Build(ctx context.Context) (Result, error) {
	start := time.Now()
	result := Result{Operation: OpBuild, Host: remote.LocalAddress, AttemptID: uuid.NewString()}

	var err error
	if builder, ok := d.target.(Builder); ok && d.target.Capabilities().Has(CapBuild) {
		d.reporter.Info("Building " + d.target.Name())
		err = builder.Build(ctx)
	} else {
		d.reporter.Info("Nothing to build.")
	}

	result.Duration = time.Since(start)
	d.record(ctx, start, result, err)
	if err != nil {
		return result, fmt.Errorf("build %s: %w", d.target.Name(), err)
	}
	d.logger.Info("build finished", slog.Duration("duration", result.Duration))
	return result, nil
}

// ============================================================================
// Per host
// ============================================================================

type hostOp func(ctx context.Context, hc HostContext, result *Result) error

// onHost connects, builds the Release, takes the lock when asked and
// runs fn. The executor is closed and the lock released on every path.
func (d *Deployer) onHost(ctx context.Context, host Host, op string, locked bool, fn hostOp) (Result, error) {
	start := time.Now()
	result := Result{Operation: op, Host: host.Name, AttemptID: uuid.NewString()}
	logger := d.logger.With("host", host.Name, "op", op, "attempt", result.AttemptID)

	err := d.runOnHost(ctx, host, locked, logger, &result, fn)

	result.Duration = time.Since(start)
	if op != OpReleases {
		d.record(ctx, start, result, err)
	}
	switch {
	case errors.Is(err, release.ErrNoPreviousRelease):
		logger.Info("nothing to do", slog.String("reason", err.Error()))
		return result, fmt.Errorf("%s on %s: %w", op, host.Name, err)
	case err != nil:
		logger.Error("operation failed", slog.String("error", err.Error()))
		return result, fmt.Errorf("%s on %s: %w", op, host.Name, err)
	}
	logger.Info("operation finished", slog.Duration("duration", result.Duration))
	return result, nil
}

func (d *Deployer) runOnHost(ctx context.Context, host Host, locked bool, logger *slog.Logger, result *Result, fn hostOp) (err error) {
	exec, err := d.opts.Connector.Connect(ctx, host.Name, host.Address)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if cerr := remote.CloseExecutor(exec); cerr != nil {
			logger.Warn("close connection failed", slog.String("error", cerr.Error()))
		}
	}()

	relCfg := d.opts.Release
	relCfg.Logger = relCfg.Logger.With("attempt", result.AttemptID)
	rel, err := release.New(exec, relCfg)
	if err != nil {
		return err
	}

	if locked && d.opts.Lock {
		// The lock lives under the base path.
		if err := rel.CheckBasePath(ctx); err != nil {
			return err
		}
		l := lock.New(exec, rel.Paths().Base, logger)
		if err := l.Acquire(ctx); err != nil {
			return err
		}
		defer func() {
			if rerr := l.Release(context.WithoutCancel(ctx)); rerr != nil {
				logger.Warn("release lock failed", slog.String("error", rerr.Error()))
				d.reporter.Warning(fmt.Sprintf("Could not release deploy lock on %s: %v", host.Name, rerr))
			}
		}()
	}

	return fn(ctx, HostContext{Host: host, Exec: exec, Release: rel}, result)
}

func (d *Deployer) record(ctx context.Context, start time.Time, result Result, err error) {
	entry := history.Entry{
		ID:        result.AttemptID,
		Target:    d.target.Name(),
		Host:      result.Host,
		Operation: result.Operation,
		ReleaseID: result.ReleaseID,
		Status:    history.StatusSuccess,
		StartedAt: start,
		Duration:  result.Duration,
	}
	switch {
	case errors.Is(err, release.ErrNoPreviousRelease):
		entry.Status = history.StatusNoop
		entry.Error = err.Error()
	case err != nil:
		entry.Status = history.StatusFailed
		entry.Error = err.Error()
	}
	if rerr := d.opts.Recorder.Record(context.WithoutCancel(ctx), entry); rerr != nil {
		d.logger.Warn("history record failed", slog.String("error", rerr.Error()))
	}
}

// Setup provisions releases/ and shared/ on host without creating a
// release.
func (d *Deployer) Setup(ctx context.Context, host Host) (Result, error) {
	return d.onHost(ctx, host, OpSetup, true, func(ctx context.Context, hc HostContext, _ *Result) error {
		return hc.Release.PrepareLayout(ctx)
	})
}

// Update deploys a new release to host.
//
// # Description
//
// Runs a release scope: setup and a new release directory, then the
// target's Prepare, then Sync followed by the Finalize hook when Sync is
// declared, then the switch of current and cleanup. Any failure unwinds
// the release and is returned.
func (d *Deployer) Update(ctx context.Context, host Host) (Result, error) {
	return d.onHost(ctx, host, OpUpdate, true, func(ctx context.Context, hc HostContext, result *Result) error {
		result.ReleaseID = hc.Release.CurrentReleaseID()
		return hc.Release.Scope(ctx, func(ctx context.Context) error {
			return d.runHooks(ctx, hc)
		})
	})
}

func (d *Deployer) runHooks(ctx context.Context, hc HostContext) error {
	caps := d.target.Capabilities()
	if caps.Has(CapPrepare) {
		if err := d.target.(Preparer).Prepare(ctx, hc); err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
	}
	if !caps.Has(CapSync) {
		return nil
	}
	if err := d.target.(Syncer).Sync(ctx, hc); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if caps.Has(CapFinalize) {
		if err := d.target.(Finalizer).Finalize(ctx, hc); err != nil {
			return fmt.Errorf("finalize: %w", err)
		}
	}
	return nil
}

// Finalize points current at the newest existing release and prunes.
func (d *Deployer) Finalize(ctx context.Context, host Host) (Result, error) {
	return d.onHost(ctx, host, OpFinalize, true, func(ctx context.Context, hc HostContext, result *Result) error {
		rels, err := hc.Release.Releases(ctx)
		if err != nil {
			return err
		}
		if len(rels) == 0 {
			return ErrNoReleases
		}
		newest := rels[len(rels)-1]
		if err := hc.Release.UseRelease(ctx, newest); err != nil {
			return err
		}
		result.ReleaseID = newest
		removed, err := hc.Release.Finalize(ctx)
		result.Removed = removed
		return err
	})
}

// Cleanup prunes releases beyond the retention count.
func (d *Deployer) Cleanup(ctx context.Context, host Host) (Result, error) {
	return d.onHost(ctx, host, OpCleanup, true, func(ctx context.Context, hc HostContext, result *Result) error {
		removed, err := hc.Release.Cleanup(ctx)
		result.Removed = removed
		return err
	})
}

// Rollback points current at the previous release and deletes the newest.
// release.ErrNoPreviousRelease is returned, wrapped, when there is
// nothing to roll back to.
func (d *Deployer) Rollback(ctx context.Context, host Host) (Result, error) {
	return d.onHost(ctx, host, OpRollback, true, func(ctx context.Context, hc HostContext, result *Result) error {
		rb, err := hc.Release.RollbackRelease(ctx)
		if rb.From != "" {
			result.Rollback = &RollbackInfo{From: rb.From, To: rb.To}
			result.ReleaseID = rb.To
		}
		return err
	})
}

// Releases lists the releases on host and what current points at. It is
// read-only and not recorded.
func (d *Deployer) Releases(ctx context.Context, host Host) (Result, error) {
	return d.onHost(ctx, host, OpReleases, false, func(ctx context.Context, hc HostContext, result *Result) error {
		rels, err := hc.Release.Releases(ctx)
		if err != nil {
			return err
		}
		result.Releases = rels

		current := hc.Release.Paths().Current
		isLink, err := remote.IsSymlink(ctx, hc.Exec, current)
		if err != nil {
			return err
		}
		if isLink {
			target, err := remote.ReadLink(ctx, hc.Exec, current)
			if err != nil {
				return err
			}
			result.Current = path.Base(target)
		}

		info, held, err := lock.Read(ctx, hc.Exec, hc.Release.Paths().Base)
		if err != nil {
			return err
		}
		if held {
			result.Lock = &info
		}
		return nil
	})
}

// Unlock removes the remote deploy lock regardless of its owner.
func (d *Deployer) Unlock(ctx context.Context, host Host) (Result, error) {
	return d.onHost(ctx, host, OpUnlock, false, func(ctx context.Context, hc HostContext, result *Result) error {
		info, held, err := lock.Read(ctx, hc.Exec, hc.Release.Paths().Base)
		if err != nil {
			return err
		}
		if !held {
			d.reporter.Info("No deploy lock on " + hc.Host.Name + ".")
			return nil
		}
		result.Lock = &info
		if err := lock.Break(ctx, hc.Exec, hc.Release.Paths().Base); err != nil {
			return err
		}
		d.reporter.Warning(fmt.Sprintf("Removed deploy lock on %s held by %s.", hc.Host.Name, info))
		return nil
	})
}
