// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/Shipyard/pkg/ux"
	"github.com/AleutianAI/Shipyard/services/release/remote"
	"github.com/AleutianAI/Shipyard/services/release/transaction"
)

// DefaultRetention is the number of releases Cleanup keeps.
const DefaultRetention = 5

// DefaultSharedPaths are linked into every release.
var DefaultSharedPaths = []string{"log", "static"}

var (
	// ErrMissingBasePath is returned when basePath does not exist on the
	// host. Nothing is created in that case.
	ErrMissingBasePath = errors.New("missing base path")

	// ErrNoPreviousRelease is returned by RollbackRelease when fewer than
	// two releases exist. Nothing is changed.
	ErrNoPreviousRelease = errors.New("no previous release found")

	// ErrUnknownRelease is returned when a named release does not exist.
	ErrUnknownRelease = errors.New("unknown release")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("invalid release config")
)

// SymlinkStrategy selects how current is re-pointed.
type SymlinkStrategy string

const (
	// SymlinkReplace removes current and creates a new link. Readers can
	// observe a missing current between the two commands.
	SymlinkReplace SymlinkStrategy = "replace"

	// SymlinkSwap creates a temporary link and renames it over current
	// with "mv -T", which is atomic but needs GNU coreutils on the host.
	SymlinkSwap SymlinkStrategy = "swap"
)

// Config configures a Release.
type Config struct {
	// BasePath is the absolute, pre-provisioned deploy root on the host.
	BasePath string

	// Retention is how many releases Cleanup keeps.
	// Default: 5
	Retention int

	// SharedPaths are paths under shared/ linked into each release.
	// Default: [log static]
	SharedPaths []string

	// SymlinkStrategy selects how current is re-pointed.
	// Default: SymlinkReplace
	SymlinkStrategy SymlinkStrategy

	// Clock supplies the time for new release identifiers.
	// Default: time.Now
	Clock Clock

	// Logger receives structured events. Default: slog.Default()
	Logger *slog.Logger

	// Reporter receives console status lines. Default: ux.Discard
	Reporter ux.Reporter

	// TracingEnabled emits spans for the release transaction.
	TracingEnabled bool
}

// Paths are the derived locations of a release layout.
type Paths struct {
	Base     string
	Releases string
	Current  string
	Shared   string
}

// RollbackResult describes a completed RollbackRelease.
type RollbackResult struct {
	// From is the release that was removed.
	From string

	// To is the release current now points at.
	To string
}

// Release drives the release layout under one base path.
//
// # Description
//
// Release owns a transaction. Operations that create state during a
// deploy register their own undo actions on it; callers can add more with
// OnRollback. The release identifier is generated on first use and kept
// for the lifetime of the Release.
//
// # Thread Safety
//
// Not safe for concurrent use. Build one Release per host per attempt.
type Release struct {
	exec      remote.Executor
	cfg       Config
	paths     Paths
	tx        *transaction.Transaction
	releaseID string
	inScope   bool
	logger    *slog.Logger
	reporter  ux.Reporter
}

// New validates cfg and returns a Release bound to exec.
//
// # Inputs
//
//   - exec: Runs commands on the deploy host.
//   - cfg: Base path and policy. Zero fields take their defaults.
//
// # Outputs
//
//   - *Release: Ready to use. No command has been run yet.
//   - error: ErrInvalidConfig wrapped with the reason.
func New(exec remote.Executor, cfg Config) (*Release, error) {
	if exec == nil {
		return nil, fmt.Errorf("%w: nil executor", ErrInvalidConfig)
	}
	if cfg.BasePath == "" || !path.IsAbs(cfg.BasePath) {
		return nil, fmt.Errorf("%w: base path %q must be absolute", ErrInvalidConfig, cfg.BasePath)
	}
	if cfg.Retention < 0 {
		return nil, fmt.Errorf("%w: retention %d", ErrInvalidConfig, cfg.Retention)
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SharedPaths == nil {
		cfg.SharedPaths = DefaultSharedPaths
	}
	for _, p := range cfg.SharedPaths {
		if p == "" || path.IsAbs(p) || strings.HasPrefix(path.Clean(p), "..") {
			return nil, fmt.Errorf("%w: shared path %q must be relative to shared/", ErrInvalidConfig, p)
		}
	}
	switch cfg.SymlinkStrategy {
	case "":
		cfg.SymlinkStrategy = SymlinkReplace
	case SymlinkReplace, SymlinkSwap:
	default:
		return nil, fmt.Errorf("%w: symlink strategy %q", ErrInvalidConfig, cfg.SymlinkStrategy)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = ux.Discard
	}

	base := path.Clean(cfg.BasePath)
	logger := cfg.Logger.With("component", "release", "host", exec.Host(), "base", base)
	return &Release{
		exec: exec,
		cfg:  cfg,
		paths: Paths{
			Base:     base,
			Releases: path.Join(base, "releases"),
			Current:  path.Join(base, "current"),
			Shared:   path.Join(base, "shared"),
		},
		tx: transaction.New(exec, transaction.Options{
			Logger:         cfg.Logger.With("host", exec.Host()),
			Reporter:       cfg.Reporter,
			TracingEnabled: cfg.TracingEnabled,
		}),
		logger:   logger,
		reporter: cfg.Reporter,
	}, nil
}

// Paths returns the layout paths.
func (r *Release) Paths() Paths { return r.paths }

// Host returns the executor's host name.
func (r *Release) Host() string { return r.exec.Host() }

// Transaction returns the release's undo stack.
func (r *Release) Transaction() *transaction.Transaction { return r.tx }

// OnRollback registers an extra undo action on the release transaction.
func (r *Release) OnRollback(action transaction.Action) error {
	return r.tx.OnRollback(action)
}

// Rollback drains the release transaction now.
func (r *Release) Rollback(ctx context.Context) transaction.RollbackReport {
	return r.tx.Rollback(ctx)
}

// CurrentReleaseID returns the identifier of the release this attempt
// works on, generating it from the clock on first call.
func (r *Release) CurrentReleaseID() string {
	if r.releaseID == "" {
		r.releaseID = GenerateID(r.cfg.Clock())
	}
	return r.releaseID
}

// CurrentReleasePath returns releases/<CurrentReleaseID>.
func (r *Release) CurrentReleasePath() string {
	return path.Join(r.paths.Releases, r.CurrentReleaseID())
}

// ============================================================================
// Setup
// ============================================================================

// Setup prepares the layout and creates a new release directory.
//
// # Description
//
// basePath must already exist; if it does not, ErrMissingBasePath is
// returned before anything is created. releases/ and shared/ (with each
// shared path) are created when missing. Then CreateRelease runs.
func (r *Release) Setup(ctx context.Context) error {
	if err := r.CheckBasePath(ctx); err != nil {
		return err
	}
	return r.setup(ctx)
}

// CheckBasePath fails with ErrMissingBasePath when the base path does not
// exist on the host. Nothing is created.
func (r *Release) CheckBasePath(ctx context.Context) error {
	exists, err := remote.PathExists(ctx, r.exec, r.paths.Base)
	if err != nil {
		return fmt.Errorf("check base path: %w", err)
	}
	if !exists {
		r.reporter.Error("Missing base path.")
		return fmt.Errorf("%w: %s on %s", ErrMissingBasePath, r.paths.Base, r.exec.Host())
	}
	return nil
}

// PrepareLayout creates releases/ and shared/ without creating a release.
// The standalone setup task uses it to provision a fresh host.
func (r *Release) PrepareLayout(ctx context.Context) error {
	if err := r.CheckBasePath(ctx); err != nil {
		return err
	}
	return r.prepareLayout(ctx)
}

func (r *Release) setup(ctx context.Context) error {
	if err := r.prepareLayout(ctx); err != nil {
		return err
	}
	return r.CreateRelease(ctx)
}

func (r *Release) prepareLayout(ctx context.Context) error {
	r.reporter.Success("Setting up release paths.")

	for _, dir := range []string{r.paths.Releases, r.paths.Shared} {
		exists, err := remote.PathExists(ctx, r.exec, dir)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := r.exec.Run(ctx, "mkdir -p "+remote.Quote(dir)); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		r.logger.Info("created directory", slog.String("path", dir))
	}

	if len(r.cfg.SharedPaths) > 0 {
		shared := make([]string, len(r.cfg.SharedPaths))
		for i, p := range r.cfg.SharedPaths {
			shared[i] = path.Join(r.paths.Shared, p)
		}
		if _, err := r.exec.Run(ctx, "mkdir -p "+remote.QuoteAll(shared...)); err != nil {
			return fmt.Errorf("create shared paths: %w", err)
		}
	}
	return nil
}

// CreateRelease creates releases/<id>, registers its removal as an undo
// action, and links the shared paths into it.
//
// # Description
//
// The directory is created without -p, so an existing directory with the
// same identifier fails the call and no undo is registered; a previous
// release is never scheduled for removal.
func (r *Release) CreateRelease(ctx context.Context) error {
	r.reporter.Success("Creating new release path")
	releasePath := r.CurrentReleasePath()

	if _, err := r.exec.Run(ctx, "mkdir "+remote.Quote(releasePath)); err != nil {
		return fmt.Errorf("create release %s: %w", r.CurrentReleaseID(), err)
	}
	if err := r.tx.OnRollbackCommand("rm -rf " + remote.Quote(releasePath)); err != nil {
		return err
	}
	r.logger.Info("release created", slog.String("release", r.CurrentReleaseID()))

	for _, p := range r.cfg.SharedPaths {
		link := path.Join(releasePath, p)
		target, err := filepath.Rel(path.Dir(link), path.Join(r.paths.Shared, p))
		if err != nil {
			return fmt.Errorf("link shared %s: %w", p, err)
		}
		cmd := "ln -s " + remote.QuoteAll(filepath.ToSlash(target), link)
		if dir := path.Dir(link); dir != releasePath {
			cmd = "mkdir -p " + remote.Quote(dir) + " && " + cmd
		}
		if _, err := r.exec.Run(ctx, cmd); err != nil {
			return fmt.Errorf("link shared %s: %w", p, err)
		}
	}
	return nil
}

// UseRelease makes an existing release the one Symlink points current at.
func (r *Release) UseRelease(ctx context.Context, id string) error {
	if !validName(id) {
		return fmt.Errorf("%w: %q", ErrUnknownRelease, id)
	}
	exists, err := remote.PathExists(ctx, r.exec, path.Join(r.paths.Releases, id))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s on %s", ErrUnknownRelease, id, r.exec.Host())
	}
	r.releaseID = id
	return nil
}

// ============================================================================
// Symlink, cleanup, finalize
// ============================================================================

// Symlink points current at the current release.
//
// # Description
//
// The link target is relative ("releases/<id>"). With SymlinkReplace an
// existing current is removed first, then linked. With SymlinkSwap a
// temporary link is renamed over current.
//
// Inside Scope, an undo action restoring the previous target of current
// (or removing current if there was none) is registered before the swap.
func (r *Release) Symlink(ctx context.Context) error {
	target := path.Join("releases", r.CurrentReleaseID())

	if r.inScope {
		if err := r.registerSymlinkUndo(ctx); err != nil {
			return err
		}
	}
	if err := r.pointCurrent(ctx, target); err != nil {
		return fmt.Errorf("symlink current -> %s: %w", target, err)
	}
	r.logger.Info("current updated", slog.String("target", target))
	r.reporter.Info("current -> " + target)
	return nil
}

func (r *Release) pointCurrent(ctx context.Context, target string) error {
	current := r.paths.Current
	switch r.cfg.SymlinkStrategy {
	case SymlinkSwap:
		tmp := current + ".tmp"
		_, err := r.exec.Run(ctx, fmt.Sprintf("ln -sfn %s %s && mv -T %s %s",
			remote.Quote(target), remote.Quote(tmp), remote.Quote(tmp), remote.Quote(current)))
		return err
	default:
		exists, err := remote.PathExists(ctx, r.exec, current)
		if err != nil {
			return err
		}
		if exists {
			if _, err := r.exec.Run(ctx, "rm -f "+remote.Quote(current)); err != nil {
				return err
			}
		}
		_, err = r.exec.Run(ctx, "ln -sfn "+remote.QuoteAll(target, current))
		return err
	}
}

func (r *Release) registerSymlinkUndo(ctx context.Context) error {
	isLink, err := remote.IsSymlink(ctx, r.exec, r.paths.Current)
	if err != nil {
		return err
	}
	if !isLink {
		return r.tx.OnRollbackCommand("rm -f " + remote.Quote(r.paths.Current))
	}
	previous, err := remote.ReadLink(ctx, r.exec, r.paths.Current)
	if err != nil {
		return err
	}
	return r.tx.OnRollbackStep("restore current -> "+previous, func(ctx context.Context) error {
		return r.pointCurrent(ctx, previous)
	})
}

// Releases returns the release names under releases/, oldest first.
func (r *Release) Releases(ctx context.Context) ([]string, error) {
	names, err := remote.ListDirectoryNames(ctx, r.exec, r.paths.Releases)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	SortIDs(names)
	return names, nil
}

// Cleanup removes the oldest releases beyond the retention count.
//
// # Outputs
//
//   - []string: Names removed, oldest first. Empty when retention is not
//     exceeded.
//   - error: The first failed removal; earlier removals stay removed.
func (r *Release) Cleanup(ctx context.Context) ([]string, error) {
	r.reporter.Success("Cleaning up releases.")
	rels, err := r.Releases(ctx)
	if err != nil {
		return nil, err
	}
	if len(rels) <= r.cfg.Retention {
		return nil, nil
	}

	stale := rels[:len(rels)-r.cfg.Retention]
	removed := make([]string, 0, len(stale))
	for _, name := range stale {
		if _, err := r.exec.Run(ctx, "rm -rf "+remote.Quote(path.Join(r.paths.Releases, name))); err != nil {
			recordPruned(ctx, len(removed))
			return removed, fmt.Errorf("remove release %s: %w", name, err)
		}
		removed = append(removed, name)
		r.logger.Info("release pruned", slog.String("release", name))
	}
	recordPruned(ctx, len(removed))
	return removed, nil
}

// Finalize points current at the current release, then prunes old ones.
func (r *Release) Finalize(ctx context.Context) ([]string, error) {
	if err := r.Symlink(ctx); err != nil {
		return nil, err
	}
	return r.Cleanup(ctx)
}

// RollbackRelease points current at the second newest release and deletes
// the newest.
//
// # Description
//
// With fewer than two releases nothing is changed and ErrNoPreviousRelease
// is returned. Otherwise the operation is destructive and registers no
// undo actions. Do not call it inside Scope.
func (r *Release) RollbackRelease(ctx context.Context) (RollbackResult, error) {
	rels, err := r.Releases(ctx)
	if err != nil {
		return RollbackResult{}, err
	}
	if len(rels) < 2 {
		r.reporter.Error("No previous release found!")
		return RollbackResult{}, ErrNoPreviousRelease
	}

	result := RollbackResult{From: rels[len(rels)-1], To: rels[len(rels)-2]}
	r.releaseID = result.To
	r.reporter.Success(fmt.Sprintf("Rolling back release: %s -> %s.", result.From, result.To))

	if err := r.Symlink(ctx); err != nil {
		return result, err
	}
	if _, err := r.exec.Run(ctx, "rm -rf "+remote.Quote(path.Join(r.paths.Releases, result.From))); err != nil {
		return result, fmt.Errorf("remove release %s: %w", result.From, err)
	}
	recordReleaseRollback(ctx)
	r.logger.Info("release rolled back", slog.String("from", result.From), slog.String("to", result.To))
	return result, nil
}
