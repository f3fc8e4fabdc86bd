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
	"fmt"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"

	"github.com/AleutianAI/Shipyard/services/release/remote"
)

// ============================================================================
// None
// ============================================================================

// NoneTarget declares no capabilities. Update only creates the release
// directory with its shared links and switches current.
type NoneTarget struct {
	name string
}

// NewNoneTarget returns a NoneTarget.
func NewNoneTarget(name string) *NoneTarget { return &NoneTarget{name: name} }

// Name returns the project name.
func (t *NoneTarget) Name() string { return t.name }

// Capabilities returns 0.
func (t *NoneTarget) Capabilities() Capability { return 0 }

// ============================================================================
// Git index
// ============================================================================

// GitIndexOptions configures a GitIndexTarget.
type GitIndexOptions struct {
	// Name is the project name.
	Name string

	// SourceDir is the git working tree to export. Default: "."
	SourceDir string

	// BuildPath is the local export directory. Default: "build"
	BuildPath string

	// Upload rsyncs the build to <base>/cache/ on each host before the
	// release is filled. When false, cache/ must already be populated.
	Upload bool

	// RsyncArgs are extra arguments for the upload.
	RsyncArgs []string

	// SSHUser and SSHKeyFile are used by the rsync ssh transport.
	SSHUser    string
	SSHKeyFile string

	// Process runs git and rsync. Default: DefaultProcessManager
	Process ProcessManager

	// Logger. Default: slog.Default()
	Logger *slog.Logger
}

// GitIndexTarget exports the git index into a build directory and syncs
// it into each release through a per-host cache.
//
// # Description
//
// Build runs "git checkout-index --prefix=<build>/ -a -f" in SourceDir.
// Sync uploads the build to <base>/cache/ with
// "rsync -az -c --delete" over ssh, then copies cache/ into the new
// release on the host with "rsync -lrp". Any failure propagates and
// unwinds the release.
type GitIndexTarget struct {
	opts   GitIndexOptions
	logger *slog.Logger
}

// NewGitIndexTarget applies defaults and returns the target.
func NewGitIndexTarget(opts GitIndexOptions) *GitIndexTarget {
	if opts.SourceDir == "" {
		opts.SourceDir = "."
	}
	if opts.BuildPath == "" {
		opts.BuildPath = "build"
	}
	if opts.Process == nil {
		opts.Process = NewDefaultProcessManager()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &GitIndexTarget{
		opts:   opts,
		logger: opts.Logger.With("component", "git-index", "target", opts.Name),
	}
}

// Name returns the project name.
func (t *GitIndexTarget) Name() string { return t.opts.Name }

// Capabilities returns CapBuild|CapSync.
func (t *GitIndexTarget) Capabilities() Capability { return CapBuild | CapSync }

// Build exports the git index into BuildPath.
func (t *GitIndexTarget) Build(ctx context.Context) error {
	if _, err := t.opts.Process.LookPath("git"); err != nil {
		return fmt.Errorf("git not found: %w", err)
	}
	buildDir, err := filepath.Abs(t.opts.BuildPath)
	if err != nil {
		return fmt.Errorf("resolve build path: %w", err)
	}
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return fmt.Errorf("create build path: %w", err)
	}

	if _, err := t.opts.Process.Run(ctx, "git", "-C", t.opts.SourceDir,
		"checkout-index", "--prefix="+buildDir+"/", "-a", "-f"); err != nil {
		return fmt.Errorf("export git index: %w", err)
	}
	t.logger.Info("git index exported", slog.String("build", buildDir))
	return nil
}

// Sync fills the release directory from the build.
func (t *GitIndexTarget) Sync(ctx context.Context, hc HostContext) error {
	paths := hc.Release.Paths()
	cache := path.Join(paths.Base, "cache")

	if t.opts.Upload {
		if err := t.upload(ctx, hc, cache); err != nil {
			return err
		}
	}

	cmd := "rsync -lrp " + remote.QuoteAll(cache+"/", hc.Release.CurrentReleasePath()+"/")
	if _, err := hc.Exec.Run(ctx, cmd); err != nil {
		return fmt.Errorf("copy cache into release: %w", err)
	}
	t.logger.Info("release synced",
		slog.String("host", hc.Host.Name),
		slog.String("release", hc.Release.CurrentReleaseID()),
	)
	return nil
}

func (t *GitIndexTarget) upload(ctx context.Context, hc HostContext, cache string) error {
	if _, err := t.opts.Process.LookPath("rsync"); err != nil {
		return fmt.Errorf("rsync not found: %w", err)
	}
	if _, err := hc.Exec.Run(ctx, "mkdir -p "+remote.Quote(cache)); err != nil {
		return fmt.Errorf("create cache: %w", err)
	}

	buildDir, err := filepath.Abs(t.opts.BuildPath)
	if err != nil {
		return fmt.Errorf("resolve build path: %w", err)
	}

	args := []string{"-az", "-c", "--delete"}
	args = append(args, t.opts.RsyncArgs...)
	dest, transport := t.rsyncDestination(hc.Host.Address, cache)
	if transport != "" {
		args = append(args, "-e", transport)
	}
	args = append(args, buildDir+"/", dest)

	if _, err := t.opts.Process.Run(ctx, "rsync", args...); err != nil {
		return fmt.Errorf("upload to %s: %w", hc.Host.Name, err)
	}
	t.logger.Info("build uploaded", slog.String("host", hc.Host.Name), slog.String("dest", dest))
	return nil
}

// rsyncDestination returns the rsync destination for cache on address
// and the ssh command to use, if any.
func (t *GitIndexTarget) rsyncDestination(address, cache string) (string, string) {
	if address == remote.LocalAddress {
		return cache + "/", ""
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host, port = address, ""
	}
	if t.opts.SSHUser != "" {
		host = t.opts.SSHUser + "@" + host
	}

	transport := ""
	if port != "" && port != remote.DefaultSSHPort {
		transport = "ssh -p " + port
	}
	if t.opts.SSHKeyFile != "" {
		if transport == "" {
			transport = "ssh"
		}
		transport += " -i " + remote.Quote(t.opts.SSHKeyFile)
	}
	return host + ":" + cache + "/", transport
}

var (
	_ Target  = (*NoneTarget)(nil)
	_ Target  = (*GitIndexTarget)(nil)
	_ Builder = (*GitIndexTarget)(nil)
	_ Syncer  = (*GitIndexTarget)(nil)
)
