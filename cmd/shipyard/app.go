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
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/Shipyard/cmd/shipyard/config"
	"github.com/AleutianAI/Shipyard/pkg/logging"
	"github.com/AleutianAI/Shipyard/pkg/proclock"
	"github.com/AleutianAI/Shipyard/pkg/telemetry"
	"github.com/AleutianAI/Shipyard/pkg/ux"
	"github.com/AleutianAI/Shipyard/services/deploy"
	"github.com/AleutianAI/Shipyard/services/history"
	"github.com/AleutianAI/Shipyard/services/release"
	"github.com/AleutianAI/Shipyard/services/release/remote"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// app holds the flags and the collaborators built from the config for one
// CLI invocation.
type app struct {
	// flags
	configPath  string
	hosts       []string
	roles       []string
	jsonOut     bool
	yes         bool
	verbose     bool
	personality string
	skipBuild   bool
	limit       int

	stdout io.Writer
	stderr io.Writer

	// Overrides for tests. Nil means the production implementation.
	connector       remote.Connector
	process         deploy.ProcessManager
	historyInMemory bool
	clock           release.Clock

	cfg      *config.Config
	logger   *logging.Logger
	warnings *logging.BufferedExporter
	console  *ux.Console
	store    *history.Store
	deployer *deploy.Deployer
	shutdown func(context.Context) error
	exitCode int
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, limit: 20}
}

// init loads the config and builds every collaborator. Called from the
// root command's PersistentPreRunE.
func (a *app) init(ctx context.Context) error {
	if a.personality != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(a.personality))
	} else {
		ux.InitPersonality()
	}
	a.console = &ux.Console{Out: a.stdout, Err: a.stderr}
	if a.jsonOut {
		a.console = &ux.Console{Out: a.stderr, Err: a.stderr}
	}

	cfg, err := config.Load(config.ResolvePath(a.configPath))
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := logging.LevelWarn
	if a.verbose || cfg.Log.Dir != "" {
		level = logging.ParseLevel(cfg.Log.Level)
	}
	if a.verbose && level > logging.LevelInfo {
		level = logging.LevelInfo
	}
	a.warnings = logging.NewBufferedExporter()
	a.logger = logging.New(logging.Config{
		Level:    level,
		LogDir:   cfg.Log.Dir,
		Service:  "shipyard",
		JSON:     cfg.Log.JSON,
		Quiet:    !a.verbose && cfg.Log.Dir != "",
		Exporter: a.warnings,
	})
	slog.SetDefault(a.logger.Slog())

	a.shutdown, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "shipyard",
		ServiceVersion: Version,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		Writer:         a.stderr,
	})
	if err != nil {
		return err
	}

	recorder := history.Discard
	if cfg.History.Enabled {
		a.store, err = history.Open(history.Config{
			Path:     cfg.History.Path,
			InMemory: a.historyInMemory,
			Logger:   a.logger.Slog(),
		})
		if err != nil {
			return err
		}
		recorder = a.store
	}

	connector := a.connector
	if connector == nil {
		connector = &remote.Dialer{
			SSH: remote.SSHOptions{
				User:                  cfg.SSH.User,
				KeyFile:               cfg.SSH.KeyFile,
				KnownHosts:            knownHostsFiles(cfg.SSH.KnownHosts),
				InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
				UseAgent:              cfg.SSH.UseAgent,
				Timeout:               cfg.SSH.Timeout,
				DialRetries:           cfg.SSH.DialRetries,
			},
			Logger: a.logger.Slog(),
		}
	}

	a.deployer, err = deploy.New(deploy.Options{
		Target: a.buildTarget(),
		Release: release.Config{
			BasePath:        cfg.BasePath,
			Retention:       cfg.Retention,
			SharedPaths:     cfg.SharedPaths,
			SymlinkStrategy: release.SymlinkStrategy(cfg.SymlinkStrategy),
			Clock:           a.clock,
			TracingEnabled:  cfg.Telemetry.TraceExporter != "none",
		},
		Connector: connector,
		Recorder:  recorder,
		Lock:      cfg.Lock.Enabled,
		Logger:    a.logger.Slog(),
		Reporter:  a.console,
	})
	return err
}

func knownHostsFiles(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path}
}

func (a *app) buildTarget() deploy.Target {
	if a.cfg.Build.Strategy != "git-index" {
		return deploy.NewNoneTarget(a.cfg.Name)
	}
	return deploy.NewGitIndexTarget(deploy.GitIndexOptions{
		Name:       a.cfg.Name,
		SourceDir:  a.cfg.Build.SourceDir,
		BuildPath:  a.cfg.Build.Path,
		Upload:     a.cfg.Build.Rsync,
		RsyncArgs:  a.cfg.Build.RsyncArgs,
		SSHUser:    a.cfg.SSH.User,
		SSHKeyFile: a.cfg.SSH.KeyFile,
		Process:    a.process,
		Logger:     a.logger.Slog(),
	})
}

// close flushes telemetry and closes the stores. Errors are logged; the
// task outcome decides the exit code.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.cfg != nil && a.cfg.Telemetry.MetricsTextfile != "" {
		if err := telemetry.WriteTextfile(a.cfg.Telemetry.MetricsTextfile); err != nil {
			a.logWarn("metrics textfile not written", err)
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logWarn("telemetry shutdown failed", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logWarn("history close failed", err)
		}
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func (a *app) logWarn(msg string, err error) {
	if a.logger != nil {
		a.logger.Slog().Warn(msg, "error", err.Error())
	}
}

// warningLines returns the Warn records logged so far in this run.
func (a *app) warningLines() []string {
	if a.warnings == nil {
		return nil
	}
	return a.warnings.Lines(logging.LevelWarn)
}

// selectedHosts resolves --hosts/--roles against the config.
func (a *app) selectedHosts() ([]deploy.Host, error) {
	hcs, err := a.cfg.SelectHosts(a.hosts, a.roles)
	if err != nil {
		return nil, err
	}
	hosts := make([]deploy.Host, len(hcs))
	for i, h := range hcs {
		hosts[i] = deploy.Host{Name: h.Name, Address: h.Address, Roles: h.Roles}
	}
	return hosts, nil
}

// lockLocal takes the per-target process lock for mutating tasks.
func (a *app) lockLocal() (func(), error) {
	l := proclock.New(a.cfg.Lock.LocalDir, a.cfg.Name)
	if err := l.Acquire(); err != nil {
		if errors.Is(err, proclock.ErrLockHeld) {
			return nil, fmt.Errorf("%w: %s", err, l.Path())
		}
		return nil, err
	}
	return func() {
		if err := l.Release(); err != nil {
			a.logWarn("process lock release failed", err)
		}
	}, nil
}
