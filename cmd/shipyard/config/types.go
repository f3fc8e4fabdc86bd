// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"slices"
	"time"
)

// Config is the contents of shipyard.yaml.
type Config struct {
	// Name identifies the project in history and lock files.
	Name string `yaml:"name" validate:"required,projectname"`

	// BasePath is the pre-provisioned deploy root on every host.
	BasePath string `yaml:"base_path" validate:"required,startswith=/"`

	Retention       int      `yaml:"retention" validate:"gte=1"`
	SharedPaths     []string `yaml:"shared_paths" validate:"dive,required,relpath"`
	SymlinkStrategy string   `yaml:"symlink_strategy" validate:"oneof=replace swap"`

	Hosts []HostConfig `yaml:"hosts" validate:"required,min=1,unique=Name,dive"`

	SSH       SSHConfig       `yaml:"ssh"`
	Build     BuildConfig     `yaml:"build"`
	Lock      LockConfig      `yaml:"lock"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// HostConfig is one deploy destination.
type HostConfig struct {
	Name    string   `yaml:"name" validate:"required"`
	Address string   `yaml:"address" validate:"required"` // host[:port] or "local"
	Roles   []string `yaml:"roles"`
}

// HasRole reports whether the host carries any of roles.
func (h HostConfig) HasRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(h.Roles, r) {
			return true
		}
	}
	return false
}

type SSHConfig struct {
	User                  string        `yaml:"user"`
	KeyFile               string        `yaml:"key_file"`
	KnownHosts            string        `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	UseAgent              bool          `yaml:"use_agent"`
	Timeout               time.Duration `yaml:"timeout" validate:"gte=0"`
	DialRetries           int           `yaml:"dial_retries" validate:"gte=0,lte=10"`
}

type BuildConfig struct {
	// Strategy is "git-index" or "none".
	Strategy  string   `yaml:"strategy" validate:"oneof=git-index none"`
	SourceDir string   `yaml:"source_dir"`
	Path      string   `yaml:"path"`
	Rsync     bool     `yaml:"rsync"`
	RsyncArgs []string `yaml:"rsync_args"`
}

type LockConfig struct {
	// Enabled takes the lock directory under base_path on each host.
	Enabled bool `yaml:"enabled"`

	// LocalDir holds the per-target flock files on this machine.
	LocalDir string `yaml:"local_dir"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TelemetryConfig struct {
	TraceExporter   string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter  string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint    string `yaml:"otlp_endpoint"`
	OTLPInsecure    bool   `yaml:"otlp_insecure"`
	MetricsTextfile string `yaml:"metrics_textfile"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns the settings applied before the file is read. Name,
// base_path and hosts have no default.
func Default() Config {
	return Config{
		Retention:       5,
		SharedPaths:     []string{"log", "static"},
		SymlinkStrategy: "replace",
		SSH: SSHConfig{
			KnownHosts:  "~/.ssh/known_hosts",
			UseAgent:    true,
			Timeout:     30 * time.Second,
			DialRetries: 3,
		},
		Build: BuildConfig{
			Strategy:  "none",
			SourceDir: ".",
			Path:      "build",
			Rsync:     true,
		},
		Lock: LockConfig{
			LocalDir: "~/.shipyard/locks",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "~/.shipyard/history",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
