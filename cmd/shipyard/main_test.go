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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Shipyard/pkg/ux"
	"github.com/AleutianAI/Shipyard/services/deploy"
	"github.com/AleutianAI/Shipyard/services/history"
	"github.com/AleutianAI/Shipyard/services/release"
	"github.com/AleutianAI/Shipyard/services/release/remote"
	"github.com/AleutianAI/Shipyard/services/release/remote/remotetest"
)

const (
	testBase = "/srv/webapp"
	testID   = "2024-01-05.43200"
)

type fakeConnector struct {
	hosts map[string]*remotetest.FS
}

func (c *fakeConnector) Connect(_ context.Context, name, _ string) (remote.Executor, error) {
	fs, ok := c.hosts[name]
	if !ok {
		return nil, remote.ErrUnknownHost
	}
	return fs, nil
}

// cliEnv is a config file and two in-memory hosts shared by several
// invocations.
type cliEnv struct {
	dir    string
	config string
	hosts  map[string]*remotetest.FS
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
name: webapp
base_path: %s
hosts:
  - {name: web1, address: web1.example.com, roles: [web]}
  - {name: jobs, address: jobs.example.com, roles: [worker]}
lock: {local_dir: %s}
history: {enabled: true, path: %s}
`, testBase, filepath.Join(dir, "locks"), filepath.Join(dir, "history"))
	path := filepath.Join(dir, "shipyard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	hosts := map[string]*remotetest.FS{}
	for _, name := range []string{"web1", "jobs"} {
		fs := remotetest.New(name)
		fs.MkdirAll(testBase)
		hosts[name] = fs
	}
	return &cliEnv{dir: dir, config: path, hosts: hosts}
}

func (e *cliEnv) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	a.connector = &fakeConnector{hosts: e.hosts}
	a.clock = func() time.Time { return time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC) }
	all := append([]string{"--config", e.config, "--personality", "machine"}, args...)
	code := execute(context.Background(), a, all)
	return code, stdout.String(), stderr.String()
}

type envelope struct {
	Command  string          `json:"command"`
	Success  bool            `json:"success"`
	ExitCode int             `json:"exit_code"`
	Error    string          `json:"error"`
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
}

func decodeEnvelope(t *testing.T, out string) (envelope, []deploy.Result) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	var results []deploy.Result
	if len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, &results))
	}
	return env, results
}

// ============================================================================
// Tasks
// ============================================================================

func TestUpdate_DeploysEveryHostInOrder(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run(t, "update", "--json")
	require.Equal(t, CLIExitSuccess, code, out)

	e, results := decodeEnvelope(t, out)
	assert.True(t, e.Success)
	assert.Equal(t, "update", e.Command)
	require.Len(t, results, 2)
	assert.Equal(t, "web1", results[0].Host)
	assert.Equal(t, "jobs", results[1].Host)
	assert.Equal(t, testID, results[0].ReleaseID)

	for _, fs := range env.hosts {
		assert.Equal(t, testBase+"/releases/"+testID, fs.Resolve(testBase+"/current"))
	}
}

func TestUpdate_FirstHostFailureStopsTheRun(t *testing.T) {
	env := newCLIEnv(t)
	env.hosts["web1"].FailOn("ln -sfn")

	code, out, _ := env.run(t, "update", "--json")
	assert.Equal(t, CLIExitError, code)

	e, results := decodeEnvelope(t, out)
	assert.False(t, e.Success)
	assert.Contains(t, e.Error, "update on web1")
	assert.Len(t, results, 1)
	assert.Empty(t, env.hosts["jobs"].Commands())
	assert.False(t, env.hosts["web1"].Exists(testBase+"/releases/"+testID))
}

func TestUpdate_CleanupWarningIsReportedInEnvelope(t *testing.T) {
	env := newCLIEnv(t)
	jobs := env.hosts["jobs"]
	for i := 1; i <= 6; i++ {
		jobs.MkdirAll(fmt.Sprintf("%s/releases/2024-01-01.%05d", testBase, i*100))
	}
	jobs.FailOn("2024-01-01.00100'")

	code, out, _ := env.run(t, "update", "--hosts", "jobs", "--json")
	require.Equal(t, CLIExitSuccess, code, out)

	e, _ := decodeEnvelope(t, out)
	assert.True(t, e.Success)
	var cleanupWarning string
	for _, w := range e.Warnings {
		if strings.Contains(w, "cleanup failed") {
			cleanupWarning = w
		}
	}
	assert.Contains(t, cleanupWarning, "2024-01-01.00100")
	assert.Equal(t, testBase+"/releases/"+testID, jobs.Resolve(testBase+"/current"))
}

func TestUpdate_RoleFilter(t *testing.T) {
	env := newCLIEnv(t)

	code, _, _ := env.run(t, "update", "--roles", "worker")
	require.Equal(t, CLIExitSuccess, code)

	assert.Empty(t, env.hosts["web1"].Commands())
	assert.True(t, env.hosts["jobs"].IsSymlink(testBase+"/current"))
}

func TestUnknownHostFails(t *testing.T) {
	env := newCLIEnv(t)
	code, _, stderr := env.run(t, "releases", "--hosts", "db1")
	assert.Equal(t, CLIExitError, code)
	assert.Contains(t, stderr, "unknown host")
}

func TestRollback_RequiresConfirmation(t *testing.T) {
	env := newCLIEnv(t)
	code, _, stderr := env.run(t, "rollback")
	assert.Equal(t, CLIExitError, code)
	assert.Contains(t, stderr, ux.ErrNotInteractive.Error())
}

func TestRollback_NothingToRollBackToExitsOne(t *testing.T) {
	env := newCLIEnv(t)
	code, _, _ := env.run(t, "update", "--hosts", "web1")
	require.Equal(t, CLIExitSuccess, code)

	code, out, _ := env.run(t, "rollback", "--hosts", "web1", "--yes", "--json")
	assert.Equal(t, CLIExitFindings, code)
	e, _ := decodeEnvelope(t, out)
	assert.Contains(t, e.Error, "no previous release")
}

func TestRollback_SwitchesToPreviousRelease(t *testing.T) {
	env := newCLIEnv(t)
	fs := env.hosts["web1"]
	fs.MkdirAll(testBase+"/releases/2024-01-01.00100", testBase+"/releases/2024-01-02.00200")
	fs.Symlink("releases/2024-01-02.00200", testBase+"/current")

	code, out, _ := env.run(t, "rollback", "--hosts", "web1", "-y")
	require.Equal(t, CLIExitSuccess, code)
	assert.Contains(t, out, "web1: current -> 2024-01-01.00100 (removed 2024-01-02.00200)")
	assert.Equal(t, testBase+"/releases/2024-01-01.00100", fs.Resolve(testBase+"/current"))
}

func TestRollback_HostWithNothingToRollBackDoesNotStopTheRun(t *testing.T) {
	env := newCLIEnv(t)
	web := env.hosts["web1"]
	web.MkdirAll(testBase + "/releases/2024-01-01.00100")
	web.Symlink("releases/2024-01-01.00100", testBase+"/current")
	jobs := env.hosts["jobs"]
	jobs.MkdirAll(testBase+"/releases/2024-01-01.00100", testBase+"/releases/2024-01-02.00200")
	jobs.Symlink("releases/2024-01-02.00200", testBase+"/current")

	code, out, _ := env.run(t, "rollback", "-y", "--json")
	assert.Equal(t, CLIExitFindings, code)

	e, results := decodeEnvelope(t, out)
	assert.False(t, e.Success)
	assert.Contains(t, e.Error, "rollback on web1")
	assert.Contains(t, e.Error, release.ErrNoPreviousRelease.Error())
	require.Len(t, results, 2)
	assert.Nil(t, results[0].Rollback)
	assert.Equal(t, "jobs", results[1].Host)
	require.NotNil(t, results[1].Rollback)
	assert.Equal(t, "2024-01-01.00100", results[1].Rollback.To)

	assert.Equal(t, testBase+"/releases/2024-01-01.00100", web.Resolve(testBase+"/current"))
	assert.Equal(t, testBase+"/releases/2024-01-01.00100", jobs.Resolve(testBase+"/current"))
	assert.False(t, jobs.Exists(testBase+"/releases/2024-01-02.00200"))
}

func TestRollback_OtherFailuresStillStopTheRun(t *testing.T) {
	env := newCLIEnv(t)
	for _, fs := range env.hosts {
		fs.MkdirAll(testBase+"/releases/2024-01-01.00100", testBase+"/releases/2024-01-02.00200")
		fs.Symlink("releases/2024-01-02.00200", testBase+"/current")
	}
	env.hosts["web1"].FailOn("rm -rf")

	code, out, _ := env.run(t, "rollback", "-y", "--json")
	assert.Equal(t, CLIExitError, code)
	_, results := decodeEnvelope(t, out)
	assert.Len(t, results, 1)
	assert.Empty(t, env.hosts["jobs"].Commands())
}

func TestReleasesAndHistory(t *testing.T) {
	env := newCLIEnv(t)
	code, _, _ := env.run(t, "update", "--hosts", "web1")
	require.Equal(t, CLIExitSuccess, code)

	code, out, _ := env.run(t, "releases", "--hosts", "web1")
	require.Equal(t, CLIExitSuccess, code)
	assert.Contains(t, out, "web1: "+string(ux.IconArrow)+" "+testID)

	code, out, _ = env.run(t, "history", "--json")
	require.Equal(t, CLIExitSuccess, code)
	var e envelope
	require.NoError(t, json.Unmarshal([]byte(out), &e))
	var entries []history.Entry
	require.NoError(t, json.Unmarshal(e.Data, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, deploy.OpUpdate, entries[0].Operation)
	assert.Equal(t, history.StatusSuccess, entries[0].Status)
	assert.Equal(t, deploy.OpBuild, entries[1].Operation)
}

func TestSetupThenFinalize(t *testing.T) {
	env := newCLIEnv(t)
	code, _, _ := env.run(t, "setup", "--hosts", "jobs")
	require.Equal(t, CLIExitSuccess, code)
	fs := env.hosts["jobs"]
	assert.True(t, fs.IsDir(testBase+"/shared/log"))

	code, _, _ = env.run(t, "finalize", "--hosts", "jobs")
	assert.Equal(t, CLIExitError, code, "no release to finalize yet")

	fs.MkdirAll(testBase + "/releases/2024-01-03.00300")
	code, _, _ = env.run(t, "finalize", "--hosts", "jobs")
	require.Equal(t, CLIExitSuccess, code)
	assert.Equal(t, testBase+"/releases/2024-01-03.00300", fs.Resolve(testBase+"/current"))
}

func TestMissingConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	code := execute(context.Background(), a, []string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "releases"})
	assert.Equal(t, CLIExitError, code)
	assert.Contains(t, stderr.String(), "failed to read the config file")
}

// ============================================================================
// Registry and output
// ============================================================================

func TestTaskRegistry(t *testing.T) {
	reg := defaultTasks()
	assert.Equal(t, []string{"setup", "build", "update", "finalize", "cleanup", "rollback", "releases", "unlock", "history"}, reg.names())

	rb, ok := reg.lookup("rollback")
	require.True(t, ok)
	assert.True(t, rb.mutating)
	assert.NotEmpty(t, rb.confirm)

	_, ok = reg.lookup("deploy")
	assert.False(t, ok)

	err := reg.register(task{name: "setup", local: func(context.Context, *app) (any, error) { return nil, nil }})
	assert.ErrorIs(t, err, errDuplicateTask)

	assert.Error(t, reg.register(task{name: "both",
		local:  func(context.Context, *app) (any, error) { return nil, nil },
		onHost: func(context.Context, *app, deploy.Host) (deploy.Result, error) { return deploy.Result{}, nil },
	}))
	assert.Error(t, reg.register(task{name: "neither"}))
	assert.Error(t, reg.register(task{local: func(context.Context, *app) (any, error) { return nil, nil }}))
}

func TestRootCmd_HasOneSubcommandPerTask(t *testing.T) {
	reg := defaultTasks()
	root := newRootCmd(newApp(&bytes.Buffer{}, &bytes.Buffer{}), reg)
	for _, name := range reg.names() {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, CLIExitSuccess, ExitCodeFor(nil))
	assert.Equal(t, CLIExitFindings, ExitCodeFor(fmt.Errorf("rollback on web1: %w", release.ErrNoPreviousRelease)))
	assert.Equal(t, CLIExitFindings, ExitCodeFor(ux.ErrDeclined))
	assert.Equal(t, CLIExitError, ExitCodeFor(errors.New("boom")))
}

func TestOutputResult_JSONEnvelope(t *testing.T) {
	var out, errOut bytes.Buffer
	code := OutputResult(&out, &errOut, OutputConfig{JSON: true, Compact: true}, "cleanup", time.Now(),
		[]string{"a"}, errors.New("boom"))

	assert.Equal(t, CLIExitError, code)
	var e envelope
	require.NoError(t, json.Unmarshal(out.Bytes(), &e))
	assert.False(t, e.Success)
	assert.Equal(t, "boom", e.Error)
	assert.Equal(t, CLIExitError, e.ExitCode)
	assert.Empty(t, errOut.String())

	out.Reset()
	code = OutputResult(&out, &errOut, OutputConfig{}, "cleanup", time.Now(), nil, errors.New("boom"))
	assert.Equal(t, CLIExitError, code)
	assert.Empty(t, out.String())
	assert.Equal(t, "Error: boom\n", errOut.String())
}
