// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remotetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Shipyard/services/release/remote"
)

func TestFS_MkdirAndRemove(t *testing.T) {
	ctx := context.Background()
	fs := New("web1")

	_, err := fs.Run(ctx, "mkdir -p '/srv/app/releases' '/srv/app/shared'")
	require.NoError(t, err)
	assert.True(t, fs.IsDir("/srv/app/releases"))
	assert.Equal(t, []string{"releases", "shared"}, fs.Children("/srv/app"))

	_, err = fs.Run(ctx, "mkdir '/srv/app/releases'")
	assert.Equal(t, 1, remote.ExitCode(err))

	_, err = fs.Run(ctx, "rm '/srv/app/releases'")
	assert.Error(t, err)

	_, err = fs.Run(ctx, "rm -rf '/srv/app/releases' '/srv/app/missing'")
	require.NoError(t, err)
	assert.False(t, fs.Exists("/srv/app/releases"))
}

func TestFS_SymlinksAndHelpers(t *testing.T) {
	ctx := context.Background()
	fs := New("web1")
	fs.MkdirAll("/srv/app/releases/2024-01-01.100", "/srv/app/releases/2024-01-02.200", "/srv/app/shared/log")
	fs.Symlink("releases/2024-01-02.200", "/srv/app/current")

	target, err := remote.ReadLink(ctx, fs, "/srv/app/current")
	require.NoError(t, err)
	assert.Equal(t, "releases/2024-01-02.200", target)
	assert.Equal(t, "/srv/app/releases/2024-01-02.200", fs.Resolve("/srv/app/current"))

	exists, err := remote.PathExists(ctx, fs, "/srv/app/current")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = remote.PathExists(ctx, fs, "/srv/app/nope")
	require.NoError(t, err)
	assert.False(t, exists)

	names, err := remote.ListDirectoryNames(ctx, fs, "/srv/app/releases")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01.100", "2024-01-02.200"}, names)

	_, err = fs.Run(ctx, "ln -s '../../shared/log' '/srv/app/releases/2024-01-02.200/log'")
	require.NoError(t, err)
	assert.True(t, fs.IsDir("/srv/app/releases/2024-01-02.200/log"))
	assert.Equal(t, "/srv/app/shared/log", fs.Resolve("/srv/app/current/log"))

	_, err = fs.Run(ctx, "ln -s 'releases/2024-01-01.100' '/srv/app/current'")
	require.NoError(t, err, "without -n ln descends into the linked directory")
	assert.True(t, fs.IsSymlink("/srv/app/releases/2024-01-02.200/2024-01-01.100"))

	_, err = fs.Run(ctx, "ln -sfn 'releases/2024-01-01.100' '/srv/app/current.tmp' && mv -T '/srv/app/current.tmp' '/srv/app/current'")
	require.NoError(t, err)
	link, ok := fs.ReadLink("/srv/app/current")
	require.True(t, ok)
	assert.Equal(t, "releases/2024-01-01.100", link)
	assert.False(t, fs.Exists("/srv/app/current.tmp"))
}

func TestFS_ChainsAndRedirects(t *testing.T) {
	ctx := context.Background()
	fs := New("web1")
	fs.MkdirAll("/srv/app")

	_, err := fs.Run(ctx, "mkdir '/srv/app/.lock' && printf '%s\\n' 'owner=abc' > '/srv/app/.lock/owner'")
	require.NoError(t, err)
	content, ok := fs.ReadFile("/srv/app/.lock/owner")
	require.True(t, ok)
	assert.Equal(t, "owner=abc\n", content)

	_, err = fs.Run(ctx, "mkdir '/srv/app/.lock' && printf '%s' 'owner=def' > '/srv/app/.lock/owner'")
	require.Error(t, err)
	content, _ = fs.ReadFile("/srv/app/.lock/owner")
	assert.Equal(t, "owner=abc\n", content)

	out, err := fs.Run(ctx, "cat '/srv/app/.lock/owner'")
	require.NoError(t, err)
	assert.Equal(t, "owner=abc\n", out)

	_, err = fs.Run(ctx, "false || true")
	assert.NoError(t, err)
	_, err = fs.Run(ctx, "false && true")
	assert.Error(t, err)
	_, err = fs.Run(ctx, "false ; true")
	assert.NoError(t, err)
}

func TestFS_Rsync(t *testing.T) {
	ctx := context.Background()
	fs := New("web1")
	fs.WriteFile("/srv/app/cache/index.html", "<h1>hi</h1>")
	fs.WriteFile("/srv/app/cache/static/app.css", "body{}")
	fs.MkdirAll("/srv/app/releases/r1")

	_, err := fs.Run(ctx, "rsync -lrp '/srv/app/cache/' '/srv/app/releases/r1/'")
	require.NoError(t, err)

	content, ok := fs.ReadFile("/srv/app/releases/r1/static/app.css")
	require.True(t, ok)
	assert.Equal(t, "body{}", content)
}

func TestFS_FailOnAndUnknownCommands(t *testing.T) {
	ctx := context.Background()
	fs := New("web1")
	fs.FailOn("rm -rf")

	_, err := fs.Run(ctx, "rm -rf '/x'")
	assert.Equal(t, 1, remote.ExitCode(err))
	assert.Equal(t, "injected failure", remote.ExtractStderr(err))

	fs.ClearFailures()
	_, err = fs.Run(ctx, "rm -rf '/x'")
	assert.NoError(t, err)

	_, err = fs.Run(ctx, "systemctl restart app")
	assert.Equal(t, 127, remote.ExitCode(err))

	assert.Equal(t, []string{"rm -rf '/x'", "rm -rf '/x'", "systemctl restart app"}, fs.Commands())
}

func TestFS_QuotedPaths(t *testing.T) {
	ctx := context.Background()
	fs := New("web1")
	dir := "/srv/it's here"

	_, err := fs.Run(ctx, "mkdir -p "+remote.Quote(dir))
	require.NoError(t, err)
	assert.True(t, fs.IsDir(dir))
}

func TestFS_Snapshot(t *testing.T) {
	fs := New("web1")
	fs.MkdirAll("/a")
	fs.Symlink("a", "/b")
	fs.WriteFile("/a/f", "x")

	assert.Equal(t, []string{"/", "/a/", "/a/f = x", "/b -> a"}, fs.Snapshot())
}

func TestFS_QuotedSeparatorsStayInsideTheWord(t *testing.T) {
	ctx := context.Background()
	fs := New("web1")
	fs.MkdirAll("/srv")

	_, err := fs.Run(ctx, `mkdir "/srv/a;b" && mkdir '/srv/c && d'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a;b", "c && d"}, fs.Children("/srv"))

	names, err := remote.ListDirectoryNames(ctx, fs, "/srv/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a;b", "c && d"}, names)
}

func TestFS_RedirectIntoMissingDirectoryFails(t *testing.T) {
	ctx := context.Background()
	fs := New("web1")
	fs.MkdirAll("/srv/app")

	_, err := fs.Run(ctx, "printf '%s\\n' 'x' > '/srv/app/missing/owner'")
	require.Error(t, err)
	assert.NotZero(t, remote.ExitCode(err))
	assert.False(t, fs.Exists("/srv/app/missing"))

	_, err = fs.Run(ctx, "echo one > '/srv/app/f' && echo two >> '/srv/app/f'")
	require.NoError(t, err)
	content, _ := fs.ReadFile("/srv/app/f")
	assert.Equal(t, "one\ntwo\n", content)
}

func TestFS_FileTestsSeeTheTree(t *testing.T) {
	ctx := context.Background()
	fs := New("web1")
	fs.MkdirAll("/srv/app/releases/r1")
	fs.Symlink("releases/r1", "/srv/app/current")
	fs.Symlink("releases/gone", "/srv/app/dangling")

	for cmd, ok := range map[string]bool{
		"test -d '/srv/app/current'":  true,
		"test -L '/srv/app/current'":  true,
		"test -e '/srv/app/dangling'": false,
		"test -L '/srv/app/dangling'": true,
		"test -d '/srv/app/nope'":     false,
		"[ -d '/srv/app/releases' ]":  true,
	} {
		_, err := fs.Run(ctx, cmd)
		assert.Equal(t, ok, err == nil, cmd)
	}
}

func TestFS_SyntaxErrorExitsTwo(t *testing.T) {
	fs := New("web1")

	_, err := fs.Run(context.Background(), "mkdir 'unterminated")
	assert.Equal(t, 2, remote.ExitCode(err))
}
