// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Shipyard/services/release/remote/remotetest"
)

func TestLock_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	fs := remotetest.New("web1")
	fs.MkdirAll("/srv/app")
	l := New(fs, "/srv/app", nil)
	l.clock = func() time.Time { return time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, l.Acquire(ctx))
	assert.True(t, fs.IsDir("/srv/app/.shipyard.lock"))

	info, held, err := Read(ctx, fs, "/srv/app")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, l.Owner(), info.Owner)
	assert.Equal(t, time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC), info.Time)
	assert.NotZero(t, info.PID)

	require.NoError(t, l.Release(ctx))
	assert.False(t, fs.Exists("/srv/app/.shipyard.lock"))
	assert.ErrorIs(t, l.Release(ctx), ErrNotHeld)
}

func TestLock_SecondDeployerIsRejected(t *testing.T) {
	ctx := context.Background()
	fs := remotetest.New("web1")
	fs.MkdirAll("/srv/app")
	first := New(fs, "/srv/app", nil)
	second := New(fs, "/srv/app", nil)
	require.NotEqual(t, first.Owner(), second.Owner())

	require.NoError(t, first.Acquire(ctx))

	err := second.Acquire(ctx)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.ErrorIs(t, second.Release(ctx), ErrNotOwner)
	assert.True(t, fs.Exists("/srv/app/.shipyard.lock"))

	require.NoError(t, first.Release(ctx))
	require.NoError(t, second.Acquire(ctx))
}

func TestLock_OwnerWriteFailureLeavesNoLock(t *testing.T) {
	fs := remotetest.New("web1")
	fs.MkdirAll("/srv/app")
	fs.FailOn("printf")
	l := New(fs, "/srv/app", nil)

	err := l.Acquire(context.Background())

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockHeld)
	assert.False(t, fs.Exists("/srv/app/.shipyard.lock"))
}

func TestLock_MissingBasePath(t *testing.T) {
	fs := remotetest.New("web1")
	l := New(fs, "/srv/app", nil)

	err := l.Acquire(context.Background())

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockHeld)
}

func TestBreak(t *testing.T) {
	ctx := context.Background()
	fs := remotetest.New("web1")
	fs.MkdirAll("/srv/app")
	require.NoError(t, New(fs, "/srv/app", nil).Acquire(ctx))

	require.NoError(t, Break(ctx, fs, "/srv/app"))

	_, held, err := Read(ctx, fs, "/srv/app")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestParseInfo(t *testing.T) {
	info := parseInfo("owner=abc user=deploy host=ci-1 pid=42 time=2024-01-05T12:00:00Z\n")

	assert.Equal(t, Info{
		Owner:    "abc",
		User:     "deploy",
		Hostname: "ci-1",
		PID:      42,
		Time:     time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC),
	}, info)
	assert.Contains(t, info.String(), "deploy@ci-1 pid 42")
}
