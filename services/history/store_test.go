// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_ListNewestFirstPerTarget(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	base := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

	for i, op := range []string{"update", "update", "rollback"} {
		require.NoError(t, store.Record(ctx, Entry{
			Target:    "webapp",
			Host:      "web1",
			Operation: op,
			Status:    StatusSuccess,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.Record(ctx, Entry{Target: "webapp-api", Host: "api1", Operation: "update", StartedAt: base}))

	entries, err := store.List(ctx, "webapp", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "rollback", entries[0].Operation)
	assert.True(t, entries[0].StartedAt.After(entries[1].StartedAt))
	assert.NotEmpty(t, entries[0].ID)

	limited, err := store.List(ctx, "webapp", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := store.List(ctx, "unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_RoundTripsFields(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	entry := Entry{
		ID:        "fixed-id",
		Target:    "webapp",
		Host:      "web1",
		Operation: "update",
		ReleaseID: "2024-01-05.43200",
		Status:    StatusFailed,
		Error:     "rsync failed",
		StartedAt: time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC),
		Duration:  3 * time.Second,
	}

	require.NoError(t, store.Record(ctx, entry))

	entries, err := store.List(ctx, "webapp", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ReleaseID, entries[0].ReleaseID)
	assert.Equal(t, entry.Error, entries[0].Error)
	assert.Equal(t, entry.Duration, entries[0].Duration)
	assert.True(t, entry.StartedAt.Equal(entries[0].StartedAt))
}

func TestStore_RecordValidation(t *testing.T) {
	store := openTestStore(t)

	assert.Error(t, store.Record(context.Background(), Entry{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Record(ctx, Entry{Target: "webapp"}), context.Canceled)
}

func TestStore_PersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, Entry{Target: "webapp", Operation: "setup"}))
	require.NoError(t, store.Close())

	store, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.List(ctx, "webapp", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "setup", entries[0].Operation)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
