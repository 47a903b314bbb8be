// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sqlitetier

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/resultcache"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func testRecord(key string, ttl time.Duration) resultcache.Record {
	now := time.Now().Truncate(time.Millisecond)
	return resultcache.Record{
		Metadata: resultcache.Metadata{
			Key:            key,
			CreatedAt:      now,
			ExpiresAt:      now.Add(ttl),
			AccessCount:    3,
			LastAccessedAt: now,
			SizeBytes:      12,
			Priority:       resultcache.PriorityHigh,
			Tags:           []string{"analysis"},
			Dependencies:   []string{"draws"},
		},
		Payload: []byte(`{"draws":12}`),
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	require := require.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	want := testRecord("ns:k", time.Hour)
	require.NoError(store.Persist(ctx, "ns:k", want))

	got, ok, err := store.Load(ctx, "ns:k")
	require.NoError(err)
	require.True(ok)
	require.Equal(want.Key, got.Key)
	require.True(want.CreatedAt.Equal(got.CreatedAt))
	require.True(want.ExpiresAt.Equal(got.ExpiresAt))
	require.Equal(want.AccessCount, got.AccessCount)
	require.Equal(want.SizeBytes, got.SizeBytes)
	require.Equal(want.Priority, got.Priority)
	require.Equal(want.Tags, got.Tags)
	require.Equal(want.Dependencies, got.Dependencies)
	require.Equal(want.Payload, got.Payload)
}

func TestPersistUpserts(t *testing.T) {
	require := require.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("ns:k", time.Hour)
	require.NoError(store.Persist(ctx, "ns:k", rec))
	rec.Payload = []byte(`{"draws":99}`)
	rec.AccessCount = 7
	require.NoError(store.Persist(ctx, "ns:k", rec))

	got, ok, err := store.Load(ctx, "ns:k")
	require.NoError(err)
	require.True(ok)
	require.Equal([]byte(`{"draws":99}`), got.Payload)
	require.Equal(uint64(7), got.AccessCount)

	keys, err := store.ListKeys(ctx, "ns:")
	require.NoError(err)
	require.Len(keys, 1)
}

func TestLoadAbsent(t *testing.T) {
	require := require.New(t)
	store := openTestStore(t)

	_, ok, err := store.Load(context.Background(), "ns:missing")
	require.NoError(err)
	require.False(ok)
}

func TestRemove(t *testing.T) {
	require := require.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(store.Persist(ctx, "ns:k", testRecord("ns:k", time.Hour)))
	require.NoError(store.Remove(ctx, "ns:k"))
	_, ok, err := store.Load(ctx, "ns:k")
	require.NoError(err)
	require.False(ok)

	require.NoError(store.Remove(ctx, "ns:absent"))
}

func TestListKeysRespectsPrefix(t *testing.T) {
	require := require.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a:1", "a:2", "b:1"} {
		require.NoError(store.Persist(ctx, key, testRecord(key, time.Hour)))
	}
	keys, err := store.ListKeys(ctx, "a:")
	require.NoError(err)
	require.Equal([]string{"a:1", "a:2"}, keys)
}

func TestListMetadata(t *testing.T) {
	require := require.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	want := testRecord("ns:k", time.Hour)
	require.NoError(store.Persist(ctx, "ns:k", want))

	metas, err := store.ListMetadata(ctx, "ns:")
	require.NoError(err)
	require.Len(metas, 1)
	m := metas[0]
	require.Equal("ns:k", m.Key)
	require.True(want.ExpiresAt.Equal(m.ExpiresAt))
	require.Equal(want.Tags, m.Tags)
	require.Equal(want.Dependencies, m.Dependencies)
	require.Equal(want.SizeBytes, m.SizeBytes)
}

// TestCacheSurvivesRestart runs the full loop: a cache persists through the
// store, a second cache over the same file seeds from metadata and hydrates
// on access.
func TestCacheSurvivesRestart(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := Open(path)
	require.NoError(err)
	first, err := resultcache.New[map[string]int](resultcache.Config{
		Durable:    store,
		DefaultTTL: time.Hour,
	})
	require.NoError(err)
	require.True(first.Set("frequency", map[string]int{"7": 12}))
	require.NoError(first.Close())
	require.NoError(store.Close())

	store, err = Open(path)
	require.NoError(err)
	defer func() { require.NoError(store.Close()) }()
	second, err := resultcache.New[map[string]int](resultcache.Config{
		Durable:    store,
		DefaultTTL: time.Hour,
	})
	require.NoError(err)
	defer func() { require.NoError(second.Close()) }()

	require.Equal(1, second.Len())
	got, ok := second.Get("frequency")
	require.True(ok)
	require.Equal(map[string]int{"7": 12}, got)
}
