// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resultcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var evictionBase = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func meta(key string, opts ...func(*entryMeta)) entryMeta {
	m := entryMeta{
		key:            key,
		expiresAt:      evictionBase.Add(time.Hour),
		lastAccessedAt: evictionBase,
		priority:       PriorityMedium,
		sizeBytes:      1,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func accessedAt(t time.Time) func(*entryMeta) { return func(m *entryMeta) { m.lastAccessedAt = t } }
func expiresAt(t time.Time) func(*entryMeta)  { return func(m *entryMeta) { m.expiresAt = t } }
func accessed(n uint64) func(*entryMeta)      { return func(m *entryMeta) { m.accessCount = n } }
func sized(n int) func(*entryMeta)            { return func(m *entryMeta) { m.sizeBytes = n } }
func prioritized(p Priority) func(*entryMeta) { return func(m *entryMeta) { m.priority = p } }

func TestEvictionTTLIgnoresLimit(t *testing.T) {
	require := require.New(t)
	snapshot := []entryMeta{
		meta("a", expiresAt(evictionBase.Add(-time.Minute))),
		meta("b", expiresAt(evictionBase.Add(-time.Second))),
		meta("c", expiresAt(evictionBase.Add(-time.Hour))),
		meta("d"),
	}
	victims := evictionVictims(snapshot, StrategyTTL, 1, evictionBase)
	require.ElementsMatch([]string{"a", "b", "c"}, victims)

	require.Empty(evictionVictims([]entryMeta{meta("d")}, StrategyTTL, 10, evictionBase))
}

func TestEvictionLRUOrder(t *testing.T) {
	require := require.New(t)
	snapshot := []entryMeta{
		meta("recent", accessedAt(evictionBase.Add(3*time.Second))),
		meta("oldest", accessedAt(evictionBase.Add(1*time.Second))),
		meta("middle", accessedAt(evictionBase.Add(2*time.Second))),
	}
	require.Equal([]string{"oldest", "middle"},
		evictionVictims(snapshot, StrategyLRU, 2, evictionBase))
}

func TestEvictionLFUOrder(t *testing.T) {
	require := require.New(t)
	snapshot := []entryMeta{
		meta("hot", accessed(50)),
		meta("cold", accessed(1)),
		meta("warm", accessed(10)),
	}
	require.Equal([]string{"cold", "warm"},
		evictionVictims(snapshot, StrategyLFU, 2, evictionBase))
}

func TestEvictionSizeLargestFirst(t *testing.T) {
	require := require.New(t)
	snapshot := []entryMeta{
		meta("small", sized(10)),
		meta("huge", sized(10000)),
		meta("medium", sized(100)),
	}
	require.Equal([]string{"huge", "medium"},
		evictionVictims(snapshot, StrategySize, 2, evictionBase))
}

func TestEvictionPriorityLowestFirst(t *testing.T) {
	require := require.New(t)
	snapshot := []entryMeta{
		meta("critical", prioritized(PriorityCritical)),
		meta("low", prioritized(PriorityLow)),
		meta("high", prioritized(PriorityHigh)),
		meta("medium", prioritized(PriorityMedium)),
	}
	require.Equal([]string{"low", "medium", "high"},
		evictionVictims(snapshot, StrategyPriority, 3, evictionBase))
}

func TestEvictionManualSelectsNothing(t *testing.T) {
	require := require.New(t)
	snapshot := []entryMeta{meta("a"), meta("b")}
	require.Empty(evictionVictims(snapshot, StrategyManual, 10, evictionBase))
}

func TestEvictionTieBreaks(t *testing.T) {
	require := require.New(t)

	// Equal sizes break toward the older access, regardless of input order.
	snapshot := []entryMeta{
		meta("b", sized(5), accessedAt(evictionBase.Add(time.Second))),
		meta("a", sized(5), accessedAt(evictionBase)),
	}
	require.Equal([]string{"a"}, evictionVictims(snapshot, StrategySize, 1, evictionBase))

	// Fully identical entries break on the key.
	snapshot = []entryMeta{meta("z", sized(5)), meta("y", sized(5)), meta("x", sized(5))}
	require.Equal([]string{"x", "y"}, evictionVictims(snapshot, StrategySize, 2, evictionBase))
}

func TestEvictionLimitClamped(t *testing.T) {
	require := require.New(t)
	snapshot := []entryMeta{meta("a"), meta("b")}
	require.Len(evictionVictims(snapshot, StrategyLRU, 100, evictionBase), 2)
	require.Empty(evictionVictims(snapshot, StrategyLRU, 0, evictionBase))
	require.Empty(evictionVictims(nil, StrategyLRU, 5, evictionBase))
}

func TestDefaultEvictLimit(t *testing.T) {
	require := require.New(t)
	require.Equal(10, defaultEvictLimit(100))
	require.Equal(1, defaultEvictLimit(10))
	require.Equal(1, defaultEvictLimit(5))
	require.Equal(1, defaultEvictLimit(1))
}

func TestStrategyString(t *testing.T) {
	require := require.New(t)
	require.Equal("ttl", StrategyTTL.String())
	require.Equal("lru", StrategyLRU.String())
	require.Equal("lfu", StrategyLFU.String())
	require.Equal("size", StrategySize.String())
	require.Equal("priority", StrategyPriority.String())
	require.Equal("manual", StrategyManual.String())
	require.Equal("unknown", Strategy(99).String())
}
