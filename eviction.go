// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resultcache

import (
	"sort"
	"time"
)

// Strategy selects the policy an eviction sweep applies. The set is closed;
// victim selection matches exhaustively over it with no fallthrough.
type Strategy int

const (
	// StrategyTTL removes every expired entry, ignoring the limit.
	StrategyTTL Strategy = iota
	// StrategyLRU removes the least recently accessed entries.
	StrategyLRU
	// StrategyLFU removes the least frequently accessed entries.
	StrategyLFU
	// StrategySize removes the largest entries first, freeing the most
	// space per eviction.
	StrategySize
	// StrategyPriority removes the lowest-priority entries first.
	StrategyPriority
	// StrategyManual selects nothing; manual removal flows through
	// ClearPattern and the invalidation operations.
	StrategyManual
)

func (s Strategy) String() string {
	switch s {
	case StrategyTTL:
		return "ttl"
	case StrategyLRU:
		return "lru"
	case StrategyLFU:
		return "lfu"
	case StrategySize:
		return "size"
	case StrategyPriority:
		return "priority"
	case StrategyManual:
		return "manual"
	}
	return "unknown"
}

// entryMeta is the immutable snapshot victim selection operates on.
type entryMeta struct {
	key            string
	expiresAt      time.Time
	lastAccessedAt time.Time
	accessCount    uint64
	sizeBytes      int
	priority       Priority
}

// evictionVictims returns the keys a sweep should remove, in eviction order.
// Policies are pure functions over the snapshot; ties always break toward
// the older lastAccessedAt, then the smaller key, so selection is
// deterministic regardless of snapshot order.
func evictionVictims(snapshot []entryMeta, strategy Strategy, limit int, now time.Time) []string {
	switch strategy {
	case StrategyTTL:
		var victims []string
		for _, m := range snapshot {
			if now.After(m.expiresAt) {
				victims = append(victims, m.key)
			}
		}
		return victims

	case StrategyLRU:
		return orderAndTruncate(snapshot, limit, func(a, b entryMeta) bool {
			return a.lastAccessedAt.Before(b.lastAccessedAt)
		})

	case StrategyLFU:
		return orderAndTruncate(snapshot, limit, func(a, b entryMeta) bool {
			return a.accessCount < b.accessCount
		})

	case StrategySize:
		return orderAndTruncate(snapshot, limit, func(a, b entryMeta) bool {
			return a.sizeBytes > b.sizeBytes
		})

	case StrategyPriority:
		return orderAndTruncate(snapshot, limit, func(a, b entryMeta) bool {
			return a.priority < b.priority
		})

	case StrategyManual:
		return nil
	}
	return nil
}

// orderAndTruncate sorts a copy of the snapshot by less (ties broken by
// lastAccessedAt, then key) and returns the first limit keys.
func orderAndTruncate(snapshot []entryMeta, limit int, less func(a, b entryMeta) bool) []string {
	if limit <= 0 || len(snapshot) == 0 {
		return nil
	}
	ordered := make([]entryMeta, len(snapshot))
	copy(ordered, snapshot)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		if !a.lastAccessedAt.Equal(b.lastAccessedAt) {
			return a.lastAccessedAt.Before(b.lastAccessedAt)
		}
		return a.key < b.key
	})
	if limit > len(ordered) {
		limit = len(ordered)
	}
	victims := make([]string, limit)
	for i := range victims {
		victims[i] = ordered[i].key
	}
	return victims
}

// defaultEvictLimit is the sweep size when the caller does not specify one:
// a tenth of the configured capacity, at least one entry.
func defaultEvictLimit(maxEntries int) int {
	limit := maxEntries / 10
	if limit < 1 {
		limit = 1
	}
	return limit
}
