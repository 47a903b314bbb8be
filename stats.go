// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resultcache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaolacci/murmur3"
)

// Statistics is an aggregate snapshot of cache activity.
type Statistics struct {
	TotalEntries        int
	TotalSizeBytes      int64
	HitCount            uint64
	MissCount           uint64
	HitRate             float64
	EvictionCount       uint64
	AverageAccessTimeMs float64
	MemoryUsageBytes    int64
	DurableUsageBytes   int64
}

const (
	statsShardCount  = 16
	maxSamplesPerKey = 100
	compactAbove     = 50
)

// sampleShard holds per-key access-time histories for a slice of the key
// space. Sharding keeps sample recording off the cache's exclusive lock.
type sampleShard struct {
	mu      sync.Mutex
	samples map[string][]float64 // milliseconds, most recent last
}

// collector accumulates hit/miss/eviction counters and access-time samples.
// Counters are atomics; histories live in murmur3-sharded maps.
type collector struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	shards [statsShardCount]sampleShard

	durableMu    sync.Mutex
	durableSizes map[string]int64
	durableTotal int64
}

func newCollector() *collector {
	c := &collector{durableSizes: make(map[string]int64)}
	for i := range c.shards {
		c.shards[i].samples = make(map[string][]float64)
	}
	return c
}

func (c *collector) shard(key string) *sampleShard {
	return &c.shards[murmur3.Sum32([]byte(key))%statsShardCount]
}

func (c *collector) hit()  { c.hits.Add(1) }
func (c *collector) miss() { c.misses.Add(1) }

func (c *collector) addEvictions(n int) {
	if n > 0 {
		c.evictions.Add(uint64(n))
	}
}

// recordAccess appends one wall-clock sample for key, keeping the most
// recent maxSamplesPerKey.
func (c *collector) recordAccess(key string, d time.Duration) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	history := append(s.samples[key], float64(d)/float64(time.Millisecond))
	if len(history) > maxSamplesPerKey {
		history = history[len(history)-maxSamplesPerKey:]
	}
	s.samples[key] = history
}

func (c *collector) dropKey(key string) {
	s := c.shard(key)
	s.mu.Lock()
	delete(s.samples, key)
	s.mu.Unlock()

	c.durableMu.Lock()
	if size, ok := c.durableSizes[key]; ok {
		c.durableTotal -= size
		delete(c.durableSizes, key)
	}
	c.durableMu.Unlock()
}

// averageAccessMs is recomputed over all retained samples on every snapshot,
// so truncation never skews a running sum.
func (c *collector) averageAccessMs() float64 {
	var sum float64
	var count int
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, history := range s.samples {
			for _, sample := range history {
				sum += sample
			}
			count += len(history)
		}
		s.mu.Unlock()
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// compact halves any history holding more than compactAbove samples,
// keeping the most recent half.
func (c *collector) compact() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for key, history := range s.samples {
			if len(history) > compactAbove {
				s.samples[key] = append([]float64(nil), history[len(history)/2:]...)
			}
		}
		s.mu.Unlock()
	}
}

// recordPersist tracks the durable footprint of a key, replacing any prior
// generation's size.
func (c *collector) recordPersist(key string, size int64) {
	c.durableMu.Lock()
	defer c.durableMu.Unlock()
	if prior, ok := c.durableSizes[key]; ok {
		c.durableTotal -= prior
	}
	c.durableSizes[key] = size
	c.durableTotal += size
}

func (c *collector) durableUsage() int64 {
	c.durableMu.Lock()
	defer c.durableMu.Unlock()
	return c.durableTotal
}

// reset returns the collector to its zero state: counters, histories, and
// durable accounting.
func (c *collector) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.samples = make(map[string][]float64)
		s.mu.Unlock()
	}
	c.durableMu.Lock()
	c.durableSizes = make(map[string]int64)
	c.durableTotal = 0
	c.durableMu.Unlock()
}

func (c *collector) snapshot(totalEntries int, totalSize, memoryUsage int64) Statistics {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	return Statistics{
		TotalEntries:        totalEntries,
		TotalSizeBytes:      totalSize,
		HitCount:            hits,
		MissCount:           misses,
		HitRate:             hitRate,
		EvictionCount:       c.evictions.Load(),
		AverageAccessTimeMs: c.averageAccessMs(),
		MemoryUsageBytes:    memoryUsage,
		DurableUsageBytes:   c.durableUsage(),
	}
}
