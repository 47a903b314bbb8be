// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package resultcache is an in-process, two-tier result cache for expensive
// repeatable computations. Values live decompressed in memory; an optional
// durable tier provides overflow and restart survival with lazy hydration.
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const persistRetries = 3

// errDurableMiss reports that the durable tier had no usable record for a
// key. It never escapes the package; callers observe a plain miss.
var errDurableMiss = errors.New("resultcache: durable miss")

// Cache is a bounded key-value store for serializable computation results.
// One instance is safe for concurrent use by any number of callers plus the
// background maintenance sweep. Callers always receive copies of stored
// values, never references into the store.
type Cache[V any] struct {
	cfg              Config
	log              *zap.Logger
	persistByDefault bool

	// mu guards entries and index, which must mutate atomically together.
	mu      sync.Mutex
	entries map[string]*entry
	index   *invalidationIndex

	stats    *collector
	patterns *patternCache
	flight   singleflight.Group
	cron     *cron.Cron

	// asyncMu orders persistWG.Add against Close's Wait, so no background
	// durable operation can start once the drain has begun.
	asyncMu   sync.Mutex
	persistWG sync.WaitGroup
	closed    atomic.Bool

	// now is a seam for deterministic expiry in tests.
	now func() time.Time
}

// New builds a cache from cfg, validating it eagerly. When a durable tier is
// configured the store is seeded with metadata-only entries for every
// surviving durable key; payloads hydrate lazily on first Get.
func New[V any](cfg Config) (*Cache[V], error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	c := &Cache[V]{
		cfg:      cfg,
		log:      cfg.Logger,
		entries:  make(map[string]*entry),
		index:    newInvalidationIndex(),
		stats:    newCollector(),
		patterns: newPatternCache(),
		now:      time.Now,
	}
	c.persistByDefault = cfg.Durable != nil
	if cfg.PersistByDefault != nil {
		c.persistByDefault = *cfg.PersistByDefault && cfg.Durable != nil
	}
	if cfg.Durable != nil {
		c.seedFromDurable(context.Background())
	}
	if err := c.startMaintenance(); err != nil {
		return nil, err
	}
	return c, nil
}

// Set stores value under key. It returns false, never an error, when the
// value cannot be serialized; the cause is logged. Inserting a new key at
// the entry ceiling first runs a size-based eviction pass. The durable
// write-through is asynchronous; its failure degrades the entry to
// memory-only.
func (c *Cache[V]) Set(key string, value V, opts ...SetOption) bool {
	if c.closed.Load() {
		return false
	}
	start := time.Now()
	o := c.newSetOptions(opts)

	payload, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("set: value not serializable",
			zap.String("key", key), zap.Error(err))
		return false
	}

	persist := o.persist
	if persist && len(payload) > c.cfg.MaxPersistBytes {
		c.log.Warn("set: payload exceeds persist ceiling, keeping entry memory-only",
			zap.String("key", key), zap.Int("size_bytes", len(payload)))
		persist = false
	}
	compress := len(payload) > c.cfg.CompressionThreshold
	if o.compress != nil {
		compress = *o.compress
	}

	now := c.now()
	e := &entry{
		key:            key,
		body:           hydrated{payload: payload},
		createdAt:      now,
		expiresAt:      now.Add(o.ttl),
		lastAccessedAt: now,
		sizeBytes:      len(payload),
		compressed:     persist && compress,
		priority:       o.priority,
		tags:           dedupe(o.tags),
		dependencies:   dedupe(o.deps),
		persist:        persist,
	}

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictLocked(StrategySize, defaultEvictLimit(c.cfg.MaxEntries), now)
	}
	c.replaceLocked(e)
	// Snapshot while holding the lock; e is published now and a concurrent
	// Get may mutate its access metadata.
	meta := e.metadata()
	c.mu.Unlock()

	if persist {
		c.persistAsync(meta, payload)
	}
	c.stats.recordAccess(key, time.Since(start))
	return true
}

// Get returns a copy of the value stored under key. Metadata-only entries
// hydrate synchronously from the durable tier, blocking only callers of this
// key. An expired entry is deleted and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	start := time.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		if c.cfg.Durable == nil {
			c.stats.miss()
			return zero, false
		}
		return c.getFromDurable(key, start)
	}
	now := c.now()
	if e.expired(now) {
		c.removeLocked(key, true)
		c.mu.Unlock()
		c.stats.miss()
		return zero, false
	}

	body, isHydrated := e.body.(hydrated)
	if !isHydrated {
		c.mu.Unlock()
		return c.getFromDurable(key, start)
	}
	e.accessCount++
	e.lastAccessedAt = now
	payload := body.payload
	c.mu.Unlock()

	v, err := decode[V](payload)
	if err != nil {
		// The entry can never serve this cache's value type; keeping it
		// would leave Has reporting a key Get can only miss on.
		c.log.Warn("get: stored payload does not decode into the requested type, removing",
			zap.String("key", key), zap.Error(err))
		c.mu.Lock()
		c.removeLocked(key, true)
		c.mu.Unlock()
		c.stats.miss()
		return zero, false
	}
	c.stats.hit()
	c.stats.recordAccess(key, time.Since(start))
	return v, true
}

// Has reports whether key resolves to a live entry. Like Get it deletes an
// entry it observes expired, but it mutates no access metadata and counts
// toward neither hits nor misses.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.expired(c.now()) {
		c.removeLocked(key, true)
		return false
	}
	return true
}

// GetOrCompute returns the cached value for key, or invokes compute on a
// confirmed miss and stores its result. Concurrent callers of the same
// missing key share one compute invocation.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (V, error), opts ...SetOption) (V, error) {
	var zero V
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	res, err, _ := c.flight.Do("compute\x00"+key, func() (any, error) {
		// Another caller may have stored the result while we queued.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, opts...)
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(V), nil
}

// Delete removes key from the memory tier, the durable tier, and both
// invalidation indices. It reports whether an entry existed.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.removeLocked(key, true)
	return true
}

// Clear removes every entry, clears both indices and all per-key access
// histories, and resets the hit/miss counters, so a cleared cache is
// indistinguishable from a fresh one. Durable records under the instance
// namespace are removed in the background.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.index.clear()
	c.mu.Unlock()
	c.stats.reset()

	if c.cfg.Durable == nil {
		return
	}
	c.spawn(func() {
		ctx := context.Background()
		keys, err := c.cfg.Durable.ListKeys(ctx, c.namespacePrefix())
		if err != nil {
			c.log.Warn("clear: durable key listing failed", zap.Error(err))
			return
		}
		for _, k := range keys {
			if err := c.cfg.Durable.Remove(ctx, k); err != nil {
				c.log.Warn("clear: durable remove failed",
					zap.String("key", k), zap.Error(err))
			}
		}
	})
}

// ClearPattern removes every entry whose key matches the regular expression
// pattern, across both tiers, and returns the number removed.
func (c *Cache[V]) ClearPattern(pattern string) (int, error) {
	re, err := c.patterns.compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("resultcache: invalid pattern %q: %w", pattern, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var victims []string
	for key := range c.entries {
		if re.MatchString(key) {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		c.removeLocked(key, true)
	}
	return len(victims), nil
}

// InvalidateByTag deletes every entry labelled with tag and returns the
// number removed.
func (c *Cache[V]) InvalidateByTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.index.keysForTag(tag)
	for _, key := range keys {
		c.removeLocked(key, true)
	}
	return len(keys)
}

// InvalidateByDependency deletes every entry derived from dep and returns
// the number removed.
func (c *Cache[V]) InvalidateByDependency(dep string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.index.keysForDependency(dep)
	for _, key := range keys {
		c.removeLocked(key, true)
	}
	return len(keys)
}

// Evict runs one sweep with the given strategy. A non-positive limit means
// the default of a tenth of capacity, minimum one; the TTL strategy ignores
// the limit entirely. It returns the number of entries removed.
func (c *Cache[V]) Evict(strategy Strategy, limit int) int {
	if limit <= 0 {
		limit = defaultEvictLimit(c.cfg.MaxEntries)
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(strategy, limit, now)
}

// Len returns the number of entries currently in the store, hydrated or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns an aggregate snapshot of cache activity.
func (c *Cache[V]) Stats() Statistics {
	c.mu.Lock()
	total := len(c.entries)
	var totalSize, memoryUsage int64
	for _, e := range c.entries {
		totalSize += int64(e.sizeBytes)
		if _, ok := e.body.(hydrated); ok {
			memoryUsage += int64(e.sizeBytes)
		}
	}
	c.mu.Unlock()
	return c.stats.snapshot(total, totalSize, memoryUsage)
}

// Warm fills the cache for the given keys using loader, skipping keys that
// are already live. Loader failures are logged and skipped; Warm only fails
// when ctx is done.
func (c *Cache[V]) Warm(ctx context.Context, keys []string, loader func(context.Context, string) (V, error), opts ...SetOption) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Has(key) {
			continue
		}
		v, err := loader(ctx, key)
		if err != nil {
			c.log.Warn("warm: loader failed", zap.String("key", key), zap.Error(err))
			continue
		}
		c.Set(key, v, opts...)
	}
	return nil
}

// Preload bulk-fills the cache from loader.
func (c *Cache[V]) Preload(ctx context.Context, loader func(context.Context) (map[string]V, error), opts ...SetOption) error {
	values, err := loader(ctx)
	if err != nil {
		return err
	}
	for key, v := range values {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Set(key, v, opts...)
	}
	c.log.Debug("preloaded cache entries", zap.Int("count", len(values)))
	return nil
}

// Close stops the maintenance scheduler and drains pending durable writes.
// The cache rejects Set afterwards; reads keep working, but durable
// operations they would schedule are dropped.
func (c *Cache[V]) Close() error {
	c.asyncMu.Lock()
	alreadyClosed := c.closed.Swap(true)
	c.asyncMu.Unlock()
	if alreadyClosed {
		return nil
	}
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
	c.persistWG.Wait()
	return nil
}

// spawn runs task on the persist WaitGroup unless the cache is closed.
// Taking asyncMu around the Add means every background durable operation
// either starts before Close begins waiting, and is drained, or not at all.
func (c *Cache[V]) spawn(task func()) {
	c.asyncMu.Lock()
	if c.closed.Load() {
		c.asyncMu.Unlock()
		return
	}
	c.persistWG.Add(1)
	c.asyncMu.Unlock()
	go func() {
		defer c.persistWG.Done()
		task()
	}()
}

// getFromDurable hydrates key from the durable tier, coalescing concurrent
// callers of the same key, and finishes the access the way a memory hit
// would.
func (c *Cache[V]) getFromDurable(key string, start time.Time) (V, bool) {
	var zero V
	res, err, _ := c.flight.Do("hydrate\x00"+key, func() (any, error) {
		return c.hydrate(key)
	})
	if err != nil {
		c.stats.miss()
		return zero, false
	}
	payload := res.([]byte)
	v, err := decode[V](payload)
	if err != nil {
		// The payload was valid JSON; failing here means the durable record
		// was written for an incompatible value type.
		c.log.Warn("hydrate: payload does not decode into the requested type, removing",
			zap.String("key", key), zap.Error(err))
		c.removeBothTiers(key)
		c.stats.miss()
		return zero, false
	}
	c.stats.hit()
	c.stats.recordAccess(key, time.Since(start))
	return v, true
}

// hydrate loads one record, re-inserts it into the memory tier, and returns
// the decompressed payload. Corrupt or expired records are removed from the
// durable tier; I/O failures leave the metadata-only entry in place so a
// later access can retry.
func (c *Cache[V]) hydrate(key string) ([]byte, error) {
	ctx := context.Background()
	rec, ok, err := c.cfg.Durable.Load(ctx, c.durableKey(key))
	if err != nil {
		c.log.Warn("hydrate: durable load failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return nil, errDurableMiss
	}
	if !ok {
		c.dropMemoryOnly(key)
		return nil, errDurableMiss
	}

	payload := rec.Payload
	if rec.Compressed {
		payload, err = decompressPayload(rec.Payload)
		if err != nil {
			c.discardCorrupt(key, err)
			return nil, errDurableMiss
		}
	}
	if !json.Valid(payload) {
		c.discardCorrupt(key, errors.New("payload is not valid JSON"))
		return nil, errDurableMiss
	}

	now := c.now()
	if now.After(rec.ExpiresAt) {
		c.removeBothTiers(key)
		return nil, errDurableMiss
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		m := rec.Metadata
		m.Key = key
		if len(c.entries) >= c.cfg.MaxEntries {
			c.evictLocked(StrategySize, defaultEvictLimit(c.cfg.MaxEntries), now)
		}
		e = entryFromMetadata(m, true)
		c.replaceLocked(e)
	}
	e.body = hydrated{payload: payload}
	e.accessCount++
	e.lastAccessedAt = now
	c.mu.Unlock()
	return payload, nil
}

// seedFromDurable populates the store with metadata-only entries for every
// surviving durable key, bounding startup cost to metadata reads.
func (c *Cache[V]) seedFromDurable(ctx context.Context) {
	prefix := c.namespacePrefix()
	if lister, ok := c.cfg.Durable.(MetadataLister); ok {
		metas, err := lister.ListMetadata(ctx, prefix)
		if err != nil {
			c.log.Warn("seed: durable metadata listing failed, starting empty", zap.Error(err))
			return
		}
		c.seedEntries(metas, prefix)
		return
	}

	keys, err := c.cfg.Durable.ListKeys(ctx, prefix)
	if err != nil {
		c.log.Warn("seed: durable key listing failed, starting empty", zap.Error(err))
		return
	}
	var metas []Metadata
	for _, k := range keys {
		rec, ok, err := c.cfg.Durable.Load(ctx, k)
		if err != nil {
			c.log.Warn("seed: durable load failed, skipping key",
				zap.String("key", k), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		m := rec.Metadata
		m.Key = k
		metas = append(metas, m)
	}
	c.seedEntries(metas, prefix)
}

func (c *Cache[V]) seedEntries(metas []Metadata, prefix string) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range metas {
		key := strings.TrimPrefix(m.Key, prefix)
		if key == "" || now.After(m.ExpiresAt) {
			continue
		}
		m.Key = key
		c.replaceLocked(entryFromMetadata(m, true))
	}
	if excess := len(c.entries) - c.cfg.MaxEntries; excess > 0 {
		c.evictLocked(StrategyLRU, excess, now)
	}
}

// persistAsync writes one record through to the durable tier with bounded
// retries. The in-memory write already succeeded, so failure only degrades
// the entry to memory-only.
func (c *Cache[V]) persistAsync(meta Metadata, payload []byte) {
	c.spawn(func() {
		stored := payload
		if meta.Compressed {
			compressed, err := compressPayload(payload)
			if err != nil {
				c.log.Warn("persist: compression failed, storing uncompressed",
					zap.String("key", meta.Key), zap.Error(err))
				meta.Compressed = false
			} else {
				stored = compressed
			}
		}
		key := meta.Key
		meta.Key = c.durableKey(key)
		rec := Record{Metadata: meta, Payload: stored}

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 50 * time.Millisecond
		op := func() error {
			return c.cfg.Durable.Persist(context.Background(), meta.Key, rec)
		}
		if err := backoff.Retry(op, backoff.WithMaxRetries(bo, persistRetries)); err != nil {
			c.log.Warn("persist: durable write failed, entry is memory-only",
				zap.String("key", key), zap.Error(err))
			return
		}
		c.stats.recordPersist(key, int64(len(stored)))
	})
}

// evictLocked selects victims over a snapshot of the current entries and
// removes them through the standard delete path, keeping both indices
// consistent. Callers hold c.mu.
func (c *Cache[V]) evictLocked(strategy Strategy, limit int, now time.Time) int {
	if len(c.entries) == 0 {
		return 0
	}
	snapshot := make([]entryMeta, 0, len(c.entries))
	for _, e := range c.entries {
		snapshot = append(snapshot, e.snapshot())
	}
	victims := evictionVictims(snapshot, strategy, limit, now)
	for _, key := range victims {
		c.removeLocked(key, true)
	}
	c.stats.addEvictions(len(victims))
	return len(victims)
}

// replaceLocked installs e, first unlinking any previous generation of the
// key from both indices so no index entry ever references a stale
// generation. Callers hold c.mu.
func (c *Cache[V]) replaceLocked(e *entry) {
	if old, ok := c.entries[e.key]; ok {
		c.index.remove(e.key, old.tags, old.dependencies)
	}
	c.entries[e.key] = e
	c.index.add(e.key, e.tags, e.dependencies)
}

// removeLocked deletes one entry plus its index references and access
// history, optionally scheduling the durable record's removal. Callers hold
// c.mu.
func (c *Cache[V]) removeLocked(key string, dropDurable bool) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.index.remove(key, e.tags, e.dependencies)
	c.stats.dropKey(key)
	if dropDurable && e.persist && c.cfg.Durable != nil {
		c.removeDurableAsync(key)
	}
}

func (c *Cache[V]) removeDurableAsync(key string) {
	c.spawn(func() {
		if err := c.cfg.Durable.Remove(context.Background(), c.durableKey(key)); err != nil {
			c.log.Warn("durable remove failed", zap.String("key", key), zap.Error(err))
		}
	})
}

// dropMemoryOnly removes a stale metadata-only placeholder whose durable
// record has disappeared.
func (c *Cache[V]) dropMemoryOnly(key string) {
	c.mu.Lock()
	c.removeLocked(key, false)
	c.mu.Unlock()
}

// discardCorrupt removes a record that failed to decode on hydration from
// both tiers.
func (c *Cache[V]) discardCorrupt(key string, err error) {
	c.log.Warn("hydrate: corrupt durable record, removing",
		zap.String("key", key), zap.Error(err))
	c.removeBothTiers(key)
}

func (c *Cache[V]) removeBothTiers(key string) {
	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		c.removeLocked(key, true)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.removeDurableAsync(key)
}

func (c *Cache[V]) namespacePrefix() string {
	return c.cfg.Namespace + ":"
}

func (c *Cache[V]) durableKey(key string) string {
	return c.cfg.Namespace + ":" + key
}

func dedupe(values []string) []string {
	if len(values) < 2 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
