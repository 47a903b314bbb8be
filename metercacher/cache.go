// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metercacher provides a Prometheus-metered resultcache wrapper.
package metercacher

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/resultcache"
)

// Cache wraps a resultcache.Cache with metrics.
type Cache[V any] struct {
	*resultcache.Cache[V]
	metrics *cacheMetrics
}

// New creates a new metered cache wrapper. Registration failures (for
// example a duplicate namespace on one registry) are returned to the caller.
func New[V any](namespace string, reg prometheus.Registerer, c *resultcache.Cache[V]) (*Cache[V], error) {
	metrics, err := newMetrics(namespace, reg)
	if err != nil {
		return nil, err
	}
	return &Cache[V]{
		Cache:   c,
		metrics: metrics,
	}, nil
}

func (c *Cache[V]) Set(key string, value V, opts ...resultcache.SetOption) bool {
	start := time.Now()
	ok := c.Cache.Set(key, value, opts...)
	c.metrics.setCount.Inc()
	c.metrics.setTime.Add(time.Since(start).Seconds())
	c.updateGauges()
	return ok
}

func (c *Cache[V]) Get(key string) (V, bool) {
	start := time.Now()
	value, ok := c.Cache.Get(key)
	c.observeGet(ok, time.Since(start))
	return value, ok
}

func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (V, error), opts ...resultcache.SetOption) (V, error) {
	start := time.Now()
	value, err := c.Cache.GetOrCompute(ctx, key, compute, opts...)
	c.observeGet(err == nil, time.Since(start))
	c.updateGauges()
	return value, err
}

func (c *Cache[V]) Delete(key string) bool {
	ok := c.Cache.Delete(key)
	c.updateGauges()
	return ok
}

func (c *Cache[V]) InvalidateByTag(tag string) int {
	n := c.Cache.InvalidateByTag(tag)
	c.updateGauges()
	return n
}

func (c *Cache[V]) InvalidateByDependency(dep string) int {
	n := c.Cache.InvalidateByDependency(dep)
	c.updateGauges()
	return n
}

func (c *Cache[V]) Evict(strategy resultcache.Strategy, limit int) int {
	n := c.Cache.Evict(strategy, limit)
	c.updateGauges()
	return n
}

func (c *Cache[V]) Clear() {
	c.Cache.Clear()
	c.updateGauges()
}

func (c *Cache[V]) observeGet(hit bool, d time.Duration) {
	labels := missLabels
	if hit {
		labels = hitLabels
	}
	c.metrics.getCount.With(labels).Inc()
	c.metrics.getTime.With(labels).Add(d.Seconds())
}

func (c *Cache[V]) updateGauges() {
	stats := c.Cache.Stats()
	c.metrics.entries.Set(float64(stats.TotalEntries))
	c.metrics.sizeBytes.Set(float64(stats.TotalSizeBytes))
	c.metrics.evictions.Set(float64(stats.EvictionCount))
}
