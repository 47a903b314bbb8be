// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resultcache

import "time"

// setOptions carries the per-call knobs of Set, pre-filled from the instance
// config before options are applied.
type setOptions struct {
	ttl      time.Duration
	priority Priority
	tags     []string
	deps     []string
	compress *bool // nil: compress when the payload exceeds the threshold
	persist  bool
}

// SetOption customizes a single Set call.
type SetOption func(*setOptions)

// WithTTL overrides the instance default TTL. Non-positive durations fall
// back to the default.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithPriority sets the entry's eviction priority. Invalid values are
// ignored.
func WithPriority(p Priority) SetOption {
	return func(o *setOptions) {
		if p.valid() {
			o.priority = p
		}
	}
}

// WithTags labels the entry for bulk invalidation via InvalidateByTag.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) {
		o.tags = append(o.tags, tags...)
	}
}

// WithDependencies records identifiers the entry is derived from, for bulk
// invalidation via InvalidateByDependency.
func WithDependencies(deps ...string) SetOption {
	return func(o *setOptions) {
		o.deps = append(o.deps, deps...)
	}
}

// WithCompression forces the durable representation to be compressed (or
// not), overriding the size threshold.
func WithCompression(enabled bool) SetOption {
	return func(o *setOptions) {
		o.compress = &enabled
	}
}

// WithoutPersistence keeps the entry memory-only even when a durable tier is
// configured.
func WithoutPersistence() SetOption {
	return func(o *setOptions) {
		o.persist = false
	}
}

func (c *Cache[V]) newSetOptions(opts []SetOption) setOptions {
	o := setOptions{
		ttl:      c.cfg.DefaultTTL,
		priority: c.cfg.DefaultPriority,
		persist:  c.persistByDefault,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if c.cfg.Durable == nil {
		o.persist = false
	}
	return o
}
