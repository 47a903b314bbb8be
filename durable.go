// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resultcache

import (
	"context"
	"time"
)

// Metadata is the durable-tier view of an entry without its payload. Keys
// carry the instance namespace prefix when stored.
type Metadata struct {
	Key            string    `json:"key"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	AccessCount    uint64    `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	SizeBytes      int       `json:"size_bytes"`
	Compressed     bool      `json:"compressed"`
	Priority       Priority  `json:"priority"`
	Tags           []string  `json:"tags,omitempty"`
	Dependencies   []string  `json:"dependencies,omitempty"`
}

// Record is the durable representation of an entry: its metadata plus the
// payload, gzip-compressed when Compressed is set.
type Record struct {
	Metadata
	Payload []byte `json:"payload"`
}

// DurableTier is the narrow contract to an external key-value backend used
// for overflow and restart survival. Any store satisfying it is pluggable.
// Implementations must tolerate keys that do not exist: Load reports a miss
// with ok=false, Remove of an absent key is not an error.
type DurableTier interface {
	Persist(ctx context.Context, key string, rec Record) error
	Load(ctx context.Context, key string) (Record, bool, error)
	Remove(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// MetadataLister is an optional DurableTier extension that lists entry
// metadata without reading payloads. The cache uses it at startup to seed
// metadata-only entries in O(number of keys) reads; tiers that do not
// implement it fall back to a full Load per key.
type MetadataLister interface {
	ListMetadata(ctx context.Context, prefix string) ([]Metadata, error)
}
