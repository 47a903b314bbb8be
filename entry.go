// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resultcache

import "time"

// Priority orders entries for priority-based eviction. Lower priorities are
// evicted first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

func (p Priority) valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// body is the hydration state of an entry. An entry either holds its
// canonical payload in memory, or holds metadata only and must load the
// payload from the durable tier on first access. Code reading an entry's
// value must type-switch over both variants.
type body interface {
	isBody()
}

// hydrated carries the canonical JSON payload, always decompressed.
type hydrated struct {
	payload []byte
}

// metadataOnly marks an entry seeded from the durable tier whose payload has
// not been loaded yet.
type metadataOnly struct{}

func (hydrated) isBody()     {}
func (metadataOnly) isBody() {}

// entry is the store-internal representation of one cached value. All fields
// are guarded by the cache mutex.
type entry struct {
	key            string
	body           body
	createdAt      time.Time
	expiresAt      time.Time
	accessCount    uint64
	lastAccessedAt time.Time
	sizeBytes      int
	compressed     bool // durable representation only
	priority       Priority
	tags           []string
	dependencies   []string
	persist        bool
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

func (e *entry) metadata() Metadata {
	return Metadata{
		Key:            e.key,
		CreatedAt:      e.createdAt,
		ExpiresAt:      e.expiresAt,
		AccessCount:    e.accessCount,
		LastAccessedAt: e.lastAccessedAt,
		SizeBytes:      e.sizeBytes,
		Compressed:     e.compressed,
		Priority:       e.priority,
		Tags:           e.tags,
		Dependencies:   e.dependencies,
	}
}

func (e *entry) snapshot() entryMeta {
	return entryMeta{
		key:            e.key,
		expiresAt:      e.expiresAt,
		lastAccessedAt: e.lastAccessedAt,
		accessCount:    e.accessCount,
		sizeBytes:      e.sizeBytes,
		priority:       e.priority,
	}
}

// entryFromMetadata rebuilds a metadata-only entry, e.g. when seeding the
// store from the durable tier at startup.
func entryFromMetadata(m Metadata, persist bool) *entry {
	return &entry{
		key:            m.Key,
		body:           metadataOnly{},
		createdAt:      m.CreatedAt,
		expiresAt:      m.ExpiresAt,
		accessCount:    m.AccessCount,
		lastAccessedAt: m.LastAccessedAt,
		sizeBytes:      m.SizeBytes,
		compressed:     m.Compressed,
		priority:       m.Priority,
		tags:           m.Tags,
		dependencies:   m.Dependencies,
		persist:        persist,
	}
}
