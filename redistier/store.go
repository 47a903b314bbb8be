// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package redistier is a Redis-backed durable tier for resultcache. A
// record's metadata and payload live under separate keys so metadata can be
// listed without moving payloads, and entry expiry maps onto Redis key TTLs.
package redistier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luxfi/resultcache"
)

const (
	metaPrefix  = "m:"
	valuePrefix = "v:"
)

// Store implements resultcache.DurableTier and resultcache.MetadataLister
// over a Redis client.
type Store struct {
	client *redis.Client
}

var (
	_ resultcache.DurableTier    = (*Store)(nil)
	_ resultcache.MetadataLister = (*Store)(nil)
)

// New wraps an existing client. The store does not own the client's
// lifecycle.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Persist writes metadata and payload under separate keys, both expiring at
// the record's ExpiresAt. Records that are already expired are removed
// instead.
func (s *Store) Persist(ctx context.Context, key string, rec resultcache.Record) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return s.Remove(ctx, key)
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("redistier: encode metadata: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, metaPrefix+key, meta, ttl)
	pipe.Set(ctx, valuePrefix+key, rec.Payload, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redistier: persist %s: %w", key, err)
	}
	return nil
}

// Load reads one record; ok is false when either half is gone (Redis may
// expire the two keys independently by a small margin).
func (s *Store) Load(ctx context.Context, key string) (resultcache.Record, bool, error) {
	meta, err := s.client.Get(ctx, metaPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return resultcache.Record{}, false, nil
	}
	if err != nil {
		return resultcache.Record{}, false, fmt.Errorf("redistier: load metadata %s: %w", key, err)
	}
	payload, err := s.client.Get(ctx, valuePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return resultcache.Record{}, false, nil
	}
	if err != nil {
		return resultcache.Record{}, false, fmt.Errorf("redistier: load payload %s: %w", key, err)
	}

	var rec resultcache.Record
	if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
		return resultcache.Record{}, false, fmt.Errorf("redistier: decode metadata %s: %w", key, err)
	}
	rec.Payload = payload
	return rec, true, nil
}

// Remove deletes both halves of a record; removing an absent key is not an
// error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, metaPrefix+key, valuePrefix+key).Err(); err != nil {
		return fmt.Errorf("redistier: remove %s: %w", key, err)
	}
	return nil
}

// ListKeys scans the metadata keyspace under prefix.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, metaPrefix+prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(metaPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redistier: scan keys: %w", err)
	}
	return keys, nil
}

// ListMetadata scans and bulk-fetches every record's metadata under prefix
// without touching payloads.
func (s *Store) ListMetadata(ctx context.Context, prefix string) ([]resultcache.Metadata, error) {
	var metaKeys []string
	iter := s.client.Scan(ctx, 0, metaPrefix+prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		metaKeys = append(metaKeys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redistier: scan metadata keys: %w", err)
	}
	if len(metaKeys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, metaKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redistier: fetch metadata: %w", err)
	}
	metas := make([]resultcache.Metadata, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired between SCAN and MGET.
			continue
		}
		var m resultcache.Metadata
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("redistier: decode metadata %s: %w", metaKeys[i], err)
		}
		metas = append(metas, m)
	}
	return metas, nil
}
