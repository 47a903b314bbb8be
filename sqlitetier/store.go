// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sqlitetier is a SQLite-backed durable tier for resultcache.
// Records live in a single table; metadata queries never touch the payload
// column, so startup seeding stays cheap.
package sqlitetier

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/luxfi/resultcache"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key              TEXT PRIMARY KEY,
	created_at       INTEGER NOT NULL,
	expires_at       INTEGER NOT NULL,
	access_count     INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL,
	size_bytes       INTEGER NOT NULL,
	compressed       INTEGER NOT NULL,
	priority         INTEGER NOT NULL,
	tags             TEXT NOT NULL,
	dependencies     TEXT NOT NULL,
	payload          BLOB NOT NULL
);
`

// Store implements resultcache.DurableTier and resultcache.MetadataLister
// over a SQLite database file.
type Store struct {
	db *sql.DB
}

var (
	_ resultcache.DurableTier    = (*Store)(nil)
	_ resultcache.MetadataLister = (*Store)(nil)
)

// Open opens (creating if necessary) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitetier: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitetier: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitetier: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Persist upserts one record.
func (s *Store) Persist(ctx context.Context, key string, rec resultcache.Record) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("sqlitetier: encode tags: %w", err)
	}
	deps, err := json.Marshal(rec.Dependencies)
	if err != nil {
		return fmt.Errorf("sqlitetier: encode dependencies: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries
			(key, created_at, expires_at, access_count, last_accessed_at,
			 size_bytes, compressed, priority, tags, dependencies, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			created_at=excluded.created_at,
			expires_at=excluded.expires_at,
			access_count=excluded.access_count,
			last_accessed_at=excluded.last_accessed_at,
			size_bytes=excluded.size_bytes,
			compressed=excluded.compressed,
			priority=excluded.priority,
			tags=excluded.tags,
			dependencies=excluded.dependencies,
			payload=excluded.payload`,
		key,
		rec.CreatedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		rec.AccessCount,
		rec.LastAccessedAt.UnixMilli(),
		rec.SizeBytes,
		boolToInt(rec.Compressed),
		int(rec.Priority),
		string(tags),
		string(deps),
		rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("sqlitetier: persist %s: %w", key, err)
	}
	return nil
}

// Load reads one record; ok is false when the key is absent.
func (s *Store) Load(ctx context.Context, key string) (resultcache.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, created_at, expires_at, access_count, last_accessed_at,
		       size_bytes, compressed, priority, tags, dependencies, payload
		FROM cache_entries WHERE key = ?`, key)

	var rec resultcache.Record
	var createdAt, expiresAt, lastAccessedAt int64
	var compressed, priority int
	var tags, deps string
	err := row.Scan(&rec.Key, &createdAt, &expiresAt, &rec.AccessCount,
		&lastAccessedAt, &rec.SizeBytes, &compressed, &priority,
		&tags, &deps, &rec.Payload)
	if err == sql.ErrNoRows {
		return resultcache.Record{}, false, nil
	}
	if err != nil {
		return resultcache.Record{}, false, fmt.Errorf("sqlitetier: load %s: %w", key, err)
	}

	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.ExpiresAt = time.UnixMilli(expiresAt)
	rec.LastAccessedAt = time.UnixMilli(lastAccessedAt)
	rec.Compressed = compressed != 0
	rec.Priority = resultcache.Priority(priority)
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return resultcache.Record{}, false, fmt.Errorf("sqlitetier: decode tags for %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(deps), &rec.Dependencies); err != nil {
		return resultcache.Record{}, false, fmt.Errorf("sqlitetier: decode dependencies for %s: %w", key, err)
	}
	return rec, true, nil
}

// Remove deletes one record; removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlitetier: remove %s: %w", key, err)
	}
	return nil
}

// ListKeys returns every stored key under prefix.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE key LIKE ? || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlitetier: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlitetier: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ListMetadata returns the metadata of every record under prefix without
// reading payloads.
func (s *Store) ListMetadata(ctx context.Context, prefix string) ([]resultcache.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, created_at, expires_at, access_count, last_accessed_at,
		       size_bytes, compressed, priority, tags, dependencies
		FROM cache_entries WHERE key LIKE ? || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlitetier: list metadata: %w", err)
	}
	defer rows.Close()

	var metas []resultcache.Metadata
	for rows.Next() {
		var m resultcache.Metadata
		var createdAt, expiresAt, lastAccessedAt int64
		var compressed, priority int
		var tags, deps string
		if err := rows.Scan(&m.Key, &createdAt, &expiresAt, &m.AccessCount,
			&lastAccessedAt, &m.SizeBytes, &compressed, &priority, &tags, &deps); err != nil {
			return nil, fmt.Errorf("sqlitetier: scan metadata: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		m.ExpiresAt = time.UnixMilli(expiresAt)
		m.LastAccessedAt = time.UnixMilli(lastAccessedAt)
		m.Compressed = compressed != 0
		m.Priority = resultcache.Priority(priority)
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, fmt.Errorf("sqlitetier: decode tags for %s: %w", m.Key, err)
		}
		if err := json.Unmarshal([]byte(deps), &m.Dependencies); err != nil {
			return nil, fmt.Errorf("sqlitetier: decode dependencies for %s: %w", m.Key, err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
