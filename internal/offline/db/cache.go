package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutCacheEntry stores a cached value under key. A nil expiresAt means the
// entry never expires. Overwrites any existing entry for the key.
func (db *DB) PutCacheEntry(ctx context.Context, key string, data []byte, expiresAt *time.Time) error {
	var expires sql.NullInt64
	if expiresAt != nil {
		expires = sql.NullInt64{Int64: expiresAt.UnixNano(), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO cache_entries (key, data, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at
	`, key, data, expires)
	if err != nil {
		return fmt.Errorf("failed to put cache entry %s: %w", key, err)
	}
	return nil
}

// GetCacheEntry returns the cached value for key, or ok=false on a miss.
//
// Expired entries are evicted on read: if the entry's expiry has passed it
// is deleted and reported as a miss.
func (db *DB) GetCacheEntry(ctx context.Context, key string) (data []byte, ok bool, err error) {
	var expires sql.NullInt64
	err = db.conn.QueryRowContext(ctx,
		"SELECT data, expires_at FROM cache_entries WHERE key = ?", key).Scan(&data, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry %s: %w", key, err)
	}

	if expires.Valid && time.Now().UnixNano() >= expires.Int64 {
		if _, err := db.conn.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
			return nil, false, fmt.Errorf("failed to evict expired cache entry %s: %w", key, err)
		}
		return nil, false, nil
	}

	return data, true, nil
}

// DeleteCacheEntry removes a cached value. Idempotent.
func (db *DB) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}
