package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bodegahq/bodega/internal/offline/db"
)

// Entries is a read-through cache over the durable store's cache_entries
// table, for non-mutation data (reference lists, rates) with a TTL.
// Independent of the sync-critical path.
type Entries struct {
	store  *db.DB
	logger *log.Logger
}

// NewEntries creates a read-through cache over an opened store.
func NewEntries(store *db.DB, logger *log.Logger) *Entries {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &Entries{store: store, logger: logger}
}

// GetOrFetch returns the cached value for key, fetching and storing it with
// the given TTL on a miss. Expired entries are evicted on read by the store.
//
// A failure to persist the fetched value is logged but not returned: the
// fetch succeeded and the caller should get its data.
func (e *Entries) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	data, ok, err := e.store.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	if ok {
		return data, nil
	}

	data, err = fetch(ctx)
	if err != nil {
		return nil, err
	}

	var expires *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expires = &t
	}
	if err := e.store.PutCacheEntry(ctx, key, data, expires); err != nil {
		e.logger.Printf("Warning: failed to cache %s: %v", key, err)
	}

	return data, nil
}

// Invalidate drops a cached value. Idempotent.
func (e *Entries) Invalidate(ctx context.Context, key string) error {
	return e.store.DeleteCacheEntry(ctx, key)
}
