// Package queue provides the caller-facing repository for the offline
// mutation queue. It is the only API other packages use to enqueue and
// inspect queued actions; the storage engine's shape stays behind it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bodegahq/bodega/internal/offline/db"
	"github.com/bodegahq/bodega/internal/offline/schema"
)

// ErrStorageUnavailable means the local queue store could not be written.
// This is the only error class that should ever stop an offline-path write
// from completing.
var ErrStorageUnavailable = errors.New("local queue storage unavailable")

// ErrDuplicateKey re-exports the store's duplicate-id error so callers don't
// need to import the storage package to classify it.
var ErrDuplicateKey = db.ErrDuplicateKey

// Repository wraps the durable queue store with enqueue semantics: id
// synthesis, timestamping, and error classification.
type Repository struct {
	store  *db.DB
	logger *log.Logger
}

// New creates a Repository over an opened, schema-initialized store.
//
// If logger is nil, a default logger writing to stderr is used.
func New(store *db.DB, logger *log.Logger) *Repository {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Repository{store: store, logger: logger}
}

// Enqueue records a mutation for later replay against the remote store.
//
// For creates, the payload is given a client-generated primary id (and ids
// for any nested line items) if it lacks one. Updates and deletes must
// already carry the target document id. The enqueue never touches the
// network; it either commits locally and returns promptly or fails with
// ErrStorageUnavailable (or ErrDuplicateKey on an id collision).
func (r *Repository) Enqueue(ctx context.Context, kind schema.OperationKind, collection string, payload map[string]any) (*schema.QueuedAction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
	if !schema.KnownCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	if kind == schema.OpCreate {
		schema.EnsureDocumentIDs(payload)
	} else {
		if id, _ := payload["id"].(string); id == "" {
			return nil, fmt.Errorf("%s on %s requires a document id in the payload", kind, collection)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	action := &schema.QueuedAction{
		ID:         schema.NewActionID(collection, kind),
		Kind:       kind,
		Collection: collection,
		Payload:    raw,
		EnqueuedAt: time.Now(),
	}

	if err := r.store.AddAction(ctx, action); err != nil {
		if errors.Is(err, db.ErrDuplicateKey) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	r.logger.Printf("Enqueued %s on %s: %s", kind, collection, action.ID)
	return action, nil
}

// GetPending returns all not-yet-synced actions, oldest first.
func (r *Repository) GetPending(ctx context.Context) ([]*schema.QueuedAction, error) {
	actions, err := r.store.PendingActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return actions, nil
}

// GetPendingCount returns the number of not-yet-synced actions.
func (r *Repository) GetPendingCount(ctx context.Context) (int, error) {
	count, err := r.store.PendingCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return count, nil
}

// Remove deletes an action by id. Idempotent.
func (r *Repository) Remove(ctx context.Context, id string) error {
	if err := r.store.RemoveAction(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Clear removes every queued action and returns how many were dropped.
// Administrative/debug use only; the sync path never calls this.
func (r *Repository) Clear(ctx context.Context) (int64, error) {
	n, err := r.store.ClearActions(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if n > 0 {
		r.logger.Printf("Cleared %d queued actions", n)
	}
	return n, nil
}
