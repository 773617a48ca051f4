// Package mutate provides the offline-aware mutation wrapper: the single
// decision point every create/update/delete passes through.
//
// Online, the wrapper runs the caller's remote mutation directly and hands
// back its result or error unchanged. Offline, it gives the document a
// stable identity, commits it to the durable queue, tells the user the work
// is saved locally, and returns optimistic data immediately - no network
// I/O ever happens on the offline path, so the caller never observes a hang.
package mutate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/bodegahq/bodega/internal/offline/cache"
	"github.com/bodegahq/bodega/internal/offline/queue"
	"github.com/bodegahq/bodega/internal/offline/schema"
)

// Connectivity is the live connectivity check the wrapper consults at call
// time. The decision must reflect the instant of submission, so this is a
// probe, not a cached flag.
type Connectivity interface {
	ProbeNow(ctx context.Context) bool
}

// Notifier surfaces non-blocking, user-visible acknowledgements (toasts).
type Notifier interface {
	Notify(message string)
}

// LogNotifier routes notifications to a logger. The default when no UI is
// attached.
type LogNotifier struct {
	Logger *log.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(message string) {
	n.Logger.Printf("Notice: %s", message)
}

// OnlineFunc performs the mutation directly against the remote store.
type OnlineFunc func(ctx context.Context) (map[string]any, error)

// OptimisticFunc computes the data returned to the caller on the offline
// path, from the (id-stamped) queued payload.
type OptimisticFunc func(payload map[string]any) map[string]any

// Mutation describes a single logical write.
type Mutation struct {
	Collection string
	Kind       schema.OperationKind

	// Variables is the caller's document; cloned before queueing so later
	// caller mutations can't corrupt the queued payload.
	Variables map[string]any

	// Online performs the mutation against the remote store.
	Online OnlineFunc

	// Optimistic computes offline return data. If nil, the queued payload
	// itself is returned.
	Optimistic OptimisticFunc
}

// Wrapper routes mutations between the remote store and the offline queue.
type Wrapper struct {
	repo     *queue.Repository
	conn     Connectivity
	cache    *cache.Store
	notifier Notifier
	logger   *log.Logger
}

// New creates a Wrapper.
//
// The cache is optional: when present, offline mutations are also applied to
// the in-memory read cache so the UI reflects them without a reload. If
// notifier is nil, notifications go to the logger.
func New(repo *queue.Repository, conn Connectivity, readCache *cache.Store, notifier Notifier, logger *log.Logger) *Wrapper {
	if logger == nil {
		logger = log.New(os.Stderr, "[mutate] ", log.LstdFlags)
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Wrapper{
		repo:     repo,
		conn:     conn,
		cache:    readCache,
		notifier: notifier,
		logger:   logger,
	}
}

// Do executes a mutation, online or queued.
//
// Online errors propagate unchanged. Offline, the only errors are the local
// queue's (queue.ErrStorageUnavailable, queue.ErrDuplicateKey), surfaced
// synchronously so the user gets immediate, specific feedback.
func (w *Wrapper) Do(ctx context.Context, m Mutation) (map[string]any, error) {
	if m.Online == nil {
		return nil, fmt.Errorf("mutation on %s has no online function", m.Collection)
	}

	if w.conn.ProbeNow(ctx) {
		return m.Online(ctx)
	}

	payload, err := clonePayload(m.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to clone mutation variables: %w", err)
	}

	// Enqueue stamps create payloads (and nested items) with stable ids.
	action, err := w.repo.Enqueue(ctx, m.Kind, m.Collection, payload)
	if err != nil {
		return nil, err
	}

	if w.cache != nil {
		w.applyOptimistic(m.Kind, m.Collection, payload)
	}

	w.notifier.Notify("Saved locally. It will sync when you're back online.")
	w.logger.Printf("Queued offline %s on %s as %s", m.Kind, m.Collection, action.ID)

	if m.Optimistic != nil {
		return m.Optimistic(payload), nil
	}
	return payload, nil
}

// applyOptimistic mirrors the queued mutation into the read cache.
func (w *Wrapper) applyOptimistic(kind schema.OperationKind, collection string, payload map[string]any) {
	switch kind {
	case schema.OpCreate:
		w.cache.ApplyCreate(collection, payload)
	case schema.OpUpdate:
		w.cache.ApplyUpdate(collection, payload)
	case schema.OpDelete:
		id, _ := payload["id"].(string)
		w.cache.ApplyDelete(collection, id)
	}
}

// clonePayload deep-copies the caller's variables through JSON, which also
// normalizes them to the document shape the queue stores.
func clonePayload(variables map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(variables)
	if err != nil {
		return nil, err
	}
	var clone map[string]any
	if err := json.Unmarshal(raw, &clone); err != nil {
		return nil, err
	}
	return clone, nil
}
