// Package engine provides the sync engine that drains the offline queue
// against the remote store.
//
// A drain reads all pending actions oldest first and replays each one:
// create maps to insert, update to update-by-id, delete to delete-by-id.
// Confirmed successes are removed from the queue immediately; failures stay
// queued and are counted, and the drain moves on - one bad item never blocks
// the rest. The same engine serves the foreground "sync now" path
// (single-attempt items) and the background daemon (per-item retry with
// linear backoff); only the configuration differs.
//
// Two engine instances may drain the same queue concurrently (foreground
// page and background daemon). That is safe without a lock: removal by id is
// a single transactional statement, and duplicate delivery to the remote
// store is tolerated because remote writes dedupe on client-generated ids.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/bodegahq/bodega/internal/offline/db"
	"github.com/bodegahq/bodega/internal/offline/netmon"
	"github.com/bodegahq/bodega/internal/offline/queue"
	"github.com/bodegahq/bodega/internal/offline/remote"
	"github.com/bodegahq/bodega/internal/offline/schema"
)

// Result summarizes one drain pass. Per-item remote errors are logged, not
// surfaced individually; the user sees "N synced, M failed".
type Result struct {
	Succeeded int
	Failed    int
}

// Config holds engine configuration.
type Config struct {
	Repo  *queue.Repository
	Store remote.Store

	// Tracking is the durable store used for attempt counts and the
	// dead-letter table. Optional; without it failures are still retried
	// forever but never abandoned.
	Tracking *db.DB

	// MaxAttempts is the per-item attempt budget within one drain
	// (default: 1). The background daemon raises this.
	MaxAttempts int

	// BaseDelay is the linear backoff unit between attempts: the wait
	// after attempt n is BaseDelay * n (default: 2s). Only relevant when
	// MaxAttempts > 1.
	BaseDelay time.Duration

	// ItemTimeout bounds each remote call so one unreachable item cannot
	// stall the drain (default: 10s).
	ItemTimeout time.Duration

	// DeadLetterAfter abandons an action once its cumulative failed
	// attempts across all drains reach this count (0 = never abandon).
	DeadLetterAfter int

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger
}

// Engine drains the offline queue.
type Engine struct {
	repo  *queue.Repository
	store remote.Store
	track *db.DB

	maxAttempts     int
	baseDelay       time.Duration
	itemTimeout     time.Duration
	deadLetterAfter int

	logger      *log.Logger
	startupOnce sync.Once
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.ItemTimeout == 0 {
		cfg.ItemTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		repo:            cfg.Repo,
		store:           cfg.Store,
		track:           cfg.Tracking,
		maxAttempts:     cfg.MaxAttempts,
		baseDelay:       cfg.BaseDelay,
		itemTimeout:     cfg.ItemTimeout,
		deadLetterAfter: cfg.DeadLetterAfter,
		logger:          cfg.Logger,
	}
}

// SyncOfflineData drains the queue once and reports how many actions were
// applied and how many remain queued.
//
// Draining an empty or concurrently-drained queue is safe and cheap, so
// overlapping calls are tolerated rather than serialized.
func (e *Engine) SyncOfflineData(ctx context.Context) (Result, error) {
	pending, err := e.repo.GetPending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read pending actions: %w", err)
	}

	if len(pending) == 0 {
		return Result{}, nil
	}

	e.logger.Printf("Draining %d pending actions", len(pending))

	var result Result
	for _, action := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if e.syncAction(ctx, action) {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	e.logger.Printf("Drain complete: %d synced, %d failed", result.Succeeded, result.Failed)
	return result, nil
}

// syncAction replays one action with the configured attempt budget.
// Returns true if the action was applied (or resolved) and removed.
func (e *Engine) syncAction(ctx context.Context, action *schema.QueuedAction) bool {
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			// Linear backoff between attempts
			select {
			case <-time.After(e.baseDelay * time.Duration(attempt-1)):
			case <-ctx.Done():
				return false
			}
		}

		lastErr = e.applyAction(ctx, action)
		if lastErr == nil {
			e.removeAction(ctx, action.ID)
			return true
		}

		var remoteErr *remote.Error
		if errors.As(lastErr, &remoteErr) && remoteErr.TargetGone() && action.Kind != schema.OpCreate {
			// The target was deleted remotely (another device). Retrying
			// forever cannot succeed; resolve the action instead.
			if action.Kind == schema.OpDelete {
				// Idempotent delete: already gone counts as done
				e.removeAction(ctx, action.ID)
				return true
			}
			e.logger.Printf("Dropping %s: update target no longer exists remotely", action.ID)
			e.removeAction(ctx, action.ID)
			return false
		}

		e.logger.Printf("Warning: attempt %d/%d for %s failed: %v",
			attempt, e.maxAttempts, action.ID, lastErr)
	}

	e.recordFailure(ctx, action, lastErr)
	return false
}

// applyAction dispatches one action to the remote store under the per-item
// timeout.
func (e *Engine) applyAction(ctx context.Context, action *schema.QueuedAction) error {
	ctx, cancel := context.WithTimeout(ctx, e.itemTimeout)
	defer cancel()

	switch action.Kind {
	case schema.OpCreate:
		return e.store.Insert(ctx, action.Collection, action.Payload)

	case schema.OpUpdate:
		id, err := schema.PayloadID(action.Payload)
		if err != nil {
			return err
		}
		return e.store.UpdateByID(ctx, action.Collection, id, action.Payload)

	case schema.OpDelete:
		id, err := schema.PayloadID(action.Payload)
		if err != nil {
			return err
		}
		return e.store.DeleteByID(ctx, action.Collection, id)
	}

	return fmt.Errorf("unknown operation kind %q", action.Kind)
}

// removeAction deletes a confirmed action. A failure here is logged only:
// the action would be replayed later, and replay is idempotent.
func (e *Engine) removeAction(ctx context.Context, id string) {
	if err := e.repo.Remove(ctx, id); err != nil {
		e.logger.Printf("Warning: failed to remove synced action %s: %v", id, err)
	}
}

// recordFailure tracks the exhausted attempt and applies the dead-letter
// policy.
func (e *Engine) recordFailure(ctx context.Context, action *schema.QueuedAction, cause error) {
	if e.track == nil {
		return
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	attempts, err := e.track.RecordAttempt(ctx, action.ID, msg)
	if err != nil {
		e.logger.Printf("Warning: failed to record attempt for %s: %v", action.ID, err)
		return
	}

	if e.deadLetterAfter > 0 && attempts >= e.deadLetterAfter {
		if err := e.track.DeadLetter(ctx, action.ID); err != nil {
			e.logger.Printf("Warning: failed to dead-letter %s: %v", action.ID, err)
			return
		}
		e.logger.Printf("Abandoned %s after %d failed attempts", action.ID, attempts)
	}
}

// AutoSync drives automatic drains: one on startup if currently online
// (guarded so it runs at most once per engine), then one per offline ->
// online transition. Blocks until ctx is cancelled; run it in a goroutine.
func (e *Engine) AutoSync(ctx context.Context, tracker *netmon.Tracker) {
	e.startupOnce.Do(func() {
		if tracker.IsOnline() {
			if _, err := e.SyncOfflineData(ctx); err != nil {
				e.logger.Printf("Warning: startup sync failed: %v", err)
			}
		}
	})

	sub := tracker.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-sub:
			if !tr.Online {
				continue
			}
			tracker.ClearWasOffline()
			if _, err := e.SyncOfflineData(ctx); err != nil {
				e.logger.Printf("Warning: reconnect sync failed: %v", err)
			}
		}
	}
}
