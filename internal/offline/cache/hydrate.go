package cache

import (
	"context"

	"github.com/bodegahq/bodega/internal/offline/schema"
)

// PendingSource is the slice of the queue repository the hydrator needs.
type PendingSource interface {
	GetPending(ctx context.Context) ([]*schema.QueuedAction, error)
}

// Hydrate replays all pending queued mutations into the read cache so the
// UI shows optimistic state consistent with what is queued, even after a
// full reload while offline.
//
// Runs exactly once per session; re-invocation is a no-op. Hydration is a
// best-effort UI affordance: a storage read failure is logged and swallowed,
// never surfaced, because the eventual sync does not depend on it.
func (s *Store) Hydrate(ctx context.Context, source PendingSource) {
	s.hydrate.Do(func() {
		pending, err := source.GetPending(ctx)
		if err != nil {
			s.logger.Printf("Warning: hydration skipped, failed to read queue: %v", err)
			return
		}

		applied := 0
		for _, action := range pending {
			if s.applyAction(action) {
				applied++
			}
		}

		if applied > 0 {
			s.logger.Printf("Hydrated %d queued mutations into the read cache", applied)
		}
	})
}

// applyAction applies one queued mutation to the cached collection list.
func (s *Store) applyAction(action *schema.QueuedAction) bool {
	doc, ok := decodeDocument(action.Payload)
	if !ok {
		s.logger.Printf("Warning: skipping unreadable payload for action %s", action.ID)
		return false
	}

	switch action.Kind {
	case schema.OpCreate:
		s.ApplyCreate(action.Collection, doc)
	case schema.OpUpdate:
		s.ApplyUpdate(action.Collection, doc)
	case schema.OpDelete:
		id, _ := doc["id"].(string)
		s.ApplyDelete(action.Collection, id)
	default:
		return false
	}
	return true
}
