// Package schema defines the durable queue's record types: the QueuedAction
// envelope and the per-collection payload documents it carries.
//
// A QueuedAction describes a single create/update/delete that could not be
// applied to the remote store at the time it was requested. Actions are
// persisted locally, replayed in enqueue order once connectivity returns,
// and matched on the remote side purely by client-generated ids, which makes
// replay idempotent.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind identifies what a queued action does to its target collection.
type OperationKind string

const (
	// OpCreate inserts a new document. The payload must carry a
	// client-generated primary id so retries never duplicate the row.
	OpCreate OperationKind = "create"

	// OpUpdate merges payload fields into the document matching the payload id.
	OpUpdate OperationKind = "update"

	// OpDelete removes the document matching the payload id.
	OpDelete OperationKind = "delete"
)

// Valid reports whether k is one of the known operation kinds.
func (k OperationKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Remote collection names the queue can target.
const (
	CollectionSales            = "sales"
	CollectionProducts         = "products"
	CollectionFinancialRecords = "financial-records"
)

// KnownCollection reports whether name is a collection this application syncs.
func KnownCollection(name string) bool {
	switch name {
	case CollectionSales, CollectionProducts, CollectionFinancialRecords:
		return true
	}
	return false
}

// QueuedAction is the unit of durable work in the offline queue.
//
// ID is immutable once assigned; the sync engines remove actions by this id,
// never by payload content. EnqueuedAt is the logical ordering key: a drain
// replays actions oldest first so a create always lands before a later
// update to the same document.
type QueuedAction struct {
	// ID is globally unique, synthesized at enqueue time
	// ({collection}-{kind}-{timestamp}-{random}).
	ID string `json:"id"`

	// Kind is the operation to replay against the remote store.
	Kind OperationKind `json:"operation"`

	// Collection names the target remote collection.
	Collection string `json:"collection"`

	// Payload is the collection-shaped document. For creates it contains the
	// full document including the client-generated primary id; for updates
	// and deletes it contains at least the id.
	Payload json.RawMessage `json:"payload"`

	// EnqueuedAt orders replay within a drain pass.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Attempts counts cumulative failed replay attempts across drains.
	// Used by the dead-letter policy; zero for a fresh action.
	Attempts int `json:"attempts,omitempty"`

	// Synced marks an action that was confirmed applied remotely. Synced
	// actions are never replayed again.
	Synced bool `json:"synced"`
}

// Validate checks the envelope invariants. It does not validate business
// rules inside the payload; those belong to the remote store.
func (a *QueuedAction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("action id is required")
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("unknown operation kind %q", a.Kind)
	}
	if a.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if len(a.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if a.Kind != OpCreate {
		id, err := PayloadID(a.Payload)
		if err != nil || id == "" {
			return fmt.Errorf("%s payload must carry the target document id", a.Kind)
		}
	}
	if a.EnqueuedAt.IsZero() {
		return fmt.Errorf("enqueued_at is required")
	}
	return nil
}

// PayloadID extracts the primary document id from a payload.
// Returns an empty string (and no error) if the payload has no id field.
func PayloadID(payload json.RawMessage) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", fmt.Errorf("failed to parse payload: %w", err)
	}
	return probe.ID, nil
}
