package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewActionID synthesizes a globally unique id for a queued action.
//
// The format is {collection}-{kind}-{unixMillis}-{random}. The timestamp
// component makes ids roughly sortable and easy to eyeball in a debug
// listing; uniqueness comes from the random suffix.
func NewActionID(collection string, kind OperationKind) string {
	return fmt.Sprintf("%s-%s-%d-%s",
		collection, kind, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// NewDocumentID synthesizes a client-side primary id for a remote document.
func NewDocumentID() string {
	return uuid.NewString()
}

// EnsureDocumentIDs assigns client-generated ids to a create payload that
// lacks them, in place, and returns the root document id.
//
// The whole document gets one stable identity before it is ever enqueued:
// the root id plus an id for every nested line item (the "items" array, if
// present). Retried inserts then dedupe on those ids instead of creating
// duplicate rows. Documents that already carry ids are left untouched, so
// calling this twice is harmless.
func EnsureDocumentIDs(doc map[string]any) string {
	rootID, _ := doc["id"].(string)
	if rootID == "" {
		rootID = NewDocumentID()
		doc["id"] = rootID
	}

	items, ok := doc["items"].([]any)
	if !ok {
		return rootID
	}
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := item["id"].(string); id == "" {
			item["id"] = NewDocumentID()
		}
	}
	return rootID
}
