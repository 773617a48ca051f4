package queue

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bodegahq/bodega/internal/offline/db"
	"github.com/bodegahq/bodega/internal/offline/schema"
)

func archiveRepo(t *testing.T) *Repository {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return New(store, nil)
}

// TestArchive_Roundtrip tests that an exported queue imports into an empty
// store with identical actions in identical order
func TestArchive_Roundtrip(t *testing.T) {
	src := archiveRepo(t)
	ctx := context.Background()

	if _, err := src.Enqueue(ctx, schema.OpCreate, schema.CollectionProducts,
		map[string]any{"name": "Rice"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := src.Enqueue(ctx, schema.OpDelete, schema.CollectionProducts,
		map[string]any{"id": "p9"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "queue.jsonl")
	count, err := src.ExportFile(ctx, path)
	if err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("ExportFile() wrote %d actions, want 2", count)
	}

	dst := archiveRepo(t)
	result, err := dst.ImportFile(ctx, path)
	if err != nil {
		t.Fatalf("ImportFile() failed: %v", err)
	}
	if result.Imported != 2 || result.Skipped != 0 {
		t.Errorf("ImportFile() = %+v, want 2 imported", result)
	}

	srcPending, _ := src.GetPending(ctx)
	dstPending, err := dst.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending() failed: %v", err)
	}
	if len(dstPending) != 2 {
		t.Fatalf("GetPending() has %d actions, want 2", len(dstPending))
	}
	for i := range srcPending {
		if dstPending[i].ID != srcPending[i].ID {
			t.Errorf("action %d id = %s, want %s (order must survive)", i, dstPending[i].ID, srcPending[i].ID)
		}
		if dstPending[i].Kind != srcPending[i].Kind {
			t.Errorf("action %d kind = %s, want %s", i, dstPending[i].Kind, srcPending[i].Kind)
		}
	}
}

// TestImportJSONL_DuplicatesSkipped tests idempotent re-import
func TestImportJSONL_DuplicatesSkipped(t *testing.T) {
	repo := archiveRepo(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, schema.OpCreate, schema.CollectionProducts,
		map[string]any{"name": "Rice"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	var buf strings.Builder
	if _, err := repo.ExportJSONL(ctx, &buf); err != nil {
		t.Fatalf("ExportJSONL() failed: %v", err)
	}

	result, err := repo.ImportJSONL(ctx, strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("ImportJSONL() failed: %v", err)
	}
	if result.Imported != 0 || result.Skipped != 1 {
		t.Errorf("ImportJSONL() = %+v, want 1 skipped", result)
	}

	count, _ := repo.GetPendingCount(ctx)
	if count != 1 {
		t.Errorf("GetPendingCount() = %d after re-import, want 1", count)
	}
}

// TestImportJSONL_InvalidEntriesCollected tests that bad lines don't abort
// the import
func TestImportJSONL_InvalidEntriesCollected(t *testing.T) {
	repo := archiveRepo(t)
	ctx := context.Background()

	good := archiveRepo(t)
	if _, err := good.Enqueue(ctx, schema.OpCreate, schema.CollectionProducts,
		map[string]any{"name": "Rice"}); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	var buf strings.Builder
	if _, err := good.ExportJSONL(ctx, &buf); err != nil {
		t.Fatalf("ExportJSONL() failed: %v", err)
	}

	// An entry missing its id fails validation but must not stop the rest
	archive := `{"id":"","operation":"create","collection":"products","payload":{}}` + "\n" + buf.String()

	result, err := repo.ImportJSONL(ctx, strings.NewReader(archive))
	if err != nil {
		t.Fatalf("ImportJSONL() failed: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("ImportJSONL() imported %d, want 1", result.Imported)
	}
	if len(result.Errors) != 1 {
		t.Errorf("ImportJSONL() collected %d errors, want 1", len(result.Errors))
	}
}
