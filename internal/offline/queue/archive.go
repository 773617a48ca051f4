package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bodegahq/bodega/internal/offline/db"
	"github.com/bodegahq/bodega/internal/offline/schema"
)

// ImportResult contains statistics about an archive import.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// ExportJSONL streams all pending actions to w as JSONL, one action per
// line, in replay order. Returns the number of actions written.
//
// The archive is a debugging and backup aid; importing it elsewhere
// reproduces the queue because action ids and enqueue times travel with
// each line.
func (r *Repository) ExportJSONL(ctx context.Context, w io.Writer) (int, error) {
	pending, err := r.GetPending(ctx)
	if err != nil {
		return 0, err
	}

	encoder := json.NewEncoder(w)
	for i, action := range pending {
		if err := encoder.Encode(action); err != nil {
			return i, fmt.Errorf("failed to encode action %s: %w", action.ID, err)
		}
	}
	return len(pending), nil
}

// ExportFile writes the pending queue to path as JSONL, atomically via a
// temp file.
func (r *Repository) ExportFile(ctx context.Context, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create archive directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	count, err := r.ExportJSONL(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return count, nil
}

// ImportJSONL reads a JSONL archive and enqueues each action verbatim.
//
// Actions already present (same id) are skipped, so importing the same
// archive twice is harmless. Malformed or invalid lines are collected in
// the result, not fatal; the rest of the archive still imports.
func (r *Repository) ImportJSONL(ctx context.Context, reader io.Reader) (*ImportResult, error) {
	result := &ImportResult{}

	decoder := json.NewDecoder(reader)
	lineNum := 0
	for {
		var action schema.QueuedAction
		if err := decoder.Decode(&action); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			result.Errors = append(result.Errors,
				fmt.Sprintf("invalid JSON at entry %d: %v", lineNum+1, err))
			break
		}
		lineNum++

		if err := action.Validate(); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("entry %d: %v", lineNum, err))
			continue
		}

		err := r.store.AddAction(ctx, &action)
		switch {
		case err == nil:
			result.Imported++
		case errors.Is(err, db.ErrDuplicateKey):
			result.Skipped++
		default:
			return result, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	if result.Imported > 0 {
		r.logger.Printf("Imported %d actions (%d already present)", result.Imported, result.Skipped)
	}
	return result, nil
}

// ImportFile imports a JSONL archive from path.
func (r *Repository) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	return r.ImportJSONL(ctx, f)
}
