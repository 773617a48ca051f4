// Package db provides the durable queue store: a local SQLite database
// holding queued mutations and generic cached entries.
//
// The database runs in embedded mode with WAL so the foreground process and
// the background sync daemon can share one file concurrently. All
// cross-context coordination rests on SQLite's own transactional semantics:
// a drain removes an action by id in a single statement, so a row removed by
// one context is simply gone for the other. No distributed lock is used;
// duplicate delivery is tolerated because remote writes are keyed by
// client-generated ids.
//
// Layout:
//   - queued_actions: pending mutations, indexed by synced flag and enqueue time
//   - dead_actions: mutations abandoned by the dead-letter policy
//   - cache_entries: read-through cache values with optional expiry
//
// Schema versioning is additive via PRAGMA user_version; upgrades never drop
// unsynced data.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/bodegahq/bodega/internal/offline/schema"
)

// ErrDuplicateKey is returned by AddAction when an action with the same id
// already exists. This indicates a caller bug (id collision), not a
// transient condition, and is never retried.
var ErrDuplicateKey = errors.New("action id already exists")

// DB wraps the SQLite connection with queue-store operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent access
// from the foreground process and the daemon. If the file doesn't exist it
// is created; call InitSchema before using the store.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open(filepath.Join(dataDir, "queue.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL lets the daemon read while the foreground process writes
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// schemaVersion is the current PRAGMA user_version. Bump it when adding a
// migration step; steps are additive and never destroy unsynced actions.
const schemaVersion = 3

// InitSchema creates or upgrades the database schema. Idempotent - safe to
// call from every process on startup.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates or upgrades the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	var version int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for ; version < schemaVersion; version++ {
		if err := db.migrateStep(ctx, version+1); err != nil {
			return fmt.Errorf("failed to migrate schema to v%d: %w", version+1, err)
		}
	}

	return nil
}

// migrateStep applies the migration that brings the schema to target.
func (db *DB) migrateStep(ctx context.Context, target int) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stmts string
	switch target {
	case 1:
		stmts = `
		CREATE TABLE IF NOT EXISTS queued_actions (
			id TEXT PRIMARY KEY,
			operation TEXT NOT NULL,
			collection TEXT NOT NULL,
			payload TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL,  -- unix nanoseconds, the ordering key
			synced INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_actions_synced ON queued_actions(synced);
		CREATE INDEX IF NOT EXISTS idx_actions_enqueued ON queued_actions(enqueued_at);
		`
	case 2:
		stmts = `
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			expires_at INTEGER  -- unix nanoseconds, NULL = no expiry
		);
		`
	case 3:
		stmts = `
		ALTER TABLE queued_actions ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE queued_actions ADD COLUMN last_error TEXT NOT NULL DEFAULT '';

		CREATE TABLE IF NOT EXISTS dead_actions (
			id TEXT PRIMARY KEY,
			operation TEXT NOT NULL,
			collection TEXT NOT NULL,
			payload TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			last_error TEXT NOT NULL,
			abandoned_at INTEGER NOT NULL
		);
		`
	default:
		return fmt.Errorf("no migration defined for schema v%d", target)
	}

	if _, err := tx.ExecContext(ctx, stmts); err != nil {
		return err
	}

	// PRAGMA doesn't accept bound parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
		return err
	}

	return tx.Commit()
}

// AddAction durably persists a queued action.
//
// Fails with ErrDuplicateKey if an action with the same id already exists.
// The insert is committed before this returns, so a crash immediately after
// a successful AddAction never loses the action.
func (db *DB) AddAction(ctx context.Context, a *schema.QueuedAction) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	if !json.Valid(a.Payload) {
		return fmt.Errorf("invalid action: payload is not valid JSON")
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO queued_actions (id, operation, collection, payload, enqueued_at, synced, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, 0, '')
		ON CONFLICT(id) DO NOTHING
	`, a.ID, string(a.Kind), a.Collection, string(a.Payload), a.EnqueuedAt.UnixNano(), boolToInt(a.Synced))
	if err != nil {
		return fmt.Errorf("failed to insert action %s: %w", a.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check insert result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("action %s: %w", a.ID, ErrDuplicateKey)
	}

	return nil
}

// PendingActions returns all not-yet-synced actions, oldest first.
//
// The ordering matters: a create for a document must replay before a later
// update to the same document.
func (db *DB) PendingActions(ctx context.Context) ([]*schema.QueuedAction, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, operation, collection, payload, enqueued_at, attempts, synced
		FROM queued_actions
		WHERE synced = 0
		ORDER BY enqueued_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// PendingCount returns the number of not-yet-synced actions.
// Cheap enough for UI badges to poll.
func (db *DB) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queued_actions WHERE synced = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending actions: %w", err)
	}
	return count, nil
}

// RemoveAction deletes an action by id.
//
// Idempotent: removing a non-existent id is not an error. This is what makes
// concurrent drains from the foreground and background contexts safe - the
// first context to confirm remote success deletes the row, and the second
// context's delete is a no-op.
func (db *DB) RemoveAction(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM queued_actions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove action %s: %w", id, err)
	}
	return nil
}

// MarkSynced flags an action as applied remotely without deleting it.
// A synced action is never replayed again.
func (db *DB) MarkSynced(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE queued_actions SET synced = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark action %s synced: %w", id, err)
	}
	return nil
}

// ClearActions removes every queued action. Administrative/debug use only;
// not part of the sync path. Returns the number of removed actions.
func (db *DB) ClearActions(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM queued_actions")
	if err != nil {
		return 0, fmt.Errorf("failed to clear actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared actions: %w", err)
	}
	return n, nil
}

// RecordAttempt increments the failure counter for an action and stores the
// last error message. Returns the cumulative attempt count.
func (db *DB) RecordAttempt(ctx context.Context, id string, lastErr string) (int, error) {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE queued_actions SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
	`, lastErr, id)
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt for %s: %w", id, err)
	}

	var attempts int
	err = db.conn.QueryRowContext(ctx,
		"SELECT attempts FROM queued_actions WHERE id = ?", id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		// Removed by a concurrent drain that succeeded; nothing to track.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts for %s: %w", id, err)
	}
	return attempts, nil
}

// DeadLetter moves an action from the live queue to dead_actions in one
// transaction. Abandoned actions are never replayed but remain inspectable.
func (db *DB) DeadLetter(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dead_actions (id, operation, collection, payload, enqueued_at, attempts, last_error, abandoned_at)
		SELECT id, operation, collection, payload, enqueued_at, attempts, last_error, ?
		FROM queued_actions WHERE id = ?
		ON CONFLICT(id) DO NOTHING
	`, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to dead-letter action %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM queued_actions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove dead-lettered action %s: %w", id, err)
	}

	return tx.Commit()
}

// DeadCount returns the number of abandoned actions.
func (db *DB) DeadCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_actions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead actions: %w", err)
	}
	return count, nil
}

// scanActions reads queued actions from query results.
func scanActions(rows *sql.Rows) ([]*schema.QueuedAction, error) {
	var actions []*schema.QueuedAction

	for rows.Next() {
		var a schema.QueuedAction
		var kind, payload string
		var enqueuedNanos int64
		var synced int

		if err := rows.Scan(&a.ID, &kind, &a.Collection, &payload,
			&enqueuedNanos, &a.Attempts, &synced); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}

		a.Kind = schema.OperationKind(kind)
		a.Payload = json.RawMessage(payload)
		a.EnqueuedAt = time.Unix(0, enqueuedNanos)
		a.Synced = synced != 0

		actions = append(actions, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}

	return actions, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
