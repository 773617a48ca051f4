package db

import (
	"fmt"
	"sync"
)

// shared holds the process-wide database handle. Exactly one live handle per
// process; Shared is idempotent and returns the cached handle on re-open.
var shared struct {
	once sync.Once
	db   *DB
	err  error
	path string
}

// Shared returns the process-wide queue store handle, opening it (and
// initializing the schema) on first use.
//
// Every subsequent call returns the same handle. Calling Shared with a
// different path after the handle exists is a caller bug and returns an
// error rather than silently opening a second database.
func Shared(path string) (*DB, error) {
	shared.once.Do(func() {
		shared.path = path
		shared.db, shared.err = Open(path)
		if shared.err != nil {
			return
		}
		if err := shared.db.InitSchema(); err != nil {
			_ = shared.db.Close()
			shared.db, shared.err = nil, err
		}
	})

	if shared.err != nil {
		return nil, shared.err
	}
	if path != shared.path {
		return nil, fmt.Errorf("queue store already opened at %s (requested %s)", shared.path, path)
	}
	return shared.db, nil
}
