// Package cache holds the foreground context's in-memory read cache: the
// per-collection document lists the UI renders from, plus the hydrator that
// replays queued mutations into those lists on startup.
//
// The cache is owned exclusively by the foreground context; the background
// daemon never touches it.
package cache

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// Document is a collection-shaped record keyed by its "id" field.
type Document = map[string]any

// Store is the in-memory read cache, one document list per collection.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]Document

	logger  *log.Logger
	hydrate sync.Once
}

// New creates an empty read cache.
//
// If logger is nil, a default logger writing to stderr is used.
func New(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &Store{
		collections: make(map[string][]Document),
		logger:      logger,
	}
}

// List returns a copy of the cached document list for a collection.
func (s *Store) List(collection string) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.collections[collection]
	out := make([]Document, len(docs))
	copy(out, docs)
	return out
}

// Replace swaps in a freshly fetched document list for a collection.
// This is the read path's population hook.
func (s *Store) Replace(collection string, docs []Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = docs
}

// ApplyCreate appends a document unless one with the same id is already
// present. Idempotent against double application.
func (s *Store) ApplyCreate(collection string, doc Document) {
	id, _ := doc["id"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" && s.indexOfLocked(collection, id) >= 0 {
		return
	}
	s.collections[collection] = append(s.collections[collection], doc)
}

// ApplyUpdate merges payload fields into the cached document with the same
// id. No-op if the document is absent.
func (s *Store) ApplyUpdate(collection string, partial Document) {
	id, _ := partial["id"].(string)
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfLocked(collection, id)
	if i < 0 {
		return
	}
	for k, v := range partial {
		s.collections[collection][i][k] = v
	}
}

// ApplyDelete removes the cached document with the given id. No-op if absent.
func (s *Store) ApplyDelete(collection, id string) {
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfLocked(collection, id)
	if i < 0 {
		return
	}
	docs := s.collections[collection]
	s.collections[collection] = append(docs[:i], docs[i+1:]...)
}

// indexOfLocked finds a document by id. Caller holds the lock.
func (s *Store) indexOfLocked(collection, id string) int {
	for i, doc := range s.collections[collection] {
		if docID, _ := doc["id"].(string); docID == id {
			return i
		}
	}
	return -1
}

// decodeDocument parses an action payload into a cache document.
func decodeDocument(payload json.RawMessage) (Document, bool) {
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, false
	}
	return doc, true
}
