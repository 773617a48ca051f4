// Package remote implements the remote store boundary: insert, update-by-id
// and delete-by-id over named collections, spoken as JSON over HTTP against
// the hosted backend's REST surface.
//
// The client authenticates with a bearer credential. The background daemon
// passes the anonymous API key (row-level authorization is enforced server
// side), so it never depends on a live user session; the foreground engine
// passes the session token when one exists.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrOffline is returned without any network attempt when the connectivity
// gate reports offline. Treated as a retryable failure by the sync engines.
var ErrOffline = errors.New("remote store gated offline")

// Error is a structured failure from the remote store.
type Error struct {
	Op         string // insert, update, delete
	Collection string
	ID         string // target document id, empty for insert
	Status     int    // HTTP status, 0 for transport failures
	Body       string // truncated response body
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("remote %s on %s failed: %s", e.Op, e.Collection, e.Body)
	}
	return fmt.Sprintf("remote %s on %s failed: status %d: %s", e.Op, e.Collection, e.Status, e.Body)
}

// TargetGone reports whether the failure means the target document no longer
// exists remotely (deleted by another device). The sync engines drop such
// updates/deletes instead of retrying them forever.
func (e *Error) TargetGone() bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusGone
}

// Store is the remote collection store the sync engines replay against.
type Store interface {
	// Insert creates a document. The document carries a client-generated
	// primary id, and the server dedupes on it, so retried inserts are
	// idempotent.
	Insert(ctx context.Context, collection string, doc json.RawMessage) error

	// UpdateByID merges partial fields into the document with the given id.
	UpdateByID(ctx context.Context, collection, id string, partial json.RawMessage) error

	// DeleteByID removes the document with the given id.
	DeleteByID(ctx context.Context, collection, id string) error
}

// Gate is consulted before any network attempt. The connectivity tracker
// satisfies it; a nil gate means always attempt.
type Gate interface {
	Online() bool
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the REST root, e.g. https://project.example.co/rest/v1
	BaseURL string

	// APIKey is the bearer credential sent with every request.
	APIKey string

	// Timeout bounds each remote call (default: 10s). A single unreachable
	// item must not stall a whole drain.
	Timeout time.Duration

	// Gate short-circuits calls while offline (optional).
	Gate Gate
}

// Client talks to the remote store over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	gate    Gate
}

// NewClient creates a remote store client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		gate:    cfg.Gate,
	}
}

// Insert implements Store.Insert.
//
// The merge-duplicates preference makes a retried insert with the same
// client-generated id overwrite rather than conflict.
func (c *Client) Insert(ctx context.Context, collection string, doc json.RawMessage) error {
	return c.do(ctx, &Error{Op: "insert", Collection: collection},
		http.MethodPost, c.collectionURL(collection, ""), doc,
		map[string]string{"Prefer": "resolution=merge-duplicates"})
}

// UpdateByID implements Store.UpdateByID.
func (c *Client) UpdateByID(ctx context.Context, collection, id string, partial json.RawMessage) error {
	return c.do(ctx, &Error{Op: "update", Collection: collection, ID: id},
		http.MethodPatch, c.collectionURL(collection, id), partial, nil)
}

// DeleteByID implements Store.DeleteByID.
func (c *Client) DeleteByID(ctx context.Context, collection, id string) error {
	return c.do(ctx, &Error{Op: "delete", Collection: collection, ID: id},
		http.MethodDelete, c.collectionURL(collection, id), nil, nil)
}

// collectionURL builds the endpoint for a collection, filtered to one
// document id when targeting an existing row.
func (c *Client) collectionURL(collection, id string) string {
	u := c.baseURL + "/" + url.PathEscape(collection)
	if id != "" {
		u += "?id=eq." + url.QueryEscape(id)
	}
	return u
}

func (c *Client) do(ctx context.Context, failure *Error, method, rawURL string, body json.RawMessage, extra map[string]string) error {
	if c.gate != nil && !c.gate.Online() {
		return ErrOffline
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		failure.Body = err.Error()
		return failure
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		failure.Body = err.Error()
		return failure
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	failure.Status = resp.StatusCode
	failure.Body = readBodySnippet(resp.Body)
	return failure
}

// readBodySnippet reads a bounded prefix of an error response for logging.
func readBodySnippet(r io.Reader) string {
	const limit = 512
	data, _ := io.ReadAll(io.LimitReader(r, limit))
	return strings.TrimSpace(string(data))
}
