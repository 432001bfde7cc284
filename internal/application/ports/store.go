// Package ports defines the application layer port interfaces following
// hexagonal architecture. Ports let the reconciler, command processor, and
// chat relay talk to external systems (the remote document store, the agent
// gateway, the secret service) without knowing their implementations.
package ports

import (
	"context"
)

// ChangeKind classifies a change delivered on a store subscription.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Document is a raw store document addressed by its slash-separated path.
type Document struct {
	ID   string
	Path string
	Data map[string]interface{}
}

// Change is one entry in a subscription batch.
type Change struct {
	Kind ChangeKind
	Doc  Document
}

// Filter is an equality or membership constraint on a collection query.
type Filter struct {
	Field string
	Op    string // "==" or "in"
	Value interface{}
}

// Query describes a filtered, optionally ordered collection read.
type Query struct {
	Filters   []Filter
	OrderBy   string
	Ascending bool
}

// DocumentStore is the remote, subscription-capable document store. All
// writes are whole-document merges: fields not named in the payload are
// preserved. Subscriptions deliver changes in the store's own commit order
// within one subscription; there is no cross-subscription ordering guarantee.
//
// A collection subscription delivers the current matching documents as an
// initial batch of added changes, then incremental changes as documents
// enter (added), mutate within (modified), or leave (removed) the query.
type DocumentStore interface {
	// Get reads one document. Returns errors.ErrNotFound when absent.
	Get(ctx context.Context, path string) (Document, error)

	// Set merge-writes fields onto the document at path, creating it if
	// needed.
	Set(ctx context.Context, path string, fields map[string]interface{}) error

	// Add creates a document with a generated ID under collection and
	// returns the ID.
	Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error)

	// Delete removes the document at path. Deleting an absent document is
	// not an error.
	Delete(ctx context.Context, path string) error

	// Query reads the documents of a collection matching q.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Watch subscribes to a single document. The channel closes when ctx is
	// done or the store shuts down.
	Watch(ctx context.Context, path string) (<-chan []Change, error)

	// WatchQuery subscribes to a filtered collection.
	WatchQuery(ctx context.Context, collection string, q Query) (<-chan []Change, error)
}
