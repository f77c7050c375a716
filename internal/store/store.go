// Package store defines the generic record store the repositories are built
// on: schemaless documents addressed by collection name and filter. Single
// documents are read-your-writes consistent; there are no cross-document
// transactions — multi-step invariants are the caller's problem (see the
// provisioning saga).
package store

import (
	"context"
	"errors"
)

// IDField is the document key holding the record identifier.
const IDField = "_id"

// ErrNotFound indicates no document matched the filter.
var ErrNotFound = errors.New("store: not found")

// Doc is a schemaless document. Values must be JSON-representable.
type Doc = map[string]any

// Filter matches documents by field equality. A Fold value compares
// case-insensitively.
type Filter = map[string]any

// Fold wraps a filter value for case-insensitive string equality.
type Fold string

// RecordStore is the persistence capability injected into each repository.
type RecordStore interface {
	// Insert stores doc in collection, assigning an id when the doc carries
	// none, and returns the id.
	Insert(ctx context.Context, collection string, doc Doc) (string, error)

	// FindOne returns the first document matching filter, or ErrNotFound.
	FindOne(ctx context.Context, collection string, filter Filter) (Doc, error)

	// Find returns all documents matching filter, oldest first.
	Find(ctx context.Context, collection string, filter Filter) ([]Doc, error)

	// Update merges set into every matching document and reports how many
	// documents were written.
	Update(ctx context.Context, collection string, filter Filter, set Doc) (int64, error)

	// Delete removes every matching document and reports how many were
	// removed.
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)
}

// ByID builds the filter matching a single document.
func ByID(id string) Filter {
	return Filter{IDField: id}
}
