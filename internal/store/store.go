package store

import (
	"context"
	"strings"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/query"
)

// SystemPrefix marks collections owned by the database itself.
const SystemPrefix = "system."

// Store is the document store capability.
type Store interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// ListCollections returns every collection name in sorted order.
	ListCollections(ctx context.Context) ([]string, error)

	// Find returns documents matching filter, restricted to projection when
	// non-empty. A nil filter matches everything.
	Find(ctx context.Context, collection string, filter query.Predicate, projection ...string) ([]doc.Document, error)

	// InsertMany inserts docs and returns how many were written.
	InsertMany(ctx context.Context, collection string, docs []doc.Document) (int, error)

	// ReplaceMany replaces each document by identity. With upsert, missing
	// documents are inserted. Identity-less documents are rejected.
	ReplaceMany(ctx context.Context, collection string, docs []doc.Document, upsert bool) (BulkResult, error)

	// DeleteMany removes every document matching filter.
	DeleteMany(ctx context.Context, collection string, filter query.Predicate) (int, error)

	// CountDocuments counts documents matching filter.
	CountDocuments(ctx context.Context, collection string, filter query.Predicate) (int, error)

	// SetOnInsert creates the document with defaults if id does not exist and
	// leaves an existing document untouched. Reports whether it inserted.
	SetOnInsert(ctx context.Context, collection string, id doc.Identity, defaults doc.Object) (bool, error)

	// Close releases the connection.
	Close() error
}

// BulkResult summarizes a ReplaceMany call.
type BulkResult struct {
	Matched  int `json:"matched"`
	Modified int `json:"modified"`
	Upserted int `json:"upserted"`
}

// Add accumulates other into r.
func (r *BulkResult) Add(other BulkResult) {
	r.Matched += other.Matched
	r.Modified += other.Modified
	r.Upserted += other.Upserted
}

// IsSystem reports whether name is a database-internal collection.
func IsSystem(name string) bool {
	return strings.HasPrefix(name, SystemPrefix)
}

// ValidCollection reports whether name can be used as a collection name on
// every backend.
func ValidCollection(name string) bool {
	if name == "" || len(name) > 120 {
		return false
	}
	if strings.ContainsAny(name, "\x00$") {
		return false
	}
	return !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, ".")
}

// IDSet loads the identities of every document in collection.
func IDSet(ctx context.Context, s Store, collection string) (map[doc.Identity]struct{}, error) {
	docs, err := s.Find(ctx, collection, nil, doc.FieldName)
	if err != nil {
		return nil, err
	}
	set := make(map[doc.Identity]struct{}, len(docs))
	for _, d := range docs {
		if !d.ID.IsZero() {
			set[d.ID] = struct{}{}
		}
	}
	return set, nil
}
