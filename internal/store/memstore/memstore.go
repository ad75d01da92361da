// Package memstore is an in-process store.Store used by tests, the harness
// and dry runs.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/query"
	"github.com/roach88/grimoire/internal/store"
)

// Operation names passed to a FaultFunc.
const (
	OpPing        = "ping"
	OpList        = "list"
	OpFind        = "find"
	OpInsert      = "insert"
	OpReplace     = "replace"
	OpDelete      = "delete"
	OpCount       = "count"
	OpSetOnInsert = "set_on_insert"
)

// FaultFunc lets tests fail an operation. Returning nil lets it proceed.
type FaultFunc func(op, collection string) error

var errClosed = errors.New("memstore closed")

// Store keeps every collection in memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[doc.Identity]doc.Object
	fault       FaultFunc
	closed      bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{collections: make(map[string]map[doc.Identity]doc.Object)}
}

// SetFault installs fn; nil clears it.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Seed inserts docs without a context, replacing existing identities.
// Identity-less documents get a fresh ObjectID.
func (s *Store) Seed(collection string, docs ...doc.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collection(collection)
	for _, d := range docs {
		if d.ID.IsZero() {
			d.ID = doc.NewObjectID()
		}
		coll[d.ID] = d.Fields.Clone()
	}
}

func (s *Store) check(op, collection string) error {
	if s.closed {
		return store.Unavailable(errClosed)
	}
	if collection != "" {
		if err := store.CheckCollection(collection); err != nil {
			return err
		}
	}
	if s.fault != nil {
		return s.fault(op, collection)
	}
	return nil
}

// collection returns the named collection, creating it. Caller holds mu.
func (s *Store) collection(name string) map[doc.Identity]doc.Object {
	coll, ok := s.collections[name]
	if !ok {
		coll = make(map[doc.Identity]doc.Object)
		s.collections[name] = coll
	}
	return coll
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(OpPing, "")
}

// ListCollections implements store.Store.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(OpList, ""); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Find implements store.Store.
func (s *Store) Find(ctx context.Context, collection string, filter query.Predicate, projection ...string) ([]doc.Document, error) {
	if err := query.Validate(filter); err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	if err := query.ValidateProjection(projection); err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(OpFind, collection); err != nil {
		return nil, err
	}

	out := []doc.Document{}
	for id, fields := range s.collections[collection] {
		d := doc.Document{ID: id, Fields: fields}
		if query.Match(filter, d) {
			out = append(out, query.Project(d, projection))
		}
	}
	slices.SortFunc(out, func(a, b doc.Document) int {
		switch {
		case a.ID.String() < b.ID.String():
			return -1
		case a.ID.String() > b.ID.String():
			return 1
		}
		return 0
	})
	return out, nil
}

// InsertMany implements store.Store. It is all-or-nothing: a duplicate
// identity aborts the whole batch.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []doc.Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpInsert, collection); err != nil {
		return 0, err
	}

	coll := s.collection(collection)
	staged := make(map[doc.Identity]doc.Object, len(docs))
	for _, d := range docs {
		id := d.ID
		if id.IsZero() {
			id = doc.NewObjectID()
		}
		if _, exists := coll[id]; exists {
			return 0, fmt.Errorf("insert %s: %w: %s", collection, store.ErrDuplicateKey, id)
		}
		if _, exists := staged[id]; exists {
			return 0, fmt.Errorf("insert %s: %w: %s", collection, store.ErrDuplicateKey, id)
		}
		staged[id] = d.Fields.Clone()
	}
	for id, fields := range staged {
		coll[id] = fields
	}
	return len(staged), nil
}

// ReplaceMany implements store.Store.
func (s *Store) ReplaceMany(ctx context.Context, collection string, docs []doc.Document, upsert bool) (store.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res store.BulkResult
	if err := s.check(OpReplace, collection); err != nil {
		return res, err
	}

	coll := s.collection(collection)
	for _, d := range docs {
		if d.ID.IsZero() {
			return res, fmt.Errorf("replace %s: %w", collection, store.ErrMissingIdentity)
		}
		existing, ok := coll[d.ID]
		switch {
		case ok:
			res.Matched++
			if !doc.Equal(existing, d.Fields) {
				res.Modified++
			}
		case upsert:
			res.Upserted++
		default:
			continue
		}
		coll[d.ID] = d.Fields.Clone()
	}
	return res, nil
}

// DeleteMany implements store.Store.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter query.Predicate) (int, error) {
	if err := query.Validate(filter); err != nil {
		return 0, fmt.Errorf("delete %s: %w", collection, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpDelete, collection); err != nil {
		return 0, err
	}

	coll, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	n := 0
	for id, fields := range coll {
		if query.Match(filter, doc.Document{ID: id, Fields: fields}) {
			delete(coll, id)
			n++
		}
	}
	return n, nil
}

// CountDocuments implements store.Store.
func (s *Store) CountDocuments(ctx context.Context, collection string, filter query.Predicate) (int, error) {
	if err := query.Validate(filter); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(OpCount, collection); err != nil {
		return 0, err
	}

	n := 0
	for id, fields := range s.collections[collection] {
		if query.Match(filter, doc.Document{ID: id, Fields: fields}) {
			n++
		}
	}
	return n, nil
}

// SetOnInsert implements store.Store.
func (s *Store) SetOnInsert(ctx context.Context, collection string, id doc.Identity, defaults doc.Object) (bool, error) {
	if id.IsZero() {
		return false, fmt.Errorf("set on insert %s: %w", collection, store.ErrMissingIdentity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpSetOnInsert, collection); err != nil {
		return false, err
	}

	coll := s.collection(collection)
	if _, ok := coll[id]; ok {
		return false, nil
	}
	coll[id] = doc.NewDocument(id, defaults.Clone()).Fields
	return true, nil
}

// Close marks the store closed; later calls report store.ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
