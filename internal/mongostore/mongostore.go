// Package mongostore implements store.Store on MongoDB using the official
// v2 driver. Collections map one-to-one; identities map to _id as
// bson.ObjectID or string.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/query"
	"github.com/roach88/grimoire/internal/store"
)

// Store is a MongoDB-backed document store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Store = (*Store)(nil)

// Open connects to uri and selects database. The connection is verified
// with a ping; failures are reported as store.ErrUnavailable.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	opts := options.Client().ApplyURI(uri).SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, store.Unavailable(fmt.Errorf("failed to connect to MongoDB: %w", err))
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, store.Unavailable(fmt.Errorf("failed to ping MongoDB: %w", err))
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return store.Unavailable(err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Drop removes the whole database. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) coll(name string) (*mongo.Collection, error) {
	if err := store.CheckCollection(name); err != nil {
		return nil, err
	}
	return s.db.Collection(name), nil
}

// ListCollections implements store.Store.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, wrapError("list collections", err)
	}
	slices.Sort(names)
	return names, nil
}

// Find implements store.Store.
func (s *Store) Find(ctx context.Context, collection string, filter query.Predicate, projection ...string) ([]doc.Document, error) {
	op := "find " + collection
	if err := query.ValidateProjection(projection); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f, err := compileFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("%s: compile filter: %w", op, err)
	}
	c, err := s.coll(collection)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if len(projection) > 0 {
		proj := bson.D{}
		for _, field := range projection {
			proj = append(proj, bson.E{Key: field, Value: 1})
		}
		opts.SetProjection(proj)
	}

	cursor, err := c.Find(ctx, f, opts)
	if err != nil {
		return nil, wrapError(op, err)
	}
	var raw []bson.D
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, wrapError(op, err)
	}

	out := make([]doc.Document, 0, len(raw))
	for _, d := range raw {
		converted, err := fromBSONDocument(d)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, converted)
	}
	// Mongo orders ObjectIDs before strings; keep the binary order shared by
	// every backend.
	slices.SortStableFunc(out, func(a, b doc.Document) int {
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

// InsertMany implements store.Store. Inserts are ordered, so a duplicate
// key stops the batch; documents before it stay written.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []doc.Document) (int, error) {
	op := "insert " + collection
	if len(docs) == 0 {
		return 0, nil
	}
	c, err := s.coll(collection)
	if err != nil {
		return 0, err
	}

	batch := make([]bson.D, 0, len(docs))
	for _, d := range docs {
		if d.ID.IsZero() {
			d.ID = doc.NewObjectID()
		}
		bd, err := toBSONDocument(d)
		if err != nil {
			return 0, fmt.Errorf("%s[%s]: %w", op, d.ID, err)
		}
		batch = append(batch, bd)
	}

	res, err := c.InsertMany(ctx, batch)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("%s: %w: %v", op, store.ErrDuplicateKey, err)
		}
		return 0, wrapError(op, err)
	}
	return len(res.InsertedIDs), nil
}

// ReplaceMany implements store.Store with one ordered bulk write.
func (s *Store) ReplaceMany(ctx context.Context, collection string, docs []doc.Document, upsert bool) (store.BulkResult, error) {
	op := "replace " + collection
	var res store.BulkResult
	if len(docs) == 0 {
		return res, nil
	}
	c, err := s.coll(collection)
	if err != nil {
		return res, err
	}

	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		if d.ID.IsZero() {
			return res, fmt.Errorf("%s: %w", op, store.ErrMissingIdentity)
		}
		id, err := toBSONID(d.ID)
		if err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}
		replacement, err := toBSONValue(d.Fields)
		if err != nil {
			return res, fmt.Errorf("%s[%s]: %w", op, d.ID, err)
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: id}}).
			SetReplacement(replacement).
			SetUpsert(upsert))
	}

	out, err := c.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return res, wrapError(op, err)
	}
	res.Matched = int(out.MatchedCount)
	res.Modified = int(out.ModifiedCount)
	res.Upserted = int(out.UpsertedCount)
	return res, nil
}

// DeleteMany implements store.Store.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter query.Predicate) (int, error) {
	op := "delete " + collection
	f, err := compileFilter(filter)
	if err != nil {
		return 0, fmt.Errorf("%s: compile filter: %w", op, err)
	}
	c, err := s.coll(collection)
	if err != nil {
		return 0, err
	}
	res, err := c.DeleteMany(ctx, f)
	if err != nil {
		return 0, wrapError(op, err)
	}
	return int(res.DeletedCount), nil
}

// CountDocuments implements store.Store.
func (s *Store) CountDocuments(ctx context.Context, collection string, filter query.Predicate) (int, error) {
	op := "count " + collection
	f, err := compileFilter(filter)
	if err != nil {
		return 0, fmt.Errorf("%s: compile filter: %w", op, err)
	}
	c, err := s.coll(collection)
	if err != nil {
		return 0, err
	}
	n, err := c.CountDocuments(ctx, f)
	if err != nil {
		return 0, wrapError(op, err)
	}
	return int(n), nil
}

// SetOnInsert implements store.Store with an upserting $setOnInsert.
func (s *Store) SetOnInsert(ctx context.Context, collection string, id doc.Identity, defaults doc.Object) (bool, error) {
	op := "set on insert " + collection
	if id.IsZero() {
		return false, fmt.Errorf("%s: %w", op, store.ErrMissingIdentity)
	}
	c, err := s.coll(collection)
	if err != nil {
		return false, err
	}
	bid, err := toBSONID(id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	fields := doc.NewDocument(id, defaults).Fields
	if len(fields) == 0 {
		// $setOnInsert rejects an empty document
		_, err := c.InsertOne(ctx, bson.D{{Key: "_id", Value: bid}})
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		if err != nil {
			return false, wrapError(op, err)
		}
		return true, nil
	}

	set, err := toBSONValue(fields)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	res, err := c.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: bid}},
		bson.D{{Key: "$setOnInsert", Value: set}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return false, wrapError(op, err)
	}
	return res.UpsertedCount == 1, nil
}

// wrapError classifies connectivity failures as store.ErrUnavailable.
func wrapError(op string, err error) error {
	if errors.Is(err, mongo.ErrClientDisconnected) || mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%s: %w", op, store.Unavailable(err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
