// Package storetest holds the conformance suite every store.Store backend
// must pass.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/query"
	"github.com/roach88/grimoire/internal/store"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"InsertAndFindOrdered", testInsertAndFindOrdered},
		{"InsertAssignsObjectID", testInsertAssignsObjectID},
		{"InsertDuplicate", testInsertDuplicate},
		{"FindFilters", testFindFilters},
		{"FindProjection", testFindProjection},
		{"ValuesRoundTrip", testValuesRoundTrip},
		{"IdentityKindRoundTrip", testIdentityKindRoundTrip},
		{"ReplaceMany", testReplaceMany},
		{"ReplaceManyRejectsMissingIdentity", testReplaceManyRejectsMissingIdentity},
		{"DeleteMany", testDeleteMany},
		{"CountDocuments", testCountDocuments},
		{"SetOnInsert", testSetOnInsert},
		{"ListCollections", testListCollections},
		{"FindMissingCollection", testFindMissingCollection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func named(id, name string) doc.Document {
	return doc.NewDocument(doc.StringID(id), doc.Object{"name": doc.String(name)})
}

func ids(docs []doc.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID.String()
	}
	return out
}

func testInsertAndFindOrdered(t *testing.T, s store.Store) {
	ctx := context.Background()
	n, err := s.InsertMany(ctx, "rules", []doc.Document{
		named("r2", "Flanking"), named("r1", "Cover"), named("r3", "Surprise"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.Find(ctx, "rules", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(got))
	assert.Equal(t, doc.String("Cover"), got[0].Fields["name"])
}

func testInsertAssignsObjectID(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.InsertMany(ctx, "journal_entries", []doc.Document{
		doc.NewDocument(doc.Identity{}, doc.Object{"text": doc.String("Session 1")}),
	})
	require.NoError(t, err)

	got, err := s.Find(ctx, "journal_entries", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, doc.ObjectIDKind, got[0].ID.Kind())
}

func testInsertDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.InsertMany(ctx, "rules", []doc.Document{named("r1", "Cover")})
	require.NoError(t, err)

	_, err = s.InsertMany(ctx, "rules", []doc.Document{named("r1", "Other")})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func seedEquipment(t *testing.T, s store.Store) {
	t.Helper()
	_, err := s.InsertMany(context.Background(), "equipment", []doc.Document{
		doc.NewDocument(doc.StringID("eq_longsword"), doc.Object{
			"name": doc.String("Longsword"), "category": doc.String("weapon"), "cost": doc.Int(15),
		}),
		doc.NewDocument(doc.StringID("eq_chain_mail"), doc.Object{
			"name": doc.String("Chain Mail"), "category": doc.String("armor"), "cost": doc.Int(75),
		}),
		doc.NewDocument(doc.StringID("eq_torch"), doc.Object{
			"name": doc.String("Torch"), "notes": doc.Null{},
		}),
	})
	require.NoError(t, err)
}

func testFindFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedEquipment(t, s)

	tests := []struct {
		name   string
		filter query.Predicate
		want   []string
	}{
		{"equals", query.Equals{Field: "category", Value: doc.String("weapon")}, []string{"eq_longsword"}},
		{"equals int", query.Equals{Field: "cost", Value: doc.Int(75)}, []string{"eq_chain_mail"}},
		{"in", query.In{Field: "category", Values: []doc.Value{doc.String("weapon"), doc.String("armor")}}, []string{"eq_chain_mail", "eq_longsword"}},
		{"in empty", query.In{Field: "category"}, []string{}},
		{"id in", query.IDIn{IDs: []doc.Identity{doc.StringID("eq_torch"), doc.StringID("eq_missing")}}, []string{"eq_torch"}},
		{"id in empty", query.IDIn{}, []string{}},
		{"name fold", query.ByName("CHAIN MAIL"), []string{"eq_chain_mail"}},
		{"exists", query.Exists{Field: "category"}, []string{"eq_chain_mail", "eq_longsword"}},
		{"exists null", query.Exists{Field: "notes"}, []string{}},
		{"and", query.And{Predicates: []query.Predicate{
			query.Exists{Field: "cost"}, query.Equals{Field: "category", Value: doc.String("armor")},
		}}, []string{"eq_chain_mail"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Find(ctx, "equipment", tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func testFindProjection(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedEquipment(t, s)

	got, err := s.Find(ctx, "equipment", query.ByID(doc.StringID("eq_longsword")), "name")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, doc.Object{"name": doc.String("Longsword")}, got[0].Fields)

	_, err = s.Find(ctx, "equipment", nil, "bad field")
	assert.Error(t, err)
}

func testValuesRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	fields := doc.Object{
		"name":   doc.String("Goblin <boss>"),
		"hp":     doc.Int(7),
		"cr":     doc.Float(0.25),
		"ac":     doc.Float(15),
		"flying": doc.Bool(false),
		"lair":   doc.Null{},
		"spells": doc.Object{"1": doc.Strings("spell_shield"), "2": doc.Array{}},
	}
	_, err := s.InsertMany(ctx, "entities", []doc.Document{doc.NewDocument(doc.StringID("goblin"), fields)})
	require.NoError(t, err)

	got, err := s.Find(ctx, "entities", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fields, got[0].Fields)
}

func testIdentityKindRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	oid, err := doc.ObjectID("65a1b2c3d4e5f60718293a4b")
	require.NoError(t, err)

	_, err = s.InsertMany(ctx, "entities", []doc.Document{
		doc.NewDocument(oid, doc.Object{"name": doc.String("A")}),
		named("canonical_b", "B"),
	})
	require.NoError(t, err)

	got, err := s.Find(ctx, "entities", nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, oid, got[0].ID)
	assert.Equal(t, doc.StringID("canonical_b"), got[1].ID)

	found, err := s.Find(ctx, "entities", query.ByID(oid))
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func testReplaceMany(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.InsertMany(ctx, "rules", []doc.Document{named("r1", "Cover"), named("r2", "Flanking")})
	require.NoError(t, err)

	res, err := s.ReplaceMany(ctx, "rules", []doc.Document{
		named("r1", "Cover"),
		named("r2", "Flanking (revised)"),
		named("r3", "Surprise"),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, store.BulkResult{Matched: 2, Modified: 1}, res)

	count, err := s.CountDocuments(ctx, "rules", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "no upsert without the flag")

	res, err = s.ReplaceMany(ctx, "rules", []doc.Document{named("r3", "Surprise")}, true)
	require.NoError(t, err)
	assert.Equal(t, store.BulkResult{Upserted: 1}, res)

	got, err := s.Find(ctx, "rules", query.ByID(doc.StringID("r2")))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, doc.String("Flanking (revised)"), got[0].Fields["name"])
}

func testReplaceManyRejectsMissingIdentity(t *testing.T, s store.Store) {
	_, err := s.ReplaceMany(context.Background(), "rules", []doc.Document{
		doc.NewDocument(doc.Identity{}, doc.Object{"name": doc.String("x")}),
	}, true)
	assert.ErrorIs(t, err, store.ErrMissingIdentity)
}

func testDeleteMany(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedEquipment(t, s)

	n, err := s.DeleteMany(ctx, "equipment", query.Equals{Field: "category", Value: doc.String("weapon")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.DeleteMany(ctx, "equipment", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteMany(ctx, "never_written", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testCountDocuments(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedEquipment(t, s)

	n, err := s.CountDocuments(ctx, "equipment", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountDocuments(ctx, "equipment", query.Exists{Field: "cost"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testSetOnInsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := doc.StringID("uncategorized")

	inserted, err := s.SetOnInsert(ctx, "codex", id, doc.Object{"title": doc.String("Uncategorized")})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.SetOnInsert(ctx, "codex", id, doc.Object{"title": doc.String("Other")})
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.Find(ctx, "codex", query.ByID(id))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, doc.String("Uncategorized"), got[0].Fields["title"])
}

func testListCollections(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.InsertMany(ctx, "rules", []doc.Document{named("r1", "Cover")})
	require.NoError(t, err)
	_, err = s.InsertMany(ctx, "bestiary", []doc.Document{named("b1", "Beast 1")})
	require.NoError(t, err)
	_, err = s.DeleteMany(ctx, "rules", nil)
	require.NoError(t, err)

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "rules", "emptied collections still exist")
	assert.Contains(t, names, "bestiary")
	assert.IsNonDecreasing(t, names)
}

func testFindMissingCollection(t *testing.T, s store.Store) {
	got, err := s.Find(context.Background(), "nothing_here", nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
