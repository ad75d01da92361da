package archive

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/store/memstore"
)

var fixedClock = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

const hexID = "65f0c0ffee00000000000001"

func seededStore(t *testing.T) *memstore.Store {
	t.Helper()
	oid, err := doc.ObjectID(hexID)
	require.NoError(t, err)

	s := memstore.New()
	s.Seed("bestiary",
		doc.NewDocument(doc.StringID("b1"), doc.NewObject(doc.O("name", doc.String("Beast 1")), doc.O("cr", doc.Float(0.5)))),
		doc.NewDocument(oid, doc.NewObject(doc.O("name", doc.String("Beast 2")))),
	)
	s.Seed("rules", doc.NewDocument(doc.StringID("r1"), doc.NewObject(doc.O("name", doc.String("Rule 1")), doc.O("page", doc.Int(12)))))
	s.Seed("journal_entries",
		doc.NewDocument(doc.StringID("j1"), doc.NewObject(doc.O("name", doc.String("Day 1")))),
		doc.NewDocument(doc.StringID("j2"), doc.NewObject(doc.O("name", doc.String("Day 2")))),
	)
	s.Seed("system.profile", doc.NewDocument(doc.StringID("p"), nil))
	return s
}

func encode(t *testing.T, c *Codec, s *memstore.Store) ([]byte, *Manifest) {
	t.Helper()
	var buf bytes.Buffer
	m, err := c.Encode(context.Background(), s, &buf)
	require.NoError(t, err)
	return buf.Bytes(), m
}

func TestEncodeMembers(t *testing.T) {
	c := New(WithClock(fixedClock))
	data, m := encode(t, c, seededStore(t))

	members, err := ListMembers(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"bestiary.json", "data.json"}, members)

	assert.Equal(t, map[string]int{"bestiary": 2, "rules": 1, "journal_entries": 2}, m.Collections)
	assert.Equal(t, 5, m.Documents)
	assert.Equal(t, len(data), m.Size)
	assert.Equal(t, doc.ArchiveDigest(data), m.Digest)
	assert.Equal(t, fixedClock(), m.CreatedAt)
}

func TestEncodeIsDeterministic(t *testing.T) {
	c := New(WithClock(fixedClock))
	first, _ := encode(t, c, seededStore(t))
	second, _ := encode(t, c, seededStore(t))
	assert.Equal(t, first, second)
}

func TestRoundTrip(t *testing.T) {
	c := New(WithClock(fixedClock))
	data, _ := encode(t, c, seededStore(t))

	a, err := c.Decode("backup.zip", data)
	require.NoError(t, err)
	assert.False(t, a.Legacy)
	assert.Empty(t, a.Problems)
	assert.Equal(t, []string{"journal_entries", "rules"}, a.Names())

	require.NotNil(t, a.Primary)
	primary, errs := a.Primary.Documents()
	require.Empty(t, errs)
	require.Len(t, primary, 2)
	assert.Equal(t, doc.ObjectIDKind, primary[0].ID.Kind())
	assert.Equal(t, hexID, primary[0].ID.String())
	assert.Equal(t, "b1", primary[1].ID.String())
	assert.Equal(t, doc.Float(0.5), primary[1].Fields["cr"])

	rules := a.Collections["rules"]
	assert.Equal(t, Keyed, rules.Layout)
	ruleDocs, errs := rules.Documents()
	require.Empty(t, errs)
	require.Len(t, ruleDocs, 1)
	assert.Equal(t, "r1", ruleDocs[0].ID.String())
	assert.Equal(t, doc.Int(12), ruleDocs[0].Fields["page"])

	entries := a.Collections["journal_entries"]
	assert.Equal(t, Sequence, entries.Layout)
	entryDocs, errs := entries.Documents()
	require.Empty(t, errs)
	assert.Equal(t, []doc.Identity{doc.StringID("j1"), doc.StringID("j2")}, doc.IDs(entryDocs))
}

func TestStripEntryIdentity(t *testing.T) {
	c := New(WithClock(fixedClock), WithStripEntryIdentity(true))
	data, _ := encode(t, c, seededStore(t))

	a, err := c.Decode("backup.zip", data)
	require.NoError(t, err)
	docs, errs := a.Collections["journal_entries"].Documents()
	require.Empty(t, errs)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.True(t, d.ID.IsZero())
	}
}

func TestEncodeExcludeAndMissingPrimary(t *testing.T) {
	s := memstore.New()
	s.Seed("rules", doc.NewDocument(doc.StringID("r1"), nil))
	s.Seed("scratch", doc.NewDocument(doc.StringID("x"), nil))

	c := New(WithClock(fixedClock), WithExclude("scratch"))
	data, m := encode(t, c, s)
	assert.Equal(t, map[string]int{"bestiary": 0, "rules": 1}, m.Collections)

	a, err := c.Decode("backup.zip", data)
	require.NoError(t, err)
	require.NotNil(t, a.Primary)
	assert.Zero(t, a.Primary.Len())
	assert.Equal(t, []string{"rules"}, a.Names())
}

func TestDecodeSpecExampleLegacy(t *testing.T) {
	input := []byte(`{
		"bestiary.json": [{"id": "b1", "name": "Beast 1"}],
		"rules.json": {"r1": {"name": "Rule 1"}},
		"notes": "ignored"
	}`)
	a, err := New().Decode("old.json", input)
	require.NoError(t, err)
	assert.True(t, a.Legacy)
	assert.Equal(t, []string{"rules"}, a.Names())

	primary, errs := a.Primary.Documents()
	require.Empty(t, errs)
	require.Len(t, primary, 1)
	assert.Equal(t, "b1", primary[0].ID.String())

	rules, errs := a.Collections["rules"].Documents()
	require.Empty(t, errs)
	require.Len(t, rules, 1)
	name, _ := rules[0].Fields.GetString("name")
	assert.Equal(t, "Rule 1", name)
}

func TestDecodeMissingMembers(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create("data.json")
	require.NoError(t, err)
	_, err = fw.Write([]byte(`{"spells.json": {"s1": {"name": "Light"}}}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	a, err := New().Decode("partial.zip", buf.Bytes())
	require.NoError(t, err)
	assert.Nil(t, a.Primary)
	assert.Equal(t, []string{"spells"}, a.Names())

	var empty bytes.Buffer
	require.NoError(t, zip.NewWriter(&empty).Close())
	a, err = New().Decode("empty.zip", empty.Bytes())
	require.NoError(t, err)
	assert.Nil(t, a.Primary)
	assert.Empty(t, a.Collections)
}

func TestDecodeFormatError(t *testing.T) {
	for name, input := range map[string][]byte{
		"garbage": []byte("not an archive"),
		"array":   []byte(`[1, 2]`),
		"empty":   nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New().Decode("input.bin", input)
			require.Error(t, err)
			assert.True(t, IsFormatError(err))
			assert.Contains(t, err.Error(), "input.bin")
		})
	}
}

func TestDecodeBadMember(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create("bestiary.json")
	require.NoError(t, err)
	_, err = fw.Write([]byte(`{"not": "an array"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = New().Decode("bad.zip", buf.Bytes())
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "bestiary.json", fe.Member)
}

func TestDecodeMemberSizeLimit(t *testing.T) {
	c := New(WithClock(fixedClock))
	data, _ := encode(t, c, seededStore(t))

	_, err := New(WithMaxMemberSize(8)).Decode("big.zip", data)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, errMemberTooLarge)
}

func TestDecodeCollectsMemberProblems(t *testing.T) {
	input := []byte(`{"rules.json": {"r1": {"name": "Rule 1"}}, "spells.json": 7}`)
	a, err := New().Decode("mixed.json", input)
	require.NoError(t, err)
	assert.Equal(t, []string{"rules"}, a.Names())
	require.Len(t, a.Problems, 1)
	assert.True(t, doc.IsConversionError(a.Problems[0]))
}

func TestDocumentsSkipsBadEntries(t *testing.T) {
	coll := &Collection{
		Name:    "rules",
		Layout:  Sequence,
		IDField: doc.FieldID,
		Entries: []doc.Value{
			doc.NewObject(doc.O("_id", doc.String("r1"))),
			doc.String("loose"),
			doc.NewObject(doc.O("_id", doc.Int(4))),
			doc.NewObject(doc.O("name", doc.String("anonymous"))),
		},
	}
	docs, errs := coll.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, "r1", docs[0].ID.String())
	assert.True(t, docs[1].ID.IsZero())
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.True(t, doc.IsConversionError(err))
	}
}

func TestEntryLikePatterns(t *testing.T) {
	c := New(WithEntryLike("*_log", "timeline"))
	assert.True(t, c.IsEntryLike("session_log"))
	assert.True(t, c.IsEntryLike("timeline"))
	assert.False(t, c.IsEntryLike("journal_entries"))
	assert.True(t, New().IsEntryLike("journal_entries"))
}
