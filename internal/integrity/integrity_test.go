package integrity

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grimoire/internal/codex"
	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/job"
	"github.com/roach88/grimoire/internal/store"
	"github.com/roach88/grimoire/internal/store/memstore"
)

func entity(id, name string, pairs ...doc.Pair) doc.Document {
	return doc.NewDocument(doc.StringID(id), doc.NewObject(append(pairs, doc.O("name", doc.String(name)))...))
}

func codexDoc(id string, fields doc.Object) doc.Document {
	return doc.NewDocument(doc.StringID(id), fields)
}

func campaign(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	s.Seed("codex",
		codexDoc("monsters", doc.NewObject(
			doc.O("undead", doc.NewObject(
				doc.O("content", doc.Array{codex.StatblockBlock("e-zombie", ""), codex.StatblockBlock("e-lich", "")}),
			)),
			doc.O("beasts", doc.NewObject(
				doc.O("content", doc.Array{codex.StatblockBlock("e-wolf", "")}),
			)),
		)),
	)
	s.Seed("entities",
		entity("e-zombie", "Zombie", doc.O("rules", doc.Strings("r-undead", "r-gone"))),
		entity("e-wolf", "Wolf",
			doc.O("equipment", doc.Strings("eq-bite")),
			doc.O("spells", doc.NewObject(doc.O("1", doc.Strings("s-howl", "s-missing")), doc.O("2", doc.Strings("s-missing")))),
		),
		entity("e-stray", "Stray Cat", doc.O("rules", doc.Strings("r-missing"))),
	)
	s.Seed("rules", entity("r-undead", "Undead Fortitude"))
	s.Seed("equipment", entity("eq-bite", "Bite"))
	s.Seed("spells", entity("s-howl", "Howl"))
	return s
}

func scanner(s store.Store) *Scanner {
	return New(s, WithIDs(job.NewFixedGenerator("run-1")))
}

func TestScanReport(t *testing.T) {
	s := campaign(t)
	report, err := scanner(s).Scan(context.Background(), ScanRequest{})
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 3, report.Expected)
	assert.Equal(t, 3, report.Entities)

	assert.Equal(t, []Finding{{Kind: KindOrphan, Collection: "entities", ID: "e-stray", Name: "Stray Cat"}}, report.Orphans)
	assert.Equal(t, []Finding{{Kind: KindUnlinked, Collection: "entities", ID: "e-lich", Paths: []string{"monsters/undead"}}}, report.Unlinked)
	assert.Equal(t, []Finding{
		{Kind: KindBrokenLink, Collection: "entities", ID: "e-wolf", Name: "Wolf", Field: "spells", Missing: []string{"s-missing"}},
		{Kind: KindBrokenLink, Collection: "entities", ID: "e-zombie", Name: "Zombie", Field: "rules", Missing: []string{"r-gone"}},
	}, report.BrokenLinks)
	assert.Len(t, report.Findings(), 4)
	assert.False(t, report.Clean())
}

func TestDryRunNeverWrites(t *testing.T) {
	s := campaign(t)
	s.SetFault(func(op, _ string) error {
		switch op {
		case memstore.OpDelete, memstore.OpInsert, memstore.OpReplace, memstore.OpSetOnInsert:
			return fmt.Errorf("unexpected %s", op)
		}
		return nil
	})
	report, err := scanner(s).Scan(context.Background(), ScanRequest{Orphans: OrphanAdopt})
	require.NoError(t, err)
	assert.Equal(t, Actions{}, report.Actions)
}

func TestApplyDeletesOrphansAndStripsLinks(t *testing.T) {
	s := campaign(t)
	dry, err := scanner(s).Scan(context.Background(), ScanRequest{})
	require.NoError(t, err)

	fresh := campaign(t)
	report, err := scanner(fresh).Scan(context.Background(), ScanRequest{Apply: true})
	require.NoError(t, err)
	assert.Equal(t, dry.Findings(), report.Findings())
	assert.Equal(t, Actions{Deleted: 1, LinksStripped: 2, Updated: 2}, report.Actions)

	docs, err := fresh.Find(context.Background(), "entities", nil)
	require.NoError(t, err)
	byID := map[string]doc.Object{}
	for _, d := range docs {
		byID[d.ID.String()] = d.Fields
	}
	assert.NotContains(t, byID, "e-stray")
	assert.Equal(t, doc.Strings("r-undead"), byID["e-zombie"]["rules"])
	assert.Equal(t, doc.NewObject(doc.O("1", doc.Strings("s-howl")), doc.O("2", doc.Array{})), byID["e-wolf"]["spells"])

	again, err := scanner(fresh).Scan(context.Background(), ScanRequest{Apply: true})
	require.NoError(t, err)
	assert.Empty(t, again.Orphans)
	assert.Empty(t, again.BrokenLinks)
	assert.Equal(t, Actions{}, again.Actions)
}

func TestApplyAdoptsOrphans(t *testing.T) {
	s := campaign(t)
	report, err := scanner(s).Scan(context.Background(), ScanRequest{Apply: true, Orphans: OrphanAdopt})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Actions.Adopted)

	n, err := s.CountDocuments(context.Background(), "entities", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	again, err := scanner(s).Scan(context.Background(), ScanRequest{})
	require.NoError(t, err)
	assert.Empty(t, again.Orphans)
	// the adopted entity is now linked, so its broken link surfaces; the
	// others were stripped by the first pass
	require.Len(t, again.BrokenLinks, 1)
	assert.Equal(t, "e-stray", again.BrokenLinks[0].ID)

	tree, err := scanner(s).Tree(context.Background())
	require.NoError(t, err)
	adopted := tree.Child("uncategorized")
	require.NotNil(t, adopted)
	require.Len(t, adopted.Blocks, 1)
	assert.Equal(t, "e-stray", adopted.Blocks[0].EntityID)
}

func TestAdoptKeepsExistingDocument(t *testing.T) {
	s := campaign(t)
	s.Seed("codex", codexDoc("uncategorized", doc.NewObject(
		doc.O("title", doc.String("Misc")),
		doc.O("content", doc.Array{doc.NewObject(doc.O("type", doc.String("paragraph")))}),
	)))
	_, err := scanner(s).Scan(context.Background(), ScanRequest{Apply: true, Orphans: OrphanAdopt})
	require.NoError(t, err)

	docs, err := s.Find(context.Background(), "codex", nil)
	require.NoError(t, err)
	var fields doc.Object
	for _, d := range docs {
		if d.ID.String() == "uncategorized" {
			fields = d.Fields
		}
	}
	assert.Equal(t, doc.String("Misc"), fields["title"])
	assert.Len(t, fields["content"], 2)
}

func TestApplyRefusesEmptyCodex(t *testing.T) {
	s := memstore.New()
	s.Seed("entities", entity("e1", "One"), entity("e2", "Two"))

	report, err := scanner(s).Scan(context.Background(), ScanRequest{Apply: true})
	require.ErrorIs(t, err, ErrEmptyCodex)
	assert.Len(t, report.Orphans, 2)

	n, err := s.CountDocuments(context.Background(), "entities", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	report, err = scanner(s).Scan(context.Background(), ScanRequest{Apply: true, AllowEmptyCodex: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Actions.Deleted)
}

func TestOrphanAndUnlinkedCompleteness(t *testing.T) {
	const n, m, overlap = 7, 5, 3
	s := memstore.New()

	var blocks doc.Array
	for i := range n {
		blocks = append(blocks, codex.StatblockBlock(fmt.Sprintf("e%02d", i), ""))
	}
	s.Seed("codex", codexDoc("all", doc.NewObject(doc.O("content", blocks))))
	for i := n - overlap; i < n-overlap+m; i++ {
		s.Seed("entities", entity(fmt.Sprintf("e%02d", i), fmt.Sprintf("E%d", i)))
	}

	report, err := scanner(s).Scan(context.Background(), ScanRequest{})
	require.NoError(t, err)
	assert.Len(t, report.Orphans, m-overlap)
	assert.Len(t, report.Unlinked, n-overlap)
}

func TestScanUnavailable(t *testing.T) {
	s := memstore.New()
	require.NoError(t, s.Close())
	_, err := scanner(s).Scan(context.Background(), ScanRequest{})
	assert.True(t, store.IsUnavailable(err))
}

func TestDuplicates(t *testing.T) {
	s := memstore.New()
	s.Seed("rules",
		entity("r1", "Grapple"),
		entity("r2", "Grapple"),
		entity("r3", "grapple"),
		entity("r4", "Shove"),
		entity("r5", "Shove"),
		entity("r6", "Dash"),
	)
	para := doc.NewObject(doc.O("type", doc.String("paragraph")), doc.O("text", doc.String("Same words.")))
	s.Seed("codex",
		codexDoc("a", doc.NewObject(doc.O("content", doc.Array{para}))),
		codexDoc("b", doc.NewObject(doc.O("nested", doc.NewObject(doc.O("content", doc.Array{para}))))),
		codexDoc("c", doc.NewObject(doc.O("content", doc.Array{para, para}))),
	)

	report, err := scanner(s).Duplicates(context.Background(), DuplicateRequest{Collection: "rules", Tolerate: []string{"Shove"}})
	require.NoError(t, err)
	assert.Equal(t, []Finding{{Kind: KindDuplicateName, Collection: "rules", Name: "Grapple", IDs: []string{"r1", "r2"}}}, report.Names)
	assert.Equal(t, []Finding{{Kind: KindDuplicateContent, Collection: "codex", Paths: []string{"a", "b/nested"}}}, report.Content)
}

func TestLinkHelpers(t *testing.T) {
	levels := doc.NewObject(doc.O("2", doc.Strings("b")), doc.O("1", doc.Strings("a", "x")))
	assert.Equal(t, []string{"a", "x", "b"}, LinkValues(levels))
	assert.Equal(t, []string{"a"}, LinkValues(doc.Array{doc.String("a"), doc.Int(3), doc.String("")}))

	assert.Equal(t, doc.NewObject(doc.O("1", doc.Strings("a")), doc.O("2", doc.Strings("b"))), StripLinks(levels, []string{"x"}))
	assert.Equal(t, []string{"x", "b"}, missingLinks(levels, map[string]bool{"a": true}))
}

func TestParseOrphanPolicy(t *testing.T) {
	p, err := ParseOrphanPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OrphanDelete, p)

	p, err = ParseOrphanPolicy("adopt")
	require.NoError(t, err)
	assert.Equal(t, OrphanAdopt, p)

	_, err = ParseOrphanPolicy("burn")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}
