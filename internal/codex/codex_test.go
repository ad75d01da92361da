package codex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grimoire/internal/doc"
)

func heading(text string) doc.Object {
	return doc.NewObject(doc.O("type", doc.String(KindHeading)), doc.O("text", doc.String(text)))
}

func sampleDocs() []doc.Document {
	return []doc.Document{
		doc.NewDocument(doc.StringID("monsters"), doc.NewObject(
			doc.O("title", doc.String("Monsters")),
			doc.O("dragons", doc.NewObject(
				doc.O("content", doc.Array{heading("Dragons")}),
				doc.O("red", doc.NewObject(
					doc.O("content", doc.Array{StatblockBlock("e-red", "Red Dragon"), StatblockBlock(" ", "")}),
				)),
			)),
			doc.O("beasts", doc.NewObject(
				doc.O("content", doc.Array{StatblockBlock("e-wolf", ""), doc.String("loose text")}),
				doc.O("deep", doc.NewObject(doc.O("deeper", doc.NewObject(doc.O("deepest", doc.NewObject(
					doc.O("content", doc.Array{StatblockBlock("e-worm", ""), StatblockBlock("e-wolf", "")}),
				)))))),
			)),
		)),
		doc.NewDocument(doc.StringID("appendix"), doc.NewObject(
			doc.O("content", doc.Array{doc.NewObject(doc.O("type", doc.String(KindTable)))}),
			doc.O("tags", doc.Strings("not", "a", "child")),
		)),
		doc.NewDocument(doc.Identity{}, doc.NewObject(doc.O("content", doc.Array{StatblockBlock("e-ghost", "")}))),
	}
}

func TestBuildShape(t *testing.T) {
	root := Build(sampleDocs())

	require.Len(t, root.Children, 2)
	assert.Equal(t, "appendix", root.Children[0].Key())
	assert.Equal(t, "monsters", root.Children[1].Key())

	monsters := root.Child("monsters")
	require.NotNil(t, monsters)
	assert.False(t, monsters.HasContent())
	assert.Equal(t, []string{"beasts", "dragons"}, []string{monsters.Children[0].Key(), monsters.Children[1].Key()})

	deepest := monsters.Child("beasts").Child("deep").Child("deeper").Child("deepest")
	require.NotNil(t, deepest)
	assert.Equal(t, "monsters/beasts/deep/deeper/deepest", deepest.PathString())

	appendix := root.Child("appendix")
	assert.True(t, appendix.HasContent())
	assert.Empty(t, appendix.Children)
	assert.Equal(t, KindTable, appendix.Blocks[0].Kind)

	assert.Equal(t, 9, root.Size())
}

func TestWalkOrder(t *testing.T) {
	var paths []string
	Build(sampleDocs()).Walk(func(n *Node) bool {
		paths = append(paths, n.PathString())
		return true
	})
	assert.Equal(t, []string{
		"",
		"appendix",
		"monsters",
		"monsters/beasts",
		"monsters/beasts/deep",
		"monsters/beasts/deep/deeper",
		"monsters/beasts/deep/deeper/deepest",
		"monsters/dragons",
		"monsters/dragons/red",
	}, paths)
}

func TestWalkSkipsChildren(t *testing.T) {
	var paths []string
	Build(sampleDocs()).Walk(func(n *Node) bool {
		paths = append(paths, n.PathString())
		return n.Key() != "monsters"
	})
	assert.Equal(t, []string{"", "appendix", "monsters"}, paths)
}

func TestReferences(t *testing.T) {
	root := Build(sampleDocs())
	assert.Equal(t, []Reference{
		{EntityID: "e-wolf", Path: "monsters/beasts"},
		{EntityID: "e-worm", Path: "monsters/beasts/deep/deeper/deepest"},
		{EntityID: "e-wolf", Path: "monsters/beasts/deep/deeper/deepest"},
		{EntityID: "e-red", Path: "monsters/dragons/red"},
	}, root.References())

	assert.Equal(t, map[string][]string{
		"e-wolf": {"monsters/beasts", "monsters/beasts/deep/deeper/deepest"},
		"e-worm": {"monsters/beasts/deep/deeper/deepest"},
		"e-red":  {"monsters/dragons/red"},
	}, root.ExpectedEntities())
}

func TestBuildEmpty(t *testing.T) {
	root := Build(nil)
	assert.Empty(t, root.References())
	assert.Equal(t, 1, root.Size())
}

func TestAppendBlocks(t *testing.T) {
	orig := doc.NewObject(doc.O("misc", doc.NewObject(doc.O("content", doc.Array{heading("Misc")}))))

	out := AppendBlocks(orig, []string{"misc"}, StatblockBlock("e1", "One"))
	content := out["misc"].(doc.Object)["content"].(doc.Array)
	require.Len(t, content, 2)
	assert.Equal(t, doc.String("e1"), content[1].(doc.Object)["entityId"])

	// input untouched
	assert.Len(t, orig["misc"].(doc.Object)["content"].(doc.Array), 1)

	top := AppendBlocks(nil, nil, StatblockBlock("e2", ""))
	assert.Len(t, top["content"].(doc.Array), 1)

	nested := AppendBlocks(doc.Object{"a": doc.String("scalar")}, []string{"a", "b"}, StatblockBlock("e3", ""))
	root := Build([]doc.Document{doc.NewDocument(doc.StringID("x"), nested)})
	assert.Equal(t, []Reference{{EntityID: "e3", Path: "x/a/b"}}, root.References())
}
