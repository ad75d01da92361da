package codex

import (
	"github.com/roach88/grimoire/internal/doc"
)

// StatblockBlock returns a statblock block linking to entityID.
func StatblockBlock(entityID, title string) doc.Object {
	b := doc.NewObject(
		doc.O("type", doc.String(KindStatblock)),
		doc.O("entityId", doc.String(entityID)),
	)
	if title != "" {
		b["title"] = doc.String(title)
	}
	return b
}

// AppendBlocks returns a copy of fields with blocks appended to the content
// list at the nested path below the document. Missing intermediate objects
// are created; a non-object in the way is replaced.
func AppendBlocks(fields doc.Object, path []string, blocks ...doc.Value) doc.Object {
	out := fields.Clone()
	if out == nil {
		out = doc.Object{}
	}
	node := out
	for _, seg := range path {
		next, ok := node[seg].(doc.Object)
		if !ok {
			next = doc.Object{}
			node[seg] = next
		}
		node = next
	}
	content, _ := node[ContentField].(doc.Array)
	merged := make(doc.Array, 0, len(content)+len(blocks))
	merged = append(merged, content...)
	node[ContentField] = append(merged, blocks...)
	return out
}
