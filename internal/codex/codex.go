package codex

import (
	"slices"
	"strings"

	"github.com/roach88/grimoire/internal/doc"
)

// ContentField is the reserved leaf-list key. It is never a child.
const ContentField = "content"

// Block kinds with structure the integrity tools care about. Other kinds are
// kept verbatim.
const (
	KindHeading   = "heading"
	KindParagraph = "paragraph"
	KindTable     = "table"
	KindStatblock = "statblock"
)

// Block is one element of a node's content list.
type Block struct {
	Kind string
	// EntityID is set for statblocks only, trimmed.
	EntityID string
	// Value is the block as stored.
	Value doc.Value
}

// IsEntityRef reports whether the block links into the entity collection.
func (b Block) IsEntityRef() bool {
	return b.Kind == KindStatblock && b.EntityID != ""
}

// Node is a codex tree node.
type Node struct {
	// Path holds the segments from the root; the root's path is empty.
	Path []string
	// Content is the raw content list, nil when the node has none.
	Content doc.Array
	// Blocks is Content parsed.
	Blocks   []Block
	Children []*Node
}

// Key returns the node's last path segment.
func (n *Node) Key() string {
	if len(n.Path) == 0 {
		return ""
	}
	return n.Path[len(n.Path)-1]
}

// PathString joins the path with "/".
func (n *Node) PathString() string {
	return strings.Join(n.Path, "/")
}

// HasContent reports whether the node carries a content list.
func (n *Node) HasContent() bool {
	return n.Content != nil
}

// Child returns the direct child with key, or nil.
func (n *Node) Child(key string) *Node {
	for _, c := range n.Children {
		if c.Key() == key {
			return c
		}
	}
	return nil
}

type pending struct {
	node *Node
	obj  doc.Object
}

// Build assembles the tree from codex documents. Each document becomes a
// child of the root keyed by its identity; children are ordered by key.
// Documents without identity are skipped.
func Build(docs []doc.Document) *Node {
	root := &Node{}
	var work []pending
	for _, d := range docs {
		if d.ID.IsZero() {
			continue
		}
		child := &Node{Path: []string{d.ID.String()}}
		root.Children = append(root.Children, child)
		work = append(work, pending{child, d.Fields})
	}
	slices.SortFunc(root.Children, byKey)

	for len(work) > 0 {
		item := work[len(work)-1]
		work = work[:len(work)-1]

		for _, key := range item.obj.SortedKeys() {
			v := item.obj[key]
			if key == ContentField {
				if arr, ok := v.(doc.Array); ok {
					item.node.Content = arr
					item.node.Blocks = parseBlocks(arr)
				}
				continue
			}
			obj, ok := v.(doc.Object)
			if !ok {
				continue
			}
			child := &Node{Path: appendPath(item.node.Path, key)}
			item.node.Children = append(item.node.Children, child)
			work = append(work, pending{child, obj})
		}
		slices.SortFunc(item.node.Children, byKey)
	}
	return root
}

func byKey(a, b *Node) int { return strings.Compare(a.Key(), b.Key()) }

func appendPath(path []string, key string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, key)
}

func parseBlocks(arr doc.Array) []Block {
	blocks := make([]Block, 0, len(arr))
	for _, v := range arr {
		b := Block{Value: v}
		if obj, ok := v.(doc.Object); ok {
			b.Kind, _ = obj.GetString("type")
			if b.Kind == KindStatblock {
				id, _ := obj.GetString("entityId")
				b.EntityID = strings.TrimSpace(id)
			}
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// Walk visits every node depth-first in key order, root first, using an
// explicit stack. Returning false from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	stack := []*Node{n}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(node) {
			continue
		}
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}
}

// Reference is a statblock's link to an entity.
type Reference struct {
	EntityID string `json:"entity_id"`
	Path     string `json:"path"`
}

// References lists every statblock entity reference in walk order.
func (n *Node) References() []Reference {
	var refs []Reference
	n.Walk(func(node *Node) bool {
		for _, b := range node.Blocks {
			if b.IsEntityRef() {
				refs = append(refs, Reference{EntityID: b.EntityID, Path: node.PathString()})
			}
		}
		return true
	})
	return refs
}

// ExpectedEntities maps each referenced entity id to the paths referencing
// it, paths in walk order.
func (n *Node) ExpectedEntities() map[string][]string {
	out := map[string][]string{}
	for _, r := range n.References() {
		if !slices.Contains(out[r.EntityID], r.Path) {
			out[r.EntityID] = append(out[r.EntityID], r.Path)
		}
	}
	return out
}

// Size counts the nodes below and including n.
func (n *Node) Size() int {
	count := 0
	n.Walk(func(*Node) bool { count++; return true })
	return count
}
