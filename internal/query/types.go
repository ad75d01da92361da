package query

import "github.com/roach88/grimoire/internal/doc"

// Predicate is a filter condition over documents of one collection.
// A nil Predicate matches every document.
type Predicate interface {
	predicateNode()
}

// Equals matches documents whose field holds exactly Value.
//
//	Equals{Field: "kind", Value: doc.String("weapon")}
//
// Missing fields never match.
type Equals struct {
	Field string
	Value doc.Value
}

func (Equals) predicateNode() {}

// In matches documents whose field equals any of Values.
// An empty Values matches nothing.
type In struct {
	Field  string
	Values []doc.Value
}

func (In) predicateNode() {}

// IDIn matches documents whose identity is one of IDs.
// Identity-less documents never match. An empty IDs matches nothing.
type IDIn struct {
	IDs []doc.Identity
}

func (IDIn) predicateNode() {}

// NameFold matches documents whose string field equals Value under
// Unicode case folding. Used for case-insensitive exact name lookups.
type NameFold struct {
	Field string
	Value string
}

func (NameFold) predicateNode() {}

// Exists matches documents that carry Field with a non-null value.
type Exists struct {
	Field string
}

func (Exists) predicateNode() {}

// And matches when every predicate matches. Empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// ByID is shorthand for IDIn with a single identity.
func ByID(id doc.Identity) Predicate {
	return IDIn{IDs: []doc.Identity{id}}
}

// ByName is shorthand for a case-insensitive name match.
func ByName(name string) Predicate {
	return NameFold{Field: doc.FieldName, Value: name}
}
