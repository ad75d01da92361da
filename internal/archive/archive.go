package archive

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/grimoire/internal/doc"
)

const (
	// Suffix ends every member and aggregate key name.
	Suffix = ".json"
	// DataMember is the aggregate member holding every non-primary collection.
	DataMember = "data" + Suffix
	// PrimaryIDField carries identity in the primary member.
	PrimaryIDField = "id"
)

// Layout is a collection's on-disk convention.
type Layout int

const (
	// Keyed maps identity to document-without-identity.
	Keyed Layout = iota
	// Sequence is an array of documents with embedded identity.
	Sequence
)

func (l Layout) String() string {
	if l == Sequence {
		return "array"
	}
	return "keyed"
}

// Collection is one decoded collection, still in archived form.
type Collection struct {
	Name    string
	Layout  Layout
	IDField string
	Keyed   map[string]doc.Value
	Entries []doc.Value
}

// Len returns the number of archived documents.
func (c *Collection) Len() int {
	if c.Layout == Sequence {
		return len(c.Entries)
	}
	return len(c.Keyed)
}

// Documents converts the archived form into store documents. Entries that
// cannot be converted are returned as *doc.ConversionError and skipped.
func (c *Collection) Documents() ([]doc.Document, []error) {
	var (
		docs []doc.Document
		errs []error
	)
	if c.Layout == Sequence {
		for i, v := range c.Entries {
			d, err := c.fromEntry(v)
			if err != nil {
				errs = append(errs, &doc.ConversionError{
					Collection: c.Name, Key: strconv.Itoa(i), Reason: "invalid entry", Err: err,
				})
				continue
			}
			docs = append(docs, d)
		}
		return docs, errs
	}

	keys := make([]string, 0, len(c.Keyed))
	for k := range c.Keyed {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		obj, ok := c.Keyed[k].(doc.Object)
		if !ok {
			errs = append(errs, &doc.ConversionError{
				Collection: c.Name, Key: k,
				Reason: fmt.Sprintf("expected object, got %s", doc.Kind(c.Keyed[k])),
			})
			continue
		}
		id := doc.ParseIdentity(k)
		if id.IsZero() {
			errs = append(errs, &doc.ConversionError{Collection: c.Name, Key: k, Reason: "empty identity"})
			continue
		}
		docs = append(docs, doc.NewDocument(id, obj.Clone()))
	}
	return docs, errs
}

func (c *Collection) fromEntry(v doc.Value) (doc.Document, error) {
	obj, ok := v.(doc.Object)
	if !ok {
		return doc.Document{}, fmt.Errorf("expected object, got %s", doc.Kind(v))
	}
	idField := c.IDField
	if _, present := obj[idField]; !present {
		idField = doc.FieldID
	}
	return doc.FromObject(obj, idField)
}

// StrayIdentities describes sequence entries that carry an _id beside a
// different identity field. Documents drops the _id of such entries.
func (c *Collection) StrayIdentities() []string {
	if c.Layout != Sequence || c.IDField == doc.FieldID {
		return nil
	}
	var out []string
	for i, v := range c.Entries {
		obj, ok := v.(doc.Object)
		if !ok {
			continue
		}
		id, hasID := obj[c.IDField]
		stray, hasStray := obj[doc.FieldID]
		if !hasID || !hasStray || doc.Equal(id, stray) {
			continue
		}
		raw, err := doc.MarshalCanonical(stray)
		if err != nil {
			raw = []byte(doc.Kind(stray))
		}
		out = append(out, fmt.Sprintf("%s[%d]: %s %s dropped, identity taken from %s", c.Name, i, doc.FieldID, raw, c.IDField))
	}
	return out
}

// Archive is a decoded snapshot.
type Archive struct {
	// Primary is the standalone collection, nil when its member is absent.
	Primary *Collection
	// Collections holds every aggregate collection by name.
	Collections map[string]*Collection
	// Legacy reports that the input was the flat JSON form.
	Legacy bool
	// Problems holds members that could not be read as collections.
	Problems []error
}

// Names returns aggregate collection names in sorted order.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.Collections))
	for name := range a.Collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// memberCollection decodes one aggregate entry; the key has its suffix
// removed to name the target collection.
func memberCollection(key string, v doc.Value) (*Collection, error) {
	name := strings.TrimSuffix(key, Suffix)
	switch val := v.(type) {
	case doc.Object:
		return &Collection{Name: name, Layout: Keyed, IDField: doc.FieldID, Keyed: val}, nil
	case doc.Array:
		return &Collection{Name: name, Layout: Sequence, IDField: doc.FieldID, Entries: val}, nil
	default:
		return nil, &doc.ConversionError{
			Collection: name, Key: key,
			Reason: fmt.Sprintf("collection must be an object or array, got %s", doc.Kind(v)),
		}
	}
}
