package doc

import (
	"strings"
)

// Field names with fixed meaning across collections.
const (
	FieldID   = "_id"
	FieldName = "name"
)

// Document is one stored record: an optional identity plus its fields.
// Fields never contain the identity field.
type Document struct {
	ID     Identity `json:"id"`
	Fields Object   `json:"fields"`
}

// NewDocument builds a Document, removing any embedded identity field.
func NewDocument(id Identity, fields Object) Document {
	if fields == nil {
		fields = Object{}
	}
	if _, ok := fields[FieldID]; ok {
		fields = fields.Clone()
		delete(fields, FieldID)
	}
	return Document{ID: id, Fields: fields}
}

// FromObject splits an object carrying its identity under idField into a
// Document. A missing or null identity yields an identity-less document.
func FromObject(obj Object, idField string) (Document, error) {
	id, err := IdentityFromValue(obj[idField])
	if err != nil {
		return Document{}, err
	}
	fields := make(Object, len(obj))
	for k, v := range obj {
		if k == idField || k == FieldID {
			continue
		}
		fields[k] = v
	}
	return Document{ID: id, Fields: fields}, nil
}

// Embed returns the document's fields with the identity written under
// idField. Identity-less documents are returned without the field.
func (d Document) Embed(idField string) Object {
	out := make(Object, len(d.Fields)+1)
	for k, v := range d.Fields {
		out[k] = v
	}
	if !d.ID.IsZero() {
		out[idField] = String(d.ID.String())
	}
	return out
}

// Name returns the document's trimmed, non-empty name.
func (d Document) Name() (string, bool) {
	s, ok := d.Fields.GetString(FieldName)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	return Document{ID: d.ID, Fields: d.Fields.Clone()}
}

// IDs returns the identities of docs in order, skipping identity-less ones.
func IDs(docs []Document) []Identity {
	out := make([]Identity, 0, len(docs))
	for _, d := range docs {
		if !d.ID.IsZero() {
			out = append(out, d.ID)
		}
	}
	return out
}
