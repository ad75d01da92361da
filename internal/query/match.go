package query

import (
	"golang.org/x/text/cases"

	"github.com/roach88/grimoire/internal/doc"
)

// Match evaluates p against d. It is the reference semantics every backend
// compiler must agree with.
func Match(p Predicate, d doc.Document) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case Equals:
		v, ok := d.Fields[pred.Field]
		return ok && doc.Equal(v, pred.Value)
	case In:
		v, ok := d.Fields[pred.Field]
		if !ok {
			return false
		}
		for _, want := range pred.Values {
			if doc.Equal(v, want) {
				return true
			}
		}
		return false
	case IDIn:
		if d.ID.IsZero() {
			return false
		}
		for _, id := range pred.IDs {
			if id == d.ID {
				return true
			}
		}
		return false
	case NameFold:
		s, ok := d.Fields.GetString(pred.Field)
		return ok && Fold(s) == Fold(pred.Value)
	case Exists:
		v, ok := d.Fields[pred.Field]
		if !ok {
			return false
		}
		_, isNull := v.(doc.Null)
		return !isNull
	case And:
		for _, sub := range pred.Predicates {
			if !Match(sub, d) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Project returns a copy of d restricted to fields. An empty projection
// keeps every field.
func Project(d doc.Document, fields []string) doc.Document {
	if len(fields) == 0 {
		return d.Clone()
	}
	out := make(doc.Object, len(fields))
	for _, f := range fields {
		if v, ok := d.Fields[f]; ok {
			out[f] = doc.Clone(v)
		}
	}
	return doc.Document{ID: d.ID, Fields: out}
}

// Fold applies full Unicode case folding. NameFold compares folded forms.
func Fold(s string) string {
	return cases.Fold().String(s)
}
