package integrity

import (
	"slices"

	"github.com/roach88/grimoire/internal/doc"
)

// entityLinks is an entity narrowed to what link checks need.
type entityLinks struct {
	id     doc.Identity
	name   string
	fields doc.Object
}

// LinkValues lists the identity strings held by a link field, which is
// either an array or an object of level → array. Visiting order is array
// order, levels in key order. Non-string values are ignored.
func LinkValues(v doc.Value) []string {
	var out []string
	switch val := v.(type) {
	case doc.String:
		if val != "" {
			out = append(out, string(val))
		}
	case doc.Array:
		for _, el := range val {
			out = append(out, LinkValues(el)...)
		}
	case doc.Object:
		for _, k := range val.SortedKeys() {
			out = append(out, LinkValues(val[k])...)
		}
	}
	return out
}

// missingLinks returns the link values absent from live, de-duplicated in
// visiting order.
func missingLinks(v doc.Value, live map[string]bool) []string {
	var missing []string
	for _, id := range LinkValues(v) {
		if !live[id] && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	return missing
}

// StripLinks returns v without the listed identity strings, keeping its
// shape.
func StripLinks(v doc.Value, drop []string) doc.Value {
	return MapLinks(v, func(id string) (string, bool) {
		return id, !slices.Contains(drop, id)
	})
}

// MapLinks rewrites every identity string in a link value through fn,
// dropping those fn rejects. Arrays stay arrays and levels stay levels.
func MapLinks(v doc.Value, fn func(string) (string, bool)) doc.Value {
	switch val := v.(type) {
	case doc.String:
		if s, ok := fn(string(val)); ok {
			return doc.String(s)
		}
		return nil
	case doc.Array:
		out := make(doc.Array, 0, len(val))
		for _, el := range val {
			if mapped := MapLinks(el, fn); mapped != nil {
				out = append(out, mapped)
			}
		}
		return out
	case doc.Object:
		out := make(doc.Object, len(val))
		for k, el := range val {
			if mapped := MapLinks(el, fn); mapped != nil {
				out[k] = mapped
			}
		}
		return out
	default:
		return v
	}
}
