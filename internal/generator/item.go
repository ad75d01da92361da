package generator

import (
	"fmt"
	"strings"

	"github.com/roach88/grimoire/internal/doc"
)

// Item is one generated document.
type Item = doc.Object

// ItemName returns the item's trimmed name and whether it is usable.
func ItemName(it Item) (string, bool) {
	s, ok := it.GetString(doc.FieldName)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// StripFence removes a surrounding markdown code fence, with or without a
// language tag, and any text around it.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if !strings.ContainsAny(tag, "[{") {
			body = body[nl+1:]
		}
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// ParseItems reads a JSON array of items, or an object wrapping one under
// "items". Elements that are not objects are dropped.
func ParseItems(text string) ([]Item, error) {
	v, err := doc.UnmarshalValue([]byte(StripFence(text)))
	if err != nil {
		return nil, err
	}
	if obj, ok := v.(doc.Object); ok {
		if inner, ok := obj["items"]; ok {
			v = inner
		} else {
			v = doc.Array{obj}
		}
	}
	arr, ok := v.(doc.Array)
	if !ok {
		return nil, fmt.Errorf("expected array of items, got %s", doc.Kind(v))
	}
	items := make([]Item, 0, len(arr))
	for _, el := range arr {
		if obj, ok := el.(doc.Object); ok {
			items = append(items, obj)
		}
	}
	return items, nil
}

// ParseItem reads a single item. JSON null or an empty reply means not
// found.
func ParseItem(text string) (Item, error) {
	body := StripFence(text)
	if body == "" {
		return nil, nil
	}
	v, err := doc.UnmarshalValue([]byte(body))
	if err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case doc.Null:
		return nil, nil
	case doc.Object:
		return val, nil
	case doc.Array:
		if len(val) == 0 {
			return nil, nil
		}
		if obj, ok := val[0].(doc.Object); ok {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("expected item object, got %s", doc.Kind(v))
}
