package doc

import (
	"bytes"
	"fmt"
)

// MarshalCanonical produces canonical JSON for v: object keys in RFC 8785
// order, no insignificant whitespace, no HTML escaping. Two values are
// considered identical content exactly when their canonical forms are equal.
func MarshalCanonical(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v, true); err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	return buf.Bytes(), nil
}

// Equal reports whether a and b have the same canonical form.
// Values that cannot be marshaled are never equal.
func Equal(a, b Value) bool {
	ab, err := MarshalCanonical(a)
	if err != nil {
		return false
	}
	bb, err := MarshalCanonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
