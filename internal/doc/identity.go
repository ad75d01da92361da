package doc

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// IDKind distinguishes the two identity representations a store may use.
type IDKind uint8

const (
	// NoID marks a document that has not been assigned an identity.
	NoID IDKind = iota
	// ObjectIDKind is a 12-byte store-native id written as 24 hex characters.
	ObjectIDKind
	// StringIDKind is any other string identity, including canonical ids.
	StringIDKind
)

func (k IDKind) String() string {
	switch k {
	case ObjectIDKind:
		return "objectid"
	case StringIDKind:
		return "string"
	default:
		return "none"
	}
}

var objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// Identity is a document's primary key. The zero value means "no identity".
type Identity struct {
	kind  IDKind
	value string
}

// ParseIdentity applies the textual rule used when reading archives:
// exactly 24 hex characters is an ObjectID, anything else a string id.
// The empty string yields the zero Identity.
func ParseIdentity(s string) Identity {
	switch {
	case s == "":
		return Identity{}
	case objectIDPattern.MatchString(s):
		return Identity{kind: ObjectIDKind, value: strings.ToLower(s)}
	default:
		return Identity{kind: StringIDKind, value: s}
	}
}

// ObjectID builds an ObjectID identity from its hex form.
func ObjectID(s string) (Identity, error) {
	if !objectIDPattern.MatchString(s) {
		return Identity{}, fmt.Errorf("invalid object id %q", s)
	}
	return Identity{kind: ObjectIDKind, value: strings.ToLower(s)}, nil
}

// StringID builds a string identity without applying the ObjectID rule.
func StringID(s string) Identity {
	if s == "" {
		return Identity{}
	}
	return Identity{kind: StringIDKind, value: s}
}

// IdentityFromValue reads an identity stored in a document field.
// Null or a missing value yields the zero Identity. Numbers and booleans
// are kept as their string form; objects and arrays are rejected.
func IdentityFromValue(v Value) (Identity, error) {
	switch val := v.(type) {
	case nil, Null:
		return Identity{}, nil
	case String:
		return ParseIdentity(string(val)), nil
	case Int:
		return StringID(strconv.FormatInt(int64(val), 10)), nil
	case Float:
		return StringID(strconv.FormatFloat(float64(val), 'f', -1, 64)), nil
	case Bool:
		return StringID(strconv.FormatBool(bool(val))), nil
	default:
		return Identity{}, fmt.Errorf("identity must be a scalar, got %s", Kind(v))
	}
}

// IsZero reports whether id is unset.
func (id Identity) IsZero() bool { return id.kind == NoID }

// Kind returns the identity representation.
func (id Identity) Kind() IDKind { return id.kind }

// String returns the textual form: hex for ObjectIDs, the raw string otherwise.
func (id Identity) String() string { return id.value }

// Value returns the identity as a String value, or Null when unset.
func (id Identity) Value() Value {
	if id.IsZero() {
		return Null{}
	}
	return String(id.value)
}

// MarshalJSON implements json.Marshaler.
func (id Identity) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler using ParseIdentity.
func (id *Identity) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if s == nil {
		*id = Identity{}
		return nil
	}
	*id = ParseIdentity(*s)
	return nil
}

// NewObjectID generates a fresh ObjectID: a 4-byte big-endian Unix timestamp
// followed by 8 random bytes, the same layout store-native ids use.
func NewObjectID() Identity {
	var b [12]byte
	binary.BigEndian.PutUint32(b[:4], uint32(time.Now().Unix()))
	_, _ = rand.Read(b[4:])
	return Identity{kind: ObjectIDKind, value: hex.EncodeToString(b[:])}
}
