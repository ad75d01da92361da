package sqlitestore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/store"
)

// marshalBody converts document fields to JSON TEXT for storage.
// Keys are sorted, so equal field sets always produce equal bodies.
func marshalBody(fields doc.Object) (string, error) {
	if fields == nil {
		fields = doc.Object{}
	}
	data, err := doc.MarshalValue(fields)
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}
	return string(data), nil
}

// unmarshalBody converts stored JSON TEXT back to document fields.
func unmarshalBody(body string) (doc.Object, error) {
	v, err := doc.UnmarshalValue([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("unmarshal body: %w", err)
	}
	obj, ok := v.(doc.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal body: expected object, got %s", doc.Kind(v))
	}
	return obj, nil
}

// scanIdentity rebuilds an identity from its stored text and kind.
func scanIdentity(id string, kind int) (doc.Identity, error) {
	switch doc.IDKind(kind) {
	case doc.ObjectIDKind:
		return doc.ObjectID(id)
	case doc.StringIDKind:
		return doc.StringID(id), nil
	default:
		return doc.Identity{}, fmt.Errorf("unknown identity kind %d for %q", kind, id)
	}
}

// isPrimaryKeyViolation reports whether err is a duplicate (collection, id).
func isPrimaryKeyViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// wrapError classifies driver errors that mean the database is unusable.
func wrapError(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrCorrupt, sqlite3.ErrIoErr:
			return fmt.Errorf("%s: %w", op, store.Unavailable(err))
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w", op, store.Unavailable(err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
