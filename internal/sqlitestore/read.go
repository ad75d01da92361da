package sqlitestore

import (
	"context"
	"fmt"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/query"
)

// ListCollections implements store.Store.
// Returns an empty slice (not nil) when no collections exist.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name COLLATE BINARY`)
	if err != nil {
		return nil, wrapError("list collections", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list collections: scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

// Find implements store.Store.
// Results are ordered by id COLLATE BINARY.
func (s *Store) Find(ctx context.Context, collection string, filter query.Predicate, projection ...string) ([]doc.Document, error) {
	if err := query.ValidateProjection(projection); err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	where, params, err := compileFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("find %s: compile filter: %w", collection, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, id_kind, body FROM documents WHERE collection = ? AND `+where+` ORDER BY id COLLATE BINARY`,
		append([]any{collection}, params...)...,
	)
	if err != nil {
		return nil, wrapError("find "+collection, err)
	}
	defer rows.Close()

	out := []doc.Document{}
	for rows.Next() {
		var (
			id   string
			kind int
			body string
		)
		if err := rows.Scan(&id, &kind, &body); err != nil {
			return nil, fmt.Errorf("find %s: scan: %w", collection, err)
		}
		identity, err := scanIdentity(id, kind)
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", collection, err)
		}
		fields, err := unmarshalBody(body)
		if err != nil {
			return nil, fmt.Errorf("find %s[%s]: %w", collection, id, err)
		}
		out = append(out, query.Project(doc.Document{ID: identity, Fields: fields}, projection))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	return out, nil
}

// CountDocuments implements store.Store.
func (s *Store) CountDocuments(ctx context.Context, collection string, filter query.Predicate) (int, error) {
	where, params, err := compileFilter(filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: compile filter: %w", collection, err)
	}

	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ? AND `+where,
		append([]any{collection}, params...)...,
	).Scan(&n)
	if err != nil {
		return 0, wrapError("count "+collection, err)
	}
	return n, nil
}
