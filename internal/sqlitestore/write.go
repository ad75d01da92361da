package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/query"
	"github.com/roach88/grimoire/internal/store"
)

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapError(op, err)
	}
	return nil
}

// ensureCollection registers collection. Uses ON CONFLICT DO NOTHING so
// repeated writes are idempotent.
func ensureCollection(ctx context.Context, tx *sql.Tx, collection string) error {
	if err := store.CheckCollection(collection); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO collections (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, collection)
	return err
}

// InsertMany implements store.Store. The batch is written in one
// transaction; a duplicate identity rolls back the whole batch.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []doc.Document) (int, error) {
	op := "insert " + collection
	n := 0
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		if err := ensureCollection(ctx, tx, collection); err != nil {
			return wrapError(op, err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO documents (collection, id, id_kind, body)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return wrapError(op, err)
		}
		defer stmt.Close()

		for _, d := range docs {
			id := d.ID
			if id.IsZero() {
				id = doc.NewObjectID()
			}
			body, err := marshalBody(d.Fields)
			if err != nil {
				return fmt.Errorf("%s[%s]: %w", op, id, err)
			}
			if _, err := stmt.ExecContext(ctx, collection, id.String(), int(id.Kind()), body); err != nil {
				if isPrimaryKeyViolation(err) {
					return fmt.Errorf("%s: %w: %s", op, store.ErrDuplicateKey, id)
				}
				return wrapError(op, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ReplaceMany implements store.Store.
// A document whose stored body is byte-identical counts as matched but not
// modified, mirroring MongoDB's replace semantics.
func (s *Store) ReplaceMany(ctx context.Context, collection string, docs []doc.Document, upsert bool) (store.BulkResult, error) {
	op := "replace " + collection
	var res store.BulkResult
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		if err := ensureCollection(ctx, tx, collection); err != nil {
			return wrapError(op, err)
		}
		for _, d := range docs {
			if d.ID.IsZero() {
				return fmt.Errorf("%s: %w", op, store.ErrMissingIdentity)
			}
			body, err := marshalBody(d.Fields)
			if err != nil {
				return fmt.Errorf("%s[%s]: %w", op, d.ID, err)
			}

			var existing string
			err = tx.QueryRowContext(ctx,
				`SELECT body FROM documents WHERE collection = ? AND id = ?`,
				collection, d.ID.String(),
			).Scan(&existing)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if !upsert {
					continue
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO documents (collection, id, id_kind, body) VALUES (?, ?, ?, ?)`,
					collection, d.ID.String(), int(d.ID.Kind()), body,
				); err != nil {
					return wrapError(op, err)
				}
				res.Upserted++
			case err != nil:
				return wrapError(op, err)
			default:
				res.Matched++
				if existing == body {
					continue
				}
				if _, err := tx.ExecContext(ctx,
					`UPDATE documents SET body = ?, id_kind = ? WHERE collection = ? AND id = ?`,
					body, int(d.ID.Kind()), collection, d.ID.String(),
				); err != nil {
					return wrapError(op, err)
				}
				res.Modified++
			}
		}
		return nil
	})
	if err != nil {
		return store.BulkResult{}, err
	}
	return res, nil
}

// DeleteMany implements store.Store. The collection row is kept so emptied
// collections still appear in ListCollections.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter query.Predicate) (int, error) {
	where, params, err := compileFilter(filter)
	if err != nil {
		return 0, fmt.Errorf("delete %s: compile filter: %w", collection, err)
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND `+where,
		append([]any{collection}, params...)...,
	)
	if err != nil {
		return 0, wrapError("delete "+collection, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", collection, err)
	}
	return int(n), nil
}

// SetOnInsert implements store.Store with INSERT ... ON CONFLICT DO NOTHING.
func (s *Store) SetOnInsert(ctx context.Context, collection string, id doc.Identity, defaults doc.Object) (bool, error) {
	op := "set on insert " + collection
	if id.IsZero() {
		return false, fmt.Errorf("%s: %w", op, store.ErrMissingIdentity)
	}
	body, err := marshalBody(doc.NewDocument(id, defaults).Fields)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	inserted := false
	err = s.withTx(ctx, op, func(tx *sql.Tx) error {
		if err := ensureCollection(ctx, tx, collection); err != nil {
			return wrapError(op, err)
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, id_kind, body)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(collection, id) DO NOTHING
		`, collection, id.String(), int(id.Kind()), body)
		if err != nil {
			return wrapError(op, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return wrapError(op, err)
		}
		inserted = n == 1
		return nil
	})
	return inserted, err
}
