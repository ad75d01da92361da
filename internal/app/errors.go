package app

import (
	"errors"

	"github.com/roach88/grimoire/internal/archive"
	"github.com/roach88/grimoire/internal/config"
	"github.com/roach88/grimoire/internal/integrity"
	"github.com/roach88/grimoire/internal/migrate"
	"github.com/roach88/grimoire/internal/reconcile"
	"github.com/roach88/grimoire/internal/restore"
	"github.com/roach88/grimoire/internal/retry"
	"github.com/roach88/grimoire/internal/store"
)

// Class groups errors by who has to act on them.
type Class int

const (
	// ClassNone is a nil error.
	ClassNone Class = iota
	// ClassBadRequest means the caller passed something unusable.
	ClassBadRequest
	// ClassNotFound means a named plan, collection or field does not exist.
	ClassNotFound
	// ClassUnavailable means the store could not be reached.
	ClassUnavailable
	// ClassFailure is everything else: the operation itself failed.
	ClassFailure
)

// Classify sorts err into a Class.
func Classify(err error) Class {
	var (
		formatErr *archive.FormatError
		schemaErr *config.SchemaError
	)
	switch {
	case err == nil:
		return ClassNone
	case store.IsUnavailable(err):
		return ClassUnavailable
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrBadRequest),
		errors.As(err, &formatErr),
		errors.As(err, &schemaErr),
		errors.Is(err, restore.ErrUnknownMode),
		errors.Is(err, integrity.ErrUnknownPolicy),
		errors.Is(err, integrity.ErrEmptyCodex),
		errors.Is(err, reconcile.ErrInvalidRequest),
		errors.Is(err, migrate.ErrInvalidPlan),
		errors.Is(err, retry.ErrInvalidPolicy),
		errors.Is(err, store.ErrInvalidCollection):
		return ClassBadRequest
	}
	return ClassFailure
}
