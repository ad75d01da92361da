// Package sqlitestore implements store.Store on a single SQLite file.
//
// Every document lives in one table keyed by (collection, id). The body is
// the document's fields serialized with doc.MarshalValue (sorted keys), so
// filters compile to json_extract expressions over it.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: documents cascade with their collection row
//
// # Determinism
//
// Every read orders by id COLLATE BINARY, matching the other backends.
// All values are bound as parameters, never interpolated.
//
// The driver is registered under its own name with a casefold() SQL
// function so case-insensitive name lookups fold exactly like query.Match.
package sqlitestore
