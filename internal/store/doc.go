// Package store defines the document store capability every grimoire job
// runs against.
//
// The store is schemaless: collections are created on first write and hold
// doc.Document values keyed by identity. Three backends implement Store:
//   - memstore: in-process maps, used by tests and dry runs
//   - sqlitestore: a single SQLite file with JSON document bodies
//   - mongostore: a MongoDB database through the official v2 driver
//
// # Contract
//
//   - Find returns documents ordered by identity (binary string order) so
//     that every job, and every archive it writes, is deterministic
//   - ReplaceMany replaces whole documents; it never merges fields
//   - InsertMany assigns a fresh ObjectID to identity-less documents
//   - Connectivity failures are reported wrapped in ErrUnavailable so jobs
//     can fail fast before mutating anything
//
// The conformance suite in store/storetest runs the same assertions against
// each backend.
package store
