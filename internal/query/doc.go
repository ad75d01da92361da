// Package query provides the filter representation shared by every store
// backend.
//
// Filters are built once by the integrity, migration and reconciliation
// jobs and compiled by each backend: SQLite turns them into json_extract
// clauses, MongoDB into bson filter documents, and the in-memory store
// evaluates them directly with Match.
//
//	[job] → [query.Predicate] → sqlitestore.Compile
//	                          → mongostore.compileFilter
//	                          → query.Match
//
// Predicate is a sealed interface using the marker method pattern, so
// backends can switch exhaustively over the node types:
//
//	switch p := pred.(type) {
//	case Equals:
//	case In:
//	case IDIn:
//	case NameFold:
//	case Exists:
//	case And:
//	}
//
// Field names are restricted to top-level identifiers (see ValidField). The
// identity is addressed through IDIn, never as a field.
package query
