// Package doc provides the value model shared by every grimoire component.
//
// Documents in the campaign store are schemaless. At the storage boundary
// they are decoded into the sealed Value sum type and narrowed into typed
// structs only by the operation that needs them. doc imports nothing
// internal; every other package builds on it.
//
// Key constraints:
//   - Integers are int64 and never pass through float64 on decode
//   - Identity travels beside a document's fields, never inside them
//   - Object iteration order is always SortedKeys
package doc
