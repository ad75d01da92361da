// Package archive reads and writes portable snapshots of the campaign store.
//
// An archive is a zip container with exactly two members:
//
//	<primary>.json  array of primary-collection documents, identity in "id"
//	data.json       object mapping "<collection>.json" to that collection
//
// Inside data.json a collection is either keyed (identity → document
// without identity) or, for entry-like collections, an array of documents.
// Entry-like arrays carry their identity as "_id" unless the codec is
// configured to strip it, which reproduces archives written by older
// builds.
//
// Decode also accepts the legacy flat form: a single JSON object whose
// "<collection>.json" keys hold the collections directly.
package archive
