// Package restore applies a decoded archive to a store.
//
// Two modes exist. Full clears each target collection and bulk-inserts the
// archived documents, so afterwards the collection holds exactly what the
// archive holds. Partial upserts every document that has an identity (full
// replace, never a field merge) and inserts identity-less documents as new;
// applying the same archive twice in Partial mode converges to the same
// document set.
//
// Per-document conversion problems are logged, counted and skipped. A store
// failure aborts the restore with a *RestoreError carrying what was applied.
package restore
