// Package integrity finds and repairs referential defects between the codex
// tree and the entity collection.
//
// Scan reports orphans (stored entities no statblock references), unlinked
// statblocks (references with no stored entity) and broken links (entity
// link fields naming identities absent from their target collection). The
// report is the same in dry-run and apply mode; only apply writes.
//
// Duplicates reports documents sharing a name and codex nodes carrying
// identical content.
package integrity
