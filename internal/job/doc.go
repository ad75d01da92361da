// Package job provides run identity, budgets and status tracking shared by
// the batch jobs (backup, restore, scan, normalize, reconcile, repair).
package job
