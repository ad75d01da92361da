// Package reconcile fills gaps in a collection from a generator.
//
// Reconcile grows a collection until the generator runs dry. FetchOrCreate
// resolves a single name, generating the document when no stored one
// matches. RepairLinks walks entities with dangling links and resolves each
// dangling value as a name hint, a bounded group at a time.
//
// Generator calls run under a retry.Policy; by default only transient
// generator errors are retried.
package reconcile
