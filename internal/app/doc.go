// Package app wires a store, the configuration and the integrity engines
// into the operations the CLI and the HTTP API expose. Every operation is
// recorded in the job status tracker.
package app
