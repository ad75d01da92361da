// Package harness runs YAML scenarios against an in-memory store.
//
// # Scenario Format
//
//	name: restore_then_normalize
//	description: "Legacy archive restored and merged under canonical ids"
//	seed:
//	  equipment:
//	    - { _id: "abc", name: "Long Sword" }
//	generator:
//	  batches:
//	    - [Fireball, Shield]
//	  items: [Torch]
//	flow:
//	  - op: normalize
//	    args: { plan: equipment }
//	    expect:
//	      result: { "0": { merged: 1 } }
//	  - op: duplicates
//	    args: { collection: ghosts }
//	    expect:
//	      error: not_found
//	assertions:
//	  - type: count
//	    collection: equipment
//	    count: 1
//	  - type: document
//	    collection: equipment
//	    id: eq_long_sword
//	    expect: { name: "Long Sword" }
//
// # Operations
//
//   - backup: snapshot the store; a later restore without an archive uses it
//   - restore: mode, collections, normalize, archive (inline legacy JSON)
//   - scan: apply, orphans, allow_empty_codex
//   - duplicates: collection, tolerate, skip_content
//   - normalize: plan
//   - reconcile: collection, kind, prefix, max_iterations, batch_size
//   - repair_links: field, group_size, max_calls
//   - status
//
// # Determinism
//
// Every scenario gets a fresh store, fixed run ids, a frozen clock and no
// pauses, so the final state snapshot can be compared with a golden file
// under testdata/golden.
package harness
