// Package harness runs conformance scenarios against the merge engine.
//
// A scenario lists stamped operations from several nodes, the outcome each
// one must have, and assertions on the converged records. The harness
// checks that every delivery order it tries converges to the same state.
//
// # Scenario Format
//
//	name: concurrent_rename
//	description: "Two nodes rename the same tag"
//	records:
//	  work: 00000000-0000-7000-8000-000000000001
//	operations:
//	  - {type: Create, node: node-a, at: 100, model: tag, record: work, data: {name: Work}}
//	  - {type: Update, node: node-b, at: 200, model: tag, record: work, field: name, value: Home}
//	  - {type: Update, node: node-a, at: 150, model: tag, record: work, field: nickname, value: x, reject: true}
//	shuffles: 16
//	seed: 7
//	assertions:
//	  - {type: record, model: tag, record: work, expect: {name: Home}}
//	  - {type: count, model: tag, count: 1}
//
// "record" names either an alias from records or a literal UUID. "at" is
// the raw hybrid timestamp of the operation. An Update without a value
// writes null.
//
// # Assertion Types
//
//   - record: the record is visible and its fields equal expect exactly
//   - fields: the record's fields include expect (visible or not)
//   - absent: the record is not visible
//   - count: the number of visible records of model equals count
//
// # Checks
//
// Every scenario runs once through a replica backed by an in-memory SQLite
// store, whose materialized table and recovered registers must match the
// in-memory result. It then replays the operations in reverse, in every
// permutation when there are few enough, and in seeded shuffles; each run
// must reach byte-identical registers.
//
// Golden snapshots of the converged records live in testdata/golden.
package harness
