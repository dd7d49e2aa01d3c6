// Package store provides SQLite-backed durable storage for a replica.
//
// Four tables:
//   - operations: the append-only log of every operation this replica has
//     accepted, keyed by content id so redelivery is a no-op
//   - registers: the winning value and stamp of every field register
//   - tombstones: the liveness register of every record
//   - records: the materialized table of visible records
//
// Register and tombstone writes are dominance-guarded upserts, so the
// durable state converges no matter which order concurrent commits land in.
//
// Log reads are ordered by seq ASC, id ASC so replay is deterministic.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Values are stored as RFC 8785 canonical JSON (ir.MarshalCanonical), the
// same bytes the merge engine compares on equal-stamp ties.
package store
