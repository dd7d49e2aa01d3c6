// Package register holds per-record replica state as independent
// last-writer-wins registers: one per field plus a liveness register that
// carries the tombstone.
//
// A write is accepted only if it dominates the stored register: its stamp is
// strictly greater, or the stamps are equal and its canonical value bytes are
// strictly greater. Identical redelivery never dominates, so applying the
// same write twice is a no-op. No register ever depends on another, which is
// what makes the merge commutative, associative and idempotent.
//
// State for a record is created lazily on the first write of any kind and is
// never destroyed.
package register
