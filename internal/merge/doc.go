// Package merge is the single entry point through which every operation,
// local or remote, reaches the register store.
//
// Apply validates an operation, then turns it into register writes:
//
//	Create  one field write per data entry, plus an alive write
//	Update  one field write, plus an alive write
//	Delete  one tombstone write
//
// A Create is not privileged over later writes; it is only a bundle of
// field-level dominance attempts. Because every register is an independent
// last-writer-wins cell, applying any set of operations in any order, each
// at least once, yields the same state.
//
// Apply never blocks on I/O. Accepted changes are handed to a Sink, which
// must only enqueue.
package merge
