// Package replica ties one node's clock, merge engine and durable store
// together.
//
// Local writes are built by the schema registry's validated constructors,
// stamped by the replica's hybrid logical clock, merged, and committed.
// Remote operations arrive through Ingest: they are merged, folded into
// the clock, and committed the same way.
//
// Persistence brackets every apply. The in-memory merge happens first; if
// the commit then fails the caller gets the error and may redeliver, since
// applying an operation twice is a no-op.
package replica
