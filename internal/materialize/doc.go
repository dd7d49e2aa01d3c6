// Package materialize translates converged register state into the
// application-facing record representation.
//
// The merge engine emits a change notification after each accepted apply.
// A Dispatcher queues those notifications without blocking the merge and
// delivers them from a single goroutine to a Materializer, which receives
// the record's state as of delivery time. Delivering current state rather
// than the delta makes redelivery and coalescing harmless.
package materialize
