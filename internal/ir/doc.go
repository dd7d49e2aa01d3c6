// Package ir defines the serialized value model shared by operations,
// registers and the durable store.
//
// ir imports nothing internal; every other package builds on it.
//
// Constraints:
//   - No float values anywhere. Integers are int64.
//   - Null is an explicit IRNull value, never a Go nil.
//   - Canonical JSON (RFC 8785) is the single byte representation used for
//     hashing, equality and last-writer-wins tie-breaks.
package ir
