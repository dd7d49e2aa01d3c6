// Package schema maps model names to the fields their records carry.
//
// A Model partitions its fields into those required at creation and those
// that may be updated afterwards, and gives every field a value type. The
// Registry is consulted twice: when an operation is constructed, so invalid
// intent never reaches the log, and again when any operation is applied,
// since peer data can bypass construction.
//
// Models are declared in Go (see package records) or in CUE files loaded
// with LoadDir.
package schema
