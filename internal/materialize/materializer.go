package materialize

import (
	"context"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/register"
)

// Record is the converged view of one record handed to a Materializer.
type Record struct {
	Key register.Key

	// Fields holds every field value, including those of a deleted record.
	Fields ir.IRObject

	// Deleted is set when the record must be absent from the visible table.
	Deleted bool

	// Changed lists the fields that triggered this delivery.
	Changed []string
}

// RecordFromState builds the delivery for a register snapshot.
func RecordFromState(k register.Key, s register.State, changed []string) Record {
	return Record{
		Key:     k,
		Fields:  s.Values(),
		Deleted: !s.Visible(),
		Changed: changed,
	}
}

// Materializer persists converged records for external consumers.
// Implementations must be idempotent: the same record may be delivered
// more than once.
type Materializer interface {
	Materialize(ctx context.Context, rec Record) error
}

// MaterializerFunc adapts a function to Materializer.
type MaterializerFunc func(ctx context.Context, rec Record) error

// Materialize implements Materializer.
func (f MaterializerFunc) Materialize(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Multi delivers each record to every materializer in order and stops at
// the first error.
func Multi(ms ...Materializer) Materializer {
	return MaterializerFunc(func(ctx context.Context, rec Record) error {
		for _, m := range ms {
			if err := m.Materialize(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}
