package register

import (
	"bytes"
	"cmp"
	"fmt"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/op"
)

// Key is the true primary key of a record: model plus id.
type Key struct {
	Model    string
	RecordID op.RecordID
}

// KeyOf returns the key of the record o targets.
func KeyOf(o op.Operation) Key {
	return Key{Model: o.Model, RecordID: o.RecordID}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Model, k.RecordID)
}

// Compare orders keys by model, then by id bytes.
func (k Key) Compare(other Key) int {
	if c := cmp.Compare(k.Model, other.Model); c != 0 {
		return c
	}
	return bytes.Compare(k.RecordID[:], other.RecordID[:])
}

// Register is one field's winning value and the stamp that wrote it.
type Register struct {
	Value ir.IRValue
	Stamp clock.Stamp
}

// Dominates reports whether r should replace stored.
func (r Register) Dominates(stored Register) bool {
	if c := r.Stamp.Compare(stored.Stamp); c != 0 {
		return c > 0
	}
	return ir.Compare(r.Value, stored.Value) > 0
}

// Liveness is the tombstone register. Delete writes Deleted=true; Create
// and Update write Deleted=false, which lets a strictly later write
// resurrect a deleted record.
type Liveness struct {
	Deleted bool
	Stamp   clock.Stamp
}

// Dominates reports whether l should replace stored. On equal stamps the
// tombstone wins.
func (l Liveness) Dominates(stored Liveness) bool {
	if c := l.Stamp.Compare(stored.Stamp); c != 0 {
		return c > 0
	}
	return l.Deleted && !stored.Deleted
}

// State is a snapshot of one record's registers.
type State struct {
	Fields   map[string]Register
	Liveness Liveness
}

// Visible reports whether the record should be materialized: some Create
// or Update has written its liveness and no later Delete has.
func (s State) Visible() bool {
	return !s.Liveness.Deleted && !s.Liveness.Stamp.IsZero()
}

// Values returns the current field values. Fields of a tombstoned record
// are retained and still returned.
func (s State) Values() ir.IRObject {
	out := make(ir.IRObject, len(s.Fields))
	for name, r := range s.Fields {
		out[name] = r.Value
	}
	return out
}

// FieldNames returns the names of every field ever written, sorted.
func (s State) FieldNames() []string {
	return s.Values().SortedKeys()
}

// Writes returns the registers o writes: one per field it carries, and
// its liveness register.
func Writes(o op.Operation) (map[string]Register, Liveness) {
	fields := make(map[string]Register)
	switch o.Kind {
	case op.KindCreate:
		for name, v := range o.Data {
			fields[name] = Register{Value: v, Stamp: o.Stamp}
		}
	case op.KindUpdate:
		fields[o.Field] = Register{Value: o.Value, Stamp: o.Stamp}
	}
	return fields, Liveness{Deleted: o.Kind == op.KindDelete, Stamp: o.Stamp}
}
