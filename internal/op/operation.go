package op

import (
	"fmt"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
)

// Kind is the variant discriminant. Its value is the wire "type".
type Kind string

const (
	KindCreate Kind = "Create"
	KindUpdate Kind = "Update"
	KindDelete Kind = "Delete"
)

// Valid reports whether k is one of the three variants.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// Operation is an immutable unit of intent against one record.
//
// Data is set only for Create; Field and Value only for Update. Operations
// are passed by value and the constructors copy their inputs, so callers may
// reuse the maps they pass in. The copies are canonical (see
// ir.Canonicalize), so the sender holds exactly what peers decode.
type Operation struct {
	RecordID RecordID
	Model    string
	Stamp    clock.Stamp
	Kind     Kind

	Data  ir.IRObject
	Field string
	Value ir.IRValue
}

// NewCreate builds an unstamped Create. It does not consult a schema;
// use schema.Registry.Create for a validated operation.
func NewCreate(id RecordID, model string, data ir.IRObject) Operation {
	if data == nil {
		data = ir.IRObject{}
	}
	return Operation{RecordID: id, Model: model, Kind: KindCreate, Data: data.Canonical()}
}

// NewUpdate builds an unstamped single-field Update.
func NewUpdate(id RecordID, model, field string, value ir.IRValue) Operation {
	if value == nil {
		value = ir.Null
	}
	return Operation{RecordID: id, Model: model, Kind: KindUpdate, Field: field, Value: ir.Canonicalize(value)}
}

// NewDelete builds an unstamped Delete.
func NewDelete(id RecordID, model string) Operation {
	return Operation{RecordID: id, Model: model, Kind: KindDelete}
}

// WithStamp returns a copy of o carrying s.
func (o Operation) WithStamp(s clock.Stamp) Operation {
	o.Stamp = s
	return o
}

// Fields returns the field names the operation writes, sorted.
// Delete writes no field.
func (o Operation) Fields() []string {
	switch o.Kind {
	case KindCreate:
		return o.Data.SortedKeys()
	case KindUpdate:
		return []string{o.Field}
	default:
		return nil
	}
}

// Check verifies the structural shape shared by every operation regardless
// of schema: a record id, a model, a known variant and its payload.
func (o Operation) Check() error {
	if o.RecordID.IsNil() {
		return malformed("record_id", "missing")
	}
	if o.Model == "" {
		return malformed("model", "missing")
	}
	switch o.Kind {
	case KindCreate:
		if o.Data == nil {
			return malformed("data", "missing for Create")
		}
	case KindUpdate:
		if o.Field == "" {
			return malformed("field", "missing for Update")
		}
		if o.Value == nil {
			return malformed("value", "missing for Update")
		}
	case KindDelete:
	default:
		return malformed("type", "unknown operation type %q", o.Kind)
	}
	return nil
}

func (o Operation) String() string {
	switch o.Kind {
	case KindUpdate:
		return fmt.Sprintf("%s %s/%s .%s @%s", o.Kind, o.Model, o.RecordID, o.Field, o.Stamp)
	default:
		return fmt.Sprintf("%s %s/%s @%s", o.Kind, o.Model, o.RecordID, o.Stamp)
	}
}
