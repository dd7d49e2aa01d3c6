package records

import (
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/schema"
)

// RegisterAll registers every record type with reg.
func RegisterAll(reg *schema.Registry) error {
	for _, m := range []schema.Model{LocationSchema(), TagSchema(), VolumeSchema()} {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding every record type.
func NewRegistry() *schema.Registry {
	reg := schema.NewRegistry()
	if err := RegisterAll(reg); err != nil {
		panic(err)
	}
	return reg
}

// Cleared sets the named nullable field to null. It is a variant of every
// record type; the registry rejects it for a field that is not nullable.
type Cleared string

func (c Cleared) FieldName() string      { return string(c) }
func (c Cleared) FieldValue() ir.IRValue { return ir.Null }

func (Cleared) locationField() {}
func (Cleared) tagField()      {}
func (Cleared) volumeField()   {}

func str(s string) ir.IRValue { return ir.IRString(s) }
func num(n int64) ir.IRValue  { return ir.IRInt(n) }
func flag(b bool) ir.IRValue  { return ir.IRBool(b) }
