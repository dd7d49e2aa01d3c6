package schema

import (
	"cmp"
	"slices"

	"github.com/roach88/recsync/internal/ir"
)

// FieldType is the value type a field accepts. There is no float type.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeBool   FieldType = "bool"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeBool, TypeArray, TypeObject:
		return true
	}
	return false
}

// Accepts reports whether v has type t. Null is handled by Field.
func (t FieldType) Accepts(v ir.IRValue) bool {
	switch v.(type) {
	case ir.IRString:
		return t == TypeString
	case ir.IRInt:
		return t == TypeInt
	case ir.IRBool:
		return t == TypeBool
	case ir.IRArray:
		return t == TypeArray
	case ir.IRObject:
		return t == TypeObject
	default:
		return false
	}
}

// Field describes one recognized field of a model.
type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Nullable bool      `json:"nullable,omitempty" yaml:"nullable,omitempty"`
}

// Model is the schema of one record type.
//
// Every entry of Fields is a recognized field. Required lists the fields a
// Create must carry; Updatable lists the fields an Update may set. Both are
// subsets of Fields.
type Model struct {
	Name      string   `json:"name" yaml:"name"`
	Fields    []Field  `json:"fields" yaml:"fields"`
	Required  []string `json:"required" yaml:"required"`
	Updatable []string `json:"updatable" yaml:"updatable"`
}

// FieldValue is implemented by the typed field variants of concrete record
// types. Each variant knows its field name and serialized value.
type FieldValue interface {
	FieldName() string
	FieldValue() ir.IRValue
}

// Field returns the named field.
func (m Model) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IsRequired reports whether name must be present in a Create.
func (m Model) IsRequired(name string) bool {
	return slices.Contains(m.Required, name)
}

// IsUpdatable reports whether name may be set by an Update.
func (m Model) IsUpdatable(name string) bool {
	return slices.Contains(m.Updatable, name)
}

// FieldNames returns the recognized field names, sorted.
func (m Model) FieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	slices.Sort(names)
	return names
}

// normalized returns a copy with every list sorted so two declarations of
// the same schema compare equal regardless of declaration order.
func (m Model) normalized() Model {
	out := Model{
		Name:      m.Name,
		Fields:    slices.Clone(m.Fields),
		Required:  slices.Clone(m.Required),
		Updatable: slices.Clone(m.Updatable),
	}
	slices.SortFunc(out.Fields, func(a, b Field) int {
		return cmp.Compare(a.Name, b.Name)
	})
	slices.Sort(out.Required)
	out.Required = slices.Compact(out.Required)
	slices.Sort(out.Updatable)
	out.Updatable = slices.Compact(out.Updatable)
	return out
}

func (m Model) equal(other Model) bool {
	return m.Name == other.Name &&
		slices.Equal(m.Fields, other.Fields) &&
		slices.Equal(m.Required, other.Required) &&
		slices.Equal(m.Updatable, other.Updatable)
}

// check reports the first structural problem with a normalized model.
func (m Model) check() error {
	if m.Name == "" {
		return violation("", "", "model name is empty")
	}
	if len(m.Fields) == 0 {
		return violation(m.Name, "", "model declares no fields")
	}
	for i, f := range m.Fields {
		if f.Name == "" {
			return violation(m.Name, "", "field %d has an empty name", i)
		}
		if i > 0 && m.Fields[i-1].Name == f.Name {
			return violation(m.Name, f.Name, "field declared twice")
		}
		if !f.Type.Valid() {
			return violation(m.Name, f.Name, "unknown field type %q", f.Type)
		}
	}
	for _, name := range m.Required {
		if _, ok := m.Field(name); !ok {
			return violation(m.Name, name, "required field is not declared")
		}
	}
	for _, name := range m.Updatable {
		if _, ok := m.Field(name); !ok {
			return violation(m.Name, name, "updatable field is not declared")
		}
	}
	return nil
}
