package records

import (
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/schema"
)

// TagModel is the model name of tags.
const TagModel = "tag"

// TagField is a field variant of a tag.
type TagField interface {
	schema.FieldValue
	tagField()
}

type (
	TagName  string
	TagColor string
)

func (v TagName) FieldName() string       { return "name" }
func (v TagName) FieldValue() ir.IRValue  { return str(string(v)) }
func (v TagColor) FieldName() string      { return "color" }
func (v TagColor) FieldValue() ir.IRValue { return str(string(v)) }

func (TagName) tagField()  {}
func (TagColor) tagField() {}

// TagSchema returns the tag model.
func TagSchema() schema.Model {
	return schema.Model{
		Name: TagModel,
		Fields: []schema.Field{
			{Name: "name", Type: schema.TypeString},
			{Name: "color", Type: schema.TypeString, Nullable: true},
		},
		Required:  []string{"name"},
		Updatable: []string{"name", "color"},
	}
}

// CreateTag builds a validated Create for a tag.
func CreateTag(reg *schema.Registry, id op.RecordID, name string, optional ...TagField) (op.Operation, error) {
	fields := []schema.FieldValue{TagName(name)}
	for _, f := range optional {
		fields = append(fields, f)
	}
	return reg.CreateOf(id, TagModel, fields...)
}

// UpdateTag builds a validated single-field Update for a tag.
func UpdateTag(reg *schema.Registry, id op.RecordID, field TagField) (op.Operation, error) {
	return reg.UpdateOf(id, TagModel, field)
}
