package records

import (
	"time"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/schema"
)

// LocationModel is the model name of indexed locations.
const LocationModel = "location"

// LocationField is a field variant of a location.
type LocationField interface {
	schema.FieldValue
	locationField()
}

type (
	LocationName              string
	LocationLocalPath         string
	LocationTotalCapacity     int64
	LocationAvailableCapacity int64
	LocationIsRemovable       bool
	LocationIsOnline          bool
	LocationNodeID            string
	LocationDateCreated       time.Time
)

func (v LocationName) FieldName() string                   { return "name" }
func (v LocationName) FieldValue() ir.IRValue              { return str(string(v)) }
func (v LocationLocalPath) FieldName() string              { return "local_path" }
func (v LocationLocalPath) FieldValue() ir.IRValue         { return str(string(v)) }
func (v LocationTotalCapacity) FieldName() string          { return "total_capacity" }
func (v LocationTotalCapacity) FieldValue() ir.IRValue     { return num(int64(v)) }
func (v LocationAvailableCapacity) FieldName() string      { return "available_capacity" }
func (v LocationAvailableCapacity) FieldValue() ir.IRValue { return num(int64(v)) }
func (v LocationIsRemovable) FieldName() string            { return "is_removable" }
func (v LocationIsRemovable) FieldValue() ir.IRValue       { return flag(bool(v)) }
func (v LocationIsOnline) FieldName() string               { return "is_online" }
func (v LocationIsOnline) FieldValue() ir.IRValue          { return flag(bool(v)) }
func (v LocationNodeID) FieldName() string                 { return "node_id" }
func (v LocationNodeID) FieldValue() ir.IRValue            { return str(string(v)) }
func (v LocationDateCreated) FieldName() string            { return "date_created" }

// FieldValue encodes the instant as RFC 3339 in UTC, so every replica
// writes the same bytes for it.
func (v LocationDateCreated) FieldValue() ir.IRValue {
	return str(time.Time(v).UTC().Format(time.RFC3339Nano))
}

func (LocationName) locationField()              {}
func (LocationLocalPath) locationField()         {}
func (LocationTotalCapacity) locationField()     {}
func (LocationAvailableCapacity) locationField() {}
func (LocationIsRemovable) locationField()       {}
func (LocationIsOnline) locationField()          {}
func (LocationNodeID) locationField()            {}
func (LocationDateCreated) locationField()       {}

// LocationSchema returns the location model. Every column but is_online
// may be unknown, so those fields are nullable. date_created is set by the
// Create and never updated.
func LocationSchema() schema.Model {
	return schema.Model{
		Name: LocationModel,
		Fields: []schema.Field{
			{Name: "name", Type: schema.TypeString, Nullable: true},
			{Name: "local_path", Type: schema.TypeString, Nullable: true},
			{Name: "total_capacity", Type: schema.TypeInt, Nullable: true},
			{Name: "available_capacity", Type: schema.TypeInt, Nullable: true},
			{Name: "is_removable", Type: schema.TypeBool, Nullable: true},
			{Name: "is_online", Type: schema.TypeBool},
			{Name: "node_id", Type: schema.TypeString, Nullable: true},
			{Name: "date_created", Type: schema.TypeString, Nullable: true},
		},
		Required: []string{"local_path", "is_online"},
		Updatable: []string{
			"name", "local_path", "total_capacity", "available_capacity",
			"is_removable", "is_online", "node_id",
		},
	}
}

// CreateLocation builds a validated Create for a location.
func CreateLocation(reg *schema.Registry, id op.RecordID, localPath string, isOnline bool, optional ...LocationField) (op.Operation, error) {
	fields := []schema.FieldValue{LocationLocalPath(localPath), LocationIsOnline(isOnline)}
	for _, f := range optional {
		fields = append(fields, f)
	}
	return reg.CreateOf(id, LocationModel, fields...)
}

// UpdateLocation builds a validated single-field Update for a location.
func UpdateLocation(reg *schema.Registry, id op.RecordID, field LocationField) (op.Operation, error) {
	return reg.UpdateOf(id, LocationModel, field)
}
