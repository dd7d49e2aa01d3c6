package records

import (
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/schema"
)

// VolumeModel is the model name of mounted volumes.
const VolumeModel = "volume"

// VolumeField is a field variant of a volume.
type VolumeField interface {
	schema.FieldValue
	volumeField()
}

type (
	VolumeName              string
	VolumeMountPoint        string
	VolumeTotalCapacity     int64
	VolumeAvailableCapacity int64
	VolumeIsRemovable       bool
	VolumeDiskType          string
	VolumeFileSystem        string
	VolumeIsRootFilesystem  bool
)

func (v VolumeName) FieldName() string                   { return "name" }
func (v VolumeName) FieldValue() ir.IRValue              { return str(string(v)) }
func (v VolumeMountPoint) FieldName() string             { return "mount_point" }
func (v VolumeMountPoint) FieldValue() ir.IRValue        { return str(string(v)) }
func (v VolumeTotalCapacity) FieldName() string          { return "total_capacity" }
func (v VolumeTotalCapacity) FieldValue() ir.IRValue     { return num(int64(v)) }
func (v VolumeAvailableCapacity) FieldName() string      { return "available_capacity" }
func (v VolumeAvailableCapacity) FieldValue() ir.IRValue { return num(int64(v)) }
func (v VolumeIsRemovable) FieldName() string            { return "is_removable" }
func (v VolumeIsRemovable) FieldValue() ir.IRValue       { return flag(bool(v)) }
func (v VolumeDiskType) FieldName() string               { return "disk_type" }
func (v VolumeDiskType) FieldValue() ir.IRValue          { return str(string(v)) }
func (v VolumeFileSystem) FieldName() string             { return "file_system" }
func (v VolumeFileSystem) FieldValue() ir.IRValue        { return str(string(v)) }
func (v VolumeIsRootFilesystem) FieldName() string       { return "is_root_filesystem" }
func (v VolumeIsRootFilesystem) FieldValue() ir.IRValue  { return flag(bool(v)) }

func (VolumeName) volumeField()              {}
func (VolumeMountPoint) volumeField()        {}
func (VolumeTotalCapacity) volumeField()     {}
func (VolumeAvailableCapacity) volumeField() {}
func (VolumeIsRemovable) volumeField()       {}
func (VolumeDiskType) volumeField()          {}
func (VolumeFileSystem) volumeField()        {}
func (VolumeIsRootFilesystem) volumeField()  {}

// VolumeSchema returns the volume model. The mount point and root flag
// identify the volume and are fixed at creation.
func VolumeSchema() schema.Model {
	return schema.Model{
		Name: VolumeModel,
		Fields: []schema.Field{
			{Name: "name", Type: schema.TypeString},
			{Name: "mount_point", Type: schema.TypeString},
			{Name: "total_capacity", Type: schema.TypeInt},
			{Name: "available_capacity", Type: schema.TypeInt},
			{Name: "is_removable", Type: schema.TypeBool},
			{Name: "disk_type", Type: schema.TypeString, Nullable: true},
			{Name: "file_system", Type: schema.TypeString, Nullable: true},
			{Name: "is_root_filesystem", Type: schema.TypeBool},
		},
		Required: []string{
			"name", "mount_point", "total_capacity", "available_capacity",
			"is_removable", "is_root_filesystem",
		},
		Updatable: []string{
			"name", "total_capacity", "available_capacity",
			"is_removable", "disk_type", "file_system",
		},
	}
}

// Volume is a volume as enumerated on a node.
type Volume struct {
	Name              string
	MountPoint        string
	TotalCapacity     int64
	AvailableCapacity int64
	IsRemovable       bool
	DiskType          *string
	FileSystem        *string
	IsRootFilesystem  bool
}

// CreateVolume builds a validated Create carrying every field of v.
// Unknown disk type or file system are stored as null.
func CreateVolume(reg *schema.Registry, id op.RecordID, v Volume) (op.Operation, error) {
	fields := []schema.FieldValue{
		VolumeName(v.Name),
		VolumeMountPoint(v.MountPoint),
		VolumeTotalCapacity(v.TotalCapacity),
		VolumeAvailableCapacity(v.AvailableCapacity),
		VolumeIsRemovable(v.IsRemovable),
		VolumeIsRootFilesystem(v.IsRootFilesystem),
		Cleared("disk_type"),
		Cleared("file_system"),
	}
	if v.DiskType != nil {
		fields = append(fields, VolumeDiskType(*v.DiskType))
	}
	if v.FileSystem != nil {
		fields = append(fields, VolumeFileSystem(*v.FileSystem))
	}
	return reg.CreateOf(id, VolumeModel, fields...)
}

// UpdateVolume builds a validated single-field Update for a volume.
func UpdateVolume(reg *schema.Registry, id op.RecordID, field VolumeField) (op.Operation, error) {
	return reg.UpdateOf(id, VolumeModel, field)
}
