// Package records declares the concrete shared record types: location, tag
// and volume.
//
// Each type has a model name, a sealed set of field variants that carry a
// field name and a serialized value, and constructors whose parameters are
// exactly the fields required at creation. Optional fields are passed as
// variants, and Cleared sets a nullable field to null.
package records
