// Package op defines the wire-stable representation of a mutation on a
// shared record.
//
// An Operation is one of three variants:
//
//	Create{data}         establishes initial field values
//	Update{field, value} sets exactly one field
//	Delete{}             tombstones the record
//
// Every variant carries the record id, the model name and the stamp that
// orders it, so applying it needs nothing beyond (model, record_id).
//
// The JSON form is flattened: the "type" discriminant sits next to
// "record_id" and "model" rather than wrapping the variant payload.
package op
