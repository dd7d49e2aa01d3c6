package op

import (
	"bytes"
	"encoding/json"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
)

// wireOperation is the flattened JSON shape. Unknown keys are ignored so
// newer peers can add fields without breaking older ones.
type wireOperation struct {
	RecordID  *string         `json:"record_id"`
	Model     string          `json:"model"`
	Timestamp uint64          `json:"timestamp"`
	NodeID    string          `json:"node_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Field     *string         `json:"field"`
	Value     json.RawMessage `json:"value"`
}

// Object returns the flattened wire form as an IR object.
func (o Operation) Object() ir.IRObject {
	obj := ir.IRObject{
		"record_id": ir.IRString(o.RecordID.String()),
		"model":     ir.IRString(o.Model),
		"timestamp": ir.IRInt(int64(o.Stamp.Time)),
		"node_id":   ir.IRString(string(o.Stamp.Node)),
		"type":      ir.IRString(string(o.Kind)),
	}
	switch o.Kind {
	case KindCreate:
		obj["data"] = o.Data
	case KindUpdate:
		obj["field"] = ir.IRString(o.Field)
		obj["value"] = o.Value
	}
	return obj
}

// MarshalJSON encodes the flattened wire form as canonical JSON, so the same
// operation always produces the same bytes.
func (o Operation) MarshalJSON() ([]byte, error) {
	if err := o.Check(); err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(o.Object())
}

// UnmarshalJSON decodes the flattened wire form. Every failure is a
// *SerializationError.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return &SerializationError{Message: "invalid JSON", Err: err}
	}

	if w.RecordID == nil {
		return malformed("record_id", "missing")
	}
	id, err := ParseRecordID(*w.RecordID)
	if err != nil {
		return err
	}

	decoded := Operation{
		RecordID: id,
		Model:    w.Model,
		Stamp:    clock.Stamp{Time: clock.Timestamp(w.Timestamp), Node: clock.NodeID(w.NodeID)},
		Kind:     Kind(w.Type),
	}

	switch decoded.Kind {
	case KindCreate:
		if w.Data == nil || bytes.Equal(w.Data, []byte("null")) {
			return malformed("data", "missing for Create")
		}
		if w.Field != nil || w.Value != nil {
			return malformed("type", "Create carries field or value")
		}
		var obj ir.IRObject
		if err := json.Unmarshal(w.Data, &obj); err != nil {
			return &SerializationError{Field: "data", Message: "invalid object", Err: err}
		}
		decoded.Data = obj
	case KindUpdate:
		if w.Field == nil {
			return malformed("field", "missing for Update")
		}
		if w.Value == nil {
			return malformed("value", "missing for Update")
		}
		if w.Data != nil {
			return malformed("type", "Update carries data")
		}
		v, err := ir.UnmarshalIRValue(w.Value)
		if err != nil {
			return &SerializationError{Field: "value", Message: "invalid value", Err: err}
		}
		decoded.Field = *w.Field
		decoded.Value = v
	case KindDelete:
		if w.Data != nil || w.Field != nil || w.Value != nil {
			return malformed("type", "Delete carries a payload")
		}
	}

	if err := decoded.Check(); err != nil {
		return err
	}
	*o = decoded
	return nil
}

// Marshal encodes o in the flattened wire form.
func Marshal(o Operation) ([]byte, error) {
	return o.MarshalJSON()
}

// Unmarshal decodes one operation from its wire form.
func Unmarshal(data []byte) (Operation, error) {
	var o Operation
	if err := o.UnmarshalJSON(data); err != nil {
		return Operation{}, err
	}
	return o, nil
}

// ID returns the content address of o: a domain-separated sha256 over its
// canonical wire form. Redelivered copies of an operation share an ID.
func ID(o Operation) (string, error) {
	data, err := o.MarshalJSON()
	if err != nil {
		return "", err
	}
	return ir.HashWithDomain(ir.DomainOperation, data), nil
}
