package op

import (
	"github.com/google/uuid"
)

// RecordID is the 128-bit identifier of a record. It is stable for the
// record's lifetime and never reused.
type RecordID uuid.UUID

// NilRecordID is the zero id. No real record carries it.
var NilRecordID RecordID

// NewRecordID returns a fresh time-ordered (version 7) id.
func NewRecordID() RecordID {
	return RecordID(uuid.Must(uuid.NewV7()))
}

// ParseRecordID parses the canonical textual form of an id.
func ParseRecordID(s string) (RecordID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilRecordID, &SerializationError{Field: "record_id", Message: "invalid id", Err: err}
	}
	return RecordID(u), nil
}

// MustParseRecordID is like ParseRecordID but panics on error.
func MustParseRecordID(s string) RecordID {
	id, err := ParseRecordID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id RecordID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero id.
func (id RecordID) IsNil() bool {
	return id == NilRecordID
}

// MarshalText implements encoding.TextMarshaler.
func (id RecordID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *RecordID) UnmarshalText(data []byte) error {
	parsed, err := ParseRecordID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
