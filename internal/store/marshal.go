package store

import (
	"fmt"
	"math"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
)

// marshalValue converts a register value to canonical JSON TEXT.
func marshalValue(v ir.IRValue) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses canonical JSON TEXT. Large integers keep their
// precision: ir.UnmarshalIRValue decodes through json.Number.
func unmarshalValue(data string) (ir.IRValue, error) {
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

func marshalFields(fields ir.IRObject) (string, error) {
	if fields == nil {
		fields = ir.IRObject{}
	}
	return marshalValue(fields)
}

func unmarshalFields(data string) (ir.IRObject, error) {
	v, err := unmarshalValue(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("unmarshal fields: expected object, got %s", ir.Kind(v))
	}
	return obj, nil
}

// sqlTimestamp converts a timestamp to SQLite's signed INTEGER.
func sqlTimestamp(t clock.Timestamp) (int64, error) {
	if uint64(t) > math.MaxInt64 {
		return 0, fmt.Errorf("timestamp %d exceeds storable range", uint64(t))
	}
	return int64(t), nil
}

func stampFromSQL(ts int64, node string) clock.Stamp {
	return clock.Stamp{Time: clock.Timestamp(ts), Node: clock.NodeID(node)}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
