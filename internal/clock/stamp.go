package clock

import (
	"cmp"
	"fmt"
	"math"
	"strings"
)

const (
	counterBits = 16
	counterMask = 1<<counterBits - 1
)

// NodeID identifies the replica that produced an operation.
// Node ids are compared bytewise when two stamps carry the same time.
type NodeID string

// Timestamp is a hybrid logical time. The upper 48 bits hold wall-clock
// milliseconds and the lower 16 bits a logical counter, so comparing two
// timestamps as integers compares (wall, counter) lexicographically.
type Timestamp uint64

// NewTimestamp packs wall-clock milliseconds and a logical counter.
func NewTimestamp(wallMillis int64, counter uint16) Timestamp {
	if wallMillis < 0 {
		wallMillis = 0
	}
	return Timestamp(uint64(wallMillis)<<counterBits | uint64(counter))
}

// WallMillis returns the physical component in Unix milliseconds.
func (t Timestamp) WallMillis() int64 {
	return int64(uint64(t) >> counterBits)
}

// Counter returns the logical component.
func (t Timestamp) Counter() uint16 {
	return uint16(uint64(t) & counterMask)
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d", t.WallMillis(), t.Counter())
}

// Stamp is the (timestamp, node) tie-break key carried by every operation.
type Stamp struct {
	Time Timestamp `json:"timestamp"`
	Node NodeID    `json:"node_id"`
}

// Compare orders stamps by Time, then by Node.
// It returns -1, 0 or +1.
func (s Stamp) Compare(other Stamp) int {
	if c := cmp.Compare(s.Time, other.Time); c != 0 {
		return c
	}
	return strings.Compare(string(s.Node), string(other.Node))
}

// Less reports whether s sorts strictly before other.
func (s Stamp) Less(other Stamp) bool {
	return s.Compare(other) < 0
}

// IsZero reports whether the stamp is unset. A zero stamp sorts before
// every stamp a clock can produce.
func (s Stamp) IsZero() bool {
	return s.Time == 0 && s.Node == ""
}

// Valid reports whether the stamp could have been produced by an HLC.
// The top bit of Time is never set: stamps travel as signed 64-bit JSON
// integers and SQLite INTEGERs.
func (s Stamp) Valid() bool {
	return s.Time != 0 && s.Time <= math.MaxInt64 && s.Node != ""
}

func (s Stamp) String() string {
	return fmt.Sprintf("%s@%s", s.Time, s.Node)
}

// Max returns the greater of two stamps.
func Max(a, b Stamp) Stamp {
	if a.Less(b) {
		return b
	}
	return a
}
