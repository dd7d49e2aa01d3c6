package testutil

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Node ids used across tests. They sort NodeA < NodeB < NodeC.
const (
	NodeA = "node-a"
	NodeB = "node-b"
	NodeC = "node-c"
)

// UUID returns a stable version-7 shaped id whose low bits hold n.
//
//	UUID(1) == 00000000-0000-7000-8000-000000000001
//
// Distinct n give distinct ids, and ids sort by n.
func UUID(n uint64) uuid.UUID {
	var u uuid.UUID
	u[6] = 0x70
	u[8] = 0x80
	binary.BigEndian.PutUint64(u[8:], n|0x8000000000000000)
	return u
}
