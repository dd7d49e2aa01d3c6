package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for an algorithm migration.
const (
	DomainOperation = "recsync/operation/v1"
	DomainState     = "recsync/state/v1"
)

// HashWithDomain computes SHA256(domain || 0x00 || data) as lowercase hex.
// The null separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
