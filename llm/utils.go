package llm

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// newBatchID returns 24 hex chars: a 4 byte unix timestamp followed by 8 random bytes.
func newBatchID() string {
	id := make([]byte, 12)
	binary.BigEndian.PutUint32(id[:4], uint32(time.Now().Unix()))
	_, _ = rand.Read(id[4:])
	return hex.EncodeToString(id)
}

// EnsureBatchID keeps s when it is a valid batch id and generates a new one otherwise.
func EnsureBatchID(s string) string {
	if _, err := hex.DecodeString(s); err == nil && len(s) == 24 {
		return s
	}
	return newBatchID()
}
