package serialization

import (
	"crypto/sha256"
	"encoding/hex"
)

// checksum returns the hex SHA-256 of the concatenated tensor data.
func checksum(chunks ...[]byte) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	return hex.EncodeToString(h.Sum(nil))
}
