package hash

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// BLAKE2b digests codes with keyed BLAKE2b-256. Keys longer than 64 bytes are
// rejected by the primitive, so the configured secret is first reduced with an
// unkeyed BLAKE2b-256 when needed.
type BLAKE2b struct {
	key []byte
}

func NewBLAKE2b(secret string) (*BLAKE2b, error) {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	// Validate the key once so Hash cannot fail later.
	if _, err := blake2b.New256(key); err != nil {
		return nil, fmt.Errorf("invalid blake2b key: %w", err)
	}
	return &BLAKE2b{key: key}, nil
}

func (b *BLAKE2b) Hash(code string) string {
	h, _ := blake2b.New256(b.key)
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BLAKE2b) Verify(hashed, code string) bool {
	return subtle.ConstantTimeCompare([]byte(hashed), []byte(b.Hash(code))) == 1
}
