package hash

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HMACSHA256 digests codes with HMAC-SHA-256 and hex-encodes the result.
type HMACSHA256 struct {
	secret []byte
}

func NewHMACSHA256(secret string) *HMACSHA256 {
	return &HMACSHA256{secret: []byte(secret)}
}

func (s *HMACSHA256) Hash(code string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *HMACSHA256) Verify(hashed, code string) bool {
	return subtle.ConstantTimeCompare([]byte(hashed), []byte(s.Hash(code))) == 1
}
