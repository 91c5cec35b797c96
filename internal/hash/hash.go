// Package hash turns one-time codes into keyed digests so a store only ever
// holds values that cannot be reversed into the code without the server key.
//
// Digests are deterministic: the same code and key always produce the same
// hex string, which lets stores compare-and-delete on the digest itself.
package hash

import "fmt"

const (
	AlgorithmHMACSHA256 = "hmac-sha256"
	AlgorithmBLAKE2b    = "blake2b"
)

// Hasher digests codes and checks candidate codes against a digest.
type Hasher interface {
	Hash(code string) string
	Verify(hashed, code string) bool
}

// New builds the hasher selected by algorithm.
func New(algorithm, secret string) (Hasher, error) {
	switch algorithm {
	case AlgorithmHMACSHA256:
		return NewHMACSHA256(secret), nil
	case AlgorithmBLAKE2b:
		return NewBLAKE2b(secret)
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
}
