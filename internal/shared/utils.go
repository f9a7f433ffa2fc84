// Package shared provides helpers for bearer secrets: generation, hashing
// for at-rest storage, constant-time comparison and memory wiping.
package shared

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SecretSize is the number of random bytes behind every bearer secret.
const SecretSize = 32

// MakeRandHexString generates a random hexadecimal string of the given size.
// The size parameter specifies the number of random bytes, so the resulting
// string is twice as long.
//
// It returns an error if the random number generator fails.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewSecret returns a fresh bearer secret of SecretSize random bytes, hex encoded.
func NewSecret() (string, error) {
	return MakeRandHexString(SecretSize)
}

// HashSecret returns the digest under which a secret is stored. Secrets are
// high-entropy random values, so a plain SHA-256 is sufficient.
func HashSecret(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// SecretMatches reports whether secret hashes to hash, in constant time.
func SecretMatches(hash []byte, secret string) bool {
	candidate := HashSecret(secret)
	defer WipeByteArray(candidate)
	return subtle.ConstantTimeCompare(hash, candidate) == 1
}

// WipeByteArray overwrites the contents of the provided byte slice with zeros.
// If the slice is nil, the function does nothing.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
