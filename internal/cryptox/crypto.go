// Package cryptox holds the key material helpers used by the storage
// protocol: ed25519 signing keys for authorisation tokens and curve25519
// box keys used to seal pre-authorised request secrets for their recipient.
package cryptox

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// BoxKeySize is the length of curve25519 public and private keys.
const BoxKeySize = 32

var ErrInvalidKey = errors.New("invalid key")

// GenerateSigningKey creates a new ed25519 key pair for token signing.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// ParseSigningPublicKey validates raw bytes as an ed25519 public key.
func ParseSigningPublicKey(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(append([]byte(nil), raw...)), nil
}

// BoxKeyPair is a curve25519 key pair for anonymous sealed boxes.
type BoxKeyPair struct {
	Public  *[BoxKeySize]byte
	Private *[BoxKeySize]byte
}

// GenerateBoxKeyPair creates a session key pair a client hands its public
// half to the service so that capabilities can be sealed for it.
func GenerateBoxKeyPair() (*BoxKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &BoxKeyPair{Public: pub, Private: priv}, nil
}

// EncodeBoxKey renders a public key in the base64 form used in requests.
func EncodeBoxKey(key *[BoxKeySize]byte) string {
	return base64.StdEncoding.EncodeToString(key[:])
}

// DecodeBoxKey parses a base64 curve25519 public key.
func DecodeBoxKey(s string) (*[BoxKeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != BoxKeySize {
		return nil, fmt.Errorf("%w: box key must be %d bytes, got %d", ErrInvalidKey, BoxKeySize, len(raw))
	}
	var key [BoxKeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// Seal encrypts plaintext so that only the holder of the private half of
// recipient can open it.
func Seal(plaintext []byte, recipient *[BoxKeySize]byte) ([]byte, error) {
	return box.SealAnonymous(nil, plaintext, recipient, rand.Reader)
}

// Open reverses Seal.
func Open(sealed []byte, kp *BoxKeyPair) ([]byte, error) {
	plaintext, ok := box.OpenAnonymous(nil, sealed, kp.Public, kp.Private)
	if !ok {
		return nil, errors.New("cannot open sealed box")
	}
	return plaintext, nil
}
