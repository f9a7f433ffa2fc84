// Package auth signs and verifies authorisation tokens. A token is an EdDSA
// JWT issued by the user for exactly one operation: its fingerprint claim
// names the resource it authorises, so a token for one request cannot be
// replayed against another.
package auth

import (
	"crypto/ed25519"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the registered claims plus the resource fingerprint. Subject is
// the GUID of the signing user.
type Claims struct {
	jwt.RegisteredClaims
	Fingerprint string `json:"fingerprint"`
}

// NewToken signs a token for userGUID over fingerprint, valid from now for
// validity.
func NewToken(userGUID, fingerprint string, key ed25519.PrivateKey, now time.Time, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userGUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
			ID:        uuid.NewString(),
		},
		Fingerprint: fingerprint,
	})

	tokenString, err := token.SignedString(key)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}
