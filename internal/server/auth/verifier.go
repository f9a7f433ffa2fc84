package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
)

// clockSkew is the tolerance applied to iat and exp.
const clockSkew = 30 * time.Second

// KeyResolver returns the signing public key registered for a user.
type KeyResolver interface {
	PublicKey(ctx context.Context, userGUID string) (ed25519.PublicKey, error)
}

type Verifier struct {
	keys  KeyResolver
	clock clock.Clock
}

func NewVerifier(keys KeyResolver, clk clock.Clock) *Verifier {
	return &Verifier{keys: keys, clock: clk}
}

// Verify checks token against the fingerprint the caller expects and
// returns the GUID of the user who signed it. Every failure is reported as
// common.ErrAuthorisation.
func (v *Verifier) Verify(ctx context.Context, token, fingerprint string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", common.ErrAuthorisation)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		c, ok := t.Claims.(*Claims)
		if !ok || c.Subject == "" {
			return nil, errors.New("token has no subject")
		}
		key, err := v.keys.PublicKey(ctx, c.Subject)
		if err != nil {
			return nil, fmt.Errorf("unknown signer %s: %w", c.Subject, err)
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrAuthorisation, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", common.ErrAuthorisation)
	}

	if subtle.ConstantTimeCompare([]byte(claims.Fingerprint), []byte(fingerprint)) != 1 {
		return "", fmt.Errorf("%w: token does not authorise %q", common.ErrAuthorisation, fingerprint)
	}

	return claims.Subject, nil
}
