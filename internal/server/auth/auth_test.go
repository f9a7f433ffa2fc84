package auth

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/cryptox"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeys map[string]ed25519.PublicKey

func (f fakeKeys) PublicKey(ctx context.Context, userGUID string) (ed25519.PublicKey, error) {
	k, ok := f[userGUID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return k, nil
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Verifier, ed25519.PrivateKey, *testclock.Clock) {
	t.Helper()
	pub, priv, err := cryptox.GenerateSigningKey()
	require.NoError(t, err)
	clk := testclock.NewClock(epoch)
	return NewVerifier(fakeKeys{"u1": pub}, clk), priv, clk
}

func TestVerify_Success(t *testing.T) {
	v, priv, _ := setup(t)
	fp := UploadFingerprint("a.txt", "abc")

	tok, err := NewToken("u1", fp, priv, epoch, time.Minute)
	require.NoError(t, err)

	user, err := v.Verify(context.Background(), tok, fp)
	require.NoError(t, err)
	assert.Equal(t, "u1", user)
}

func TestVerify_Failures(t *testing.T) {
	v, priv, clk := setup(t)
	_, otherPriv, err := cryptox.GenerateSigningKey()
	require.NoError(t, err)
	fp := ListFingerprint("d1", "a.txt")

	good, err := NewToken("u1", fp, priv, epoch, time.Minute)
	require.NoError(t, err)
	forged, err := NewToken("u1", fp, otherPriv, epoch, time.Minute)
	require.NoError(t, err)
	stranger, err := NewToken("u9", fp, priv, epoch, time.Minute)
	require.NoError(t, err)
	noSubject, err := NewToken("", fp, priv, epoch, time.Minute)
	require.NoError(t, err)
	hmac, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Minute))},
		Fingerprint:      fp,
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		fp    string
	}{
		{"empty", "", fp},
		{"garbage", "not.a.token", fp},
		{"bad signature", forged, fp},
		{"unknown signer", stranger, fp},
		{"no subject", noSubject, fp},
		{"hmac algorithm", hmac, fp},
		{"other fingerprint", good, ListFingerprint("d1", "b.txt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token, tt.fp)
			assert.ErrorIs(t, err, common.ErrAuthorisation)
		})
	}

	clk.Advance(time.Hour)
	_, err = v.Verify(context.Background(), good, fp)
	assert.ErrorIs(t, err, common.ErrAuthorisation)
}

func TestFingerprints(t *testing.T) {
	assert.Equal(t, "uploaded par-1", ConfirmFingerprint("par-1"))
	assert.Equal(t, "list_versions d1/a.txt", ListFingerprint("d1", "a.txt"))
	assert.Equal(t, "download d1/a.txt", DownloadFingerprint("d1", "a.txt", models.Latest))
	assert.Equal(t, "download d1/a.txt@f1", DownloadFingerprint("d1", "a.txt", models.VersionSelector{FileUID: "f1"}))

	up := UploadFingerprint("a.txt", "abc")
	assert.Len(t, up, len("upload ")+64)
	assert.NotEqual(t, up, UploadFingerprint("a.txt", "abd"))
	// the separator keeps name/checksum boundaries unambiguous
	assert.NotEqual(t, UploadFingerprint("ab", "c"), UploadFingerprint("a", "bc"))
}
