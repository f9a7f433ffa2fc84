// Package par manages pre-authorised requests: short-lived, secret-guarded
// grants to move bytes for one object key directly against the object
// store. A PAR is issued once, optionally loaded while it is valid, and
// closed exactly once.
package par

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/cryptox"
)

// Mode is the operation a PAR authorises.
type Mode string

const (
	ModeRead   Mode = "read"
	ModeWrite  Mode = "write"
	ModeDelete Mode = "delete"
)

func (m Mode) Valid() bool {
	return m == ModeRead || m == ModeWrite || m == ModeDelete
}

// Expectation is what a write must leave behind for the PAR to close.
type Expectation struct {
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Record is the registry entry of a PAR. Only a hash of the secret is kept.
// A write PAR that failed verification stays registered as Closed until it
// expires, so the sweeper removes what the failed transfer left behind.
type Record struct {
	UID        string            `json:"uid"`
	TargetKey  string            `json:"target_key"`
	Mode       Mode              `json:"mode"`
	SecretHash []byte            `json:"secret_hash"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Expect     *Expectation      `json:"expect,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
	Closed     bool              `json:"closed,omitempty"`
}

// Expired reports whether the record is no longer usable at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// PAR is what the issuer hands to the client. With an encryption key the
// secret and URL travel only inside SealedSecret.
type PAR struct {
	UID           string    `json:"par_uid"`
	TargetKey     string    `json:"target_key"`
	Mode          Mode      `json:"mode"`
	Secret        string    `json:"secret,omitempty"`
	URL           string    `json:"url,omitempty"`
	SealedSecret  []byte    `json:"sealed_secret,omitempty"`
	EncryptionKey string    `json:"encryption_key,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Sealed is the plaintext of PAR.SealedSecret.
type Sealed struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// OpenSealed recovers the secret and URL of p with the key pair whose public
// half was sent as the encryption key.
func OpenSealed(p PAR, kp *cryptox.BoxKeyPair) (Sealed, error) {
	if len(p.SealedSecret) == 0 {
		return Sealed{Secret: p.Secret, URL: p.URL}, nil
	}
	plain, err := cryptox.Open(p.SealedSecret, kp)
	if err != nil {
		return Sealed{}, fmt.Errorf("%w: open sealed secret: %v", common.ErrPAR, err)
	}
	var s Sealed
	if err := json.Unmarshal(plain, &s); err != nil {
		return Sealed{}, fmt.Errorf("%w: decode sealed secret: %v", common.ErrPAR, err)
	}
	return s, nil
}

// ObjectDescriptor describes the object a closed PAR left behind.
type ObjectDescriptor struct {
	Key      string
	Size     int64
	Checksum string
}
