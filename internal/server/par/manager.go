package par

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/cryptox"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/objectstore"
	"github.com/dmitrijs2005/gophdrive/internal/shared"
	"github.com/google/uuid"
	"github.com/juju/clock"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var mon = monkit.Package()

// Config bounds PAR lifetimes. Registry entries outlive the PAR by Grace so
// the sweeper still sees them and can clean up after abandoned writes.
type Config struct {
	MaxTTL time.Duration
	Grace  time.Duration
}

// IssueRequest describes the grant being issued. Expect is required for
// writes. Context is stored with the record and returned by Load untouched.
type IssueRequest struct {
	TargetKey     string
	Mode          Mode
	TTL           time.Duration
	Expect        *Expectation
	Context       map[string]string
	EncryptionKey string
}

type Manager struct {
	registry Registry
	backend  objectstore.Backend
	clock    clock.Clock
	cfg      Config
	log      logging.Logger
}

func NewManager(registry Registry, backend objectstore.Backend, clk clock.Clock, cfg Config, log logging.Logger) *Manager {
	return &Manager{
		registry: registry,
		backend:  backend,
		clock:    clk,
		cfg:      cfg,
		log:      log.With("module", "par"),
	}
}

// Issue registers a new PAR and presigns the backend transfer it allows.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (_ PAR, err error) {
	defer mon.Task()(&ctx)(&err)

	if !req.Mode.Valid() {
		return PAR{}, fmt.Errorf("%w: unknown PAR mode %q", common.ErrValidation, req.Mode)
	}
	if req.TargetKey == "" {
		return PAR{}, fmt.Errorf("%w: PAR needs a target key", common.ErrValidation)
	}
	if req.TTL <= 0 || (m.cfg.MaxTTL > 0 && req.TTL > m.cfg.MaxTTL) {
		return PAR{}, fmt.Errorf("%w: PAR validity %s out of range", common.ErrValidation, req.TTL)
	}
	if req.Mode == ModeWrite && req.Expect == nil {
		return PAR{}, fmt.Errorf("%w: write PAR needs an expectation", common.ErrValidation)
	}

	var recipient *[cryptox.BoxKeySize]byte
	if req.EncryptionKey != "" {
		recipient, err = cryptox.DecodeBoxKey(req.EncryptionKey)
		if err != nil {
			return PAR{}, fmt.Errorf("%w: encryption key: %v", common.ErrValidation, err)
		}
	}

	secret, err := shared.NewSecret()
	if err != nil {
		return PAR{}, fmt.Errorf("%w: generate secret: %v", common.ErrorInternal, err)
	}

	url, err := m.presign(ctx, req)
	if err != nil {
		return PAR{}, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	now := m.clock.Now()
	rec := Record{
		UID:        uuid.NewString(),
		TargetKey:  req.TargetKey,
		Mode:       req.Mode,
		SecretHash: shared.HashSecret(secret),
		ExpiresAt:  now.Add(req.TTL),
		Expect:     req.Expect,
		Context:    req.Context,
	}
	if err := m.registry.Put(ctx, rec, req.TTL+m.cfg.Grace); err != nil {
		return PAR{}, fmt.Errorf("%w: register PAR: %v", common.ErrorInternal, err)
	}

	p := PAR{
		UID:       rec.UID,
		TargetKey: rec.TargetKey,
		Mode:      rec.Mode,
		ExpiresAt: rec.ExpiresAt,
	}
	if recipient == nil {
		p.Secret = secret
		p.URL = url
	} else {
		plain, err := json.Marshal(Sealed{Secret: secret, URL: url})
		if err != nil {
			return PAR{}, fmt.Errorf("%w: encode sealed secret: %v", common.ErrorInternal, err)
		}
		p.SealedSecret, err = cryptox.Seal(plain, recipient)
		shared.WipeByteArray(plain)
		if err != nil {
			return PAR{}, fmt.Errorf("%w: seal secret: %v", common.ErrorInternal, err)
		}
		p.EncryptionKey = req.EncryptionKey
	}

	m.log.Info(ctx, "PAR issued", "par_uid", rec.UID, "mode", rec.Mode, "expires_at", rec.ExpiresAt)
	return p, nil
}

func (m *Manager) presign(ctx context.Context, req IssueRequest) (string, error) {
	switch req.Mode {
	case ModeWrite:
		return m.backend.PresignPut(ctx, req.TargetKey, req.Expect.Size, req.Expect.Checksum, req.TTL)
	case ModeDelete:
		return m.backend.PresignDelete(ctx, req.TargetKey, req.TTL)
	default:
		return m.backend.PresignGet(ctx, req.TargetKey, req.TTL)
	}
}

// Load returns the record of a valid PAR.
func (m *Manager) Load(ctx context.Context, uid, secret string) (_ Record, err error) {
	defer mon.Task()(&ctx)(&err)

	rec, err := m.registry.Get(ctx, uid)
	if err != nil {
		return Record{}, asPARError(err)
	}
	if err := m.usable(rec, secret); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (m *Manager) usable(rec Record, secret string) error {
	if rec.Closed {
		return fmt.Errorf("%w: PAR %s is already closed", common.ErrPAR, rec.UID)
	}
	if !shared.SecretMatches(rec.SecretHash, secret) {
		return fmt.Errorf("%w: secret mismatch for %s", common.ErrPAR, rec.UID)
	}
	if rec.Expired(m.clock.Now()) {
		return fmt.Errorf("%w: PAR %s expired at %s", common.ErrPAR, rec.UID, rec.ExpiresAt)
	}
	return nil
}

// Close consumes the PAR and verifies the object state its mode promises. Any
// later Close fails with common.ErrPAR even when verification failed. A write
// that fails verification is left in place and its record kept as closed
// until expiry, when Sweep deletes the object.
func (m *Manager) Close(ctx context.Context, uid, secret string) (_ ObjectDescriptor, err error) {
	defer mon.Task()(&ctx)(&err)

	rec, err := m.registry.Take(ctx, uid, func(rec Record) error {
		return m.usable(rec, secret)
	})
	if err != nil {
		return ObjectDescriptor{}, asPARError(err)
	}

	desc := ObjectDescriptor{Key: rec.TargetKey}
	switch rec.Mode {
	case ModeWrite:
		info, err := m.backend.Stat(ctx, rec.TargetKey)
		if errors.Is(err, common.ErrorNotFound) {
			m.retire(ctx, rec)
			return ObjectDescriptor{}, fmt.Errorf("%w: nothing was written to %s", common.ErrIntegrity, rec.TargetKey)
		}
		if err != nil {
			return ObjectDescriptor{}, fmt.Errorf("%w: stat %s: %v", common.ErrorInternal, rec.TargetKey, err)
		}
		if rec.Expect != nil && (info.Size != rec.Expect.Size || info.Checksum != rec.Expect.Checksum) {
			m.log.Warn(ctx, "written object does not match PAR expectation",
				"par_uid", rec.UID, "size", info.Size, "expected_size", rec.Expect.Size)
			m.retire(ctx, rec)
			return ObjectDescriptor{}, fmt.Errorf("%w: %s does not match the announced size and checksum", common.ErrIntegrity, rec.TargetKey)
		}
		desc.Size = info.Size
		desc.Checksum = info.Checksum
	case ModeDelete:
		exists, err := m.backend.Exists(ctx, rec.TargetKey)
		if err != nil {
			return ObjectDescriptor{}, fmt.Errorf("%w: check %s: %v", common.ErrorInternal, rec.TargetKey, err)
		}
		if exists {
			return ObjectDescriptor{}, fmt.Errorf("%w: %s still exists", common.ErrIntegrity, rec.TargetKey)
		}
	}

	m.log.Info(ctx, "PAR closed", "par_uid", rec.UID, "mode", rec.Mode)
	return desc, nil
}

// retire registers rec again as closed. The presigned URL stays valid until
// expiry, so the target is only cleaned up by Sweep after that.
func (m *Manager) retire(ctx context.Context, rec Record) {
	rec.Closed = true
	ttl := rec.ExpiresAt.Sub(m.clock.Now()) + m.cfg.Grace
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := m.registry.Put(ctx, rec, ttl); err != nil {
		m.log.Error(ctx, "failed to keep closed PAR for sweeping", "par_uid", rec.UID, "key", rec.TargetKey, "error", err)
	}
}

// Sweep drops expired records and deletes what abandoned writes left in the
// object store. It returns the number of records removed.
func (m *Manager) Sweep(ctx context.Context) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	now := m.clock.Now()
	expired, err := m.registry.Expired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%w: list expired PARs: %v", common.ErrorInternal, err)
	}

	removed := 0
	for _, rec := range expired {
		_, err := m.registry.Take(ctx, rec.UID, func(r Record) error {
			if !r.Expired(now) {
				return fmt.Errorf("%w: PAR %s is live", common.ErrPAR, r.UID)
			}
			return nil
		})
		if err != nil {
			// closed or taken by someone else in the meantime
			continue
		}
		removed++
		if rec.Mode != ModeWrite {
			continue
		}
		if err := m.backend.Delete(ctx, rec.TargetKey); err != nil {
			m.log.Error(ctx, "failed to delete abandoned upload", "par_uid", rec.UID, "key", rec.TargetKey, "error", err)
			continue
		}
		m.log.Info(ctx, "abandoned upload removed", "par_uid", rec.UID, "key", rec.TargetKey)
	}
	return removed, nil
}

func asPARError(err error) error {
	if errors.Is(err, common.ErrPAR) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrPAR, err)
}
