package par

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/cryptox"
	"github.com/dmitrijs2005/gophdrive/internal/filex"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/objectstore"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	mgr   *Manager
	reg   *BadgerRegistry
	store *objectstore.MemoryStore
	clock *testclock.Clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := OpenBadgerRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	clk := testclock.NewClock(epoch)
	store := objectstore.NewMemoryStoreWithClock(clk)
	mgr := NewManager(reg, store, clk, Config{MaxTTL: time.Hour, Grace: time.Hour}, logging.Discard())
	return &harness{mgr: mgr, reg: reg, store: store, clock: clk}
}

func writeRequest(data []byte) IssueRequest {
	return IssueRequest{
		TargetKey: "storage/content/d1/f1",
		Mode:      ModeWrite,
		TTL:       15 * time.Minute,
		Expect:    &Expectation{Size: int64(len(data)), Checksum: filex.Checksum(data)},
		Context:   map[string]string{"drive_uid": "d1"},
	}
}

func TestIssue_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  IssueRequest
	}{
		{"bad mode", IssueRequest{TargetKey: "k", Mode: "copy", TTL: time.Minute}},
		{"no key", IssueRequest{Mode: ModeRead, TTL: time.Minute}},
		{"zero ttl", IssueRequest{TargetKey: "k", Mode: ModeRead}},
		{"ttl too long", IssueRequest{TargetKey: "k", Mode: ModeRead, TTL: 2 * time.Hour}},
		{"write without expectation", IssueRequest{TargetKey: "k", Mode: ModeWrite, TTL: time.Minute}},
		{"bad encryption key", IssueRequest{TargetKey: "k", Mode: ModeRead, TTL: time.Minute, EncryptionKey: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.mgr.Issue(ctx, tt.req)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestWriteLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	data := []byte("0123456789")

	p, err := h.mgr.Issue(ctx, writeRequest(data))
	require.NoError(t, err)
	assert.NotEmpty(t, p.UID)
	assert.NotEmpty(t, p.Secret)
	assert.Contains(t, p.URL, "method=PUT")
	assert.Equal(t, epoch.Add(15*time.Minute), p.ExpiresAt)

	rec, err := h.mgr.Load(ctx, p.UID, p.Secret)
	require.NoError(t, err)
	assert.Equal(t, "d1", rec.Context["drive_uid"])
	assert.NotContains(t, string(rec.SecretHash), p.Secret)

	_, err = h.mgr.Load(ctx, p.UID, "wrong")
	assert.ErrorIs(t, err, common.ErrPAR)

	require.NoError(t, h.store.Put(ctx, p.TargetKey, data))

	desc, err := h.mgr.Close(ctx, p.UID, p.Secret)
	require.NoError(t, err)
	assert.Equal(t, int64(10), desc.Size)
	assert.Equal(t, filex.Checksum(data), desc.Checksum)

	_, err = h.mgr.Close(ctx, p.UID, p.Secret)
	assert.ErrorIs(t, err, common.ErrPAR)
	_, err = h.mgr.Load(ctx, p.UID, p.Secret)
	assert.ErrorIs(t, err, common.ErrPAR)
}

func TestClose_WrongSecretKeepsPAR(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.mgr.Issue(ctx, writeRequest([]byte("x")))
	require.NoError(t, err)

	_, err = h.mgr.Close(ctx, p.UID, "guess")
	assert.ErrorIs(t, err, common.ErrPAR)

	_, err = h.mgr.Load(ctx, p.UID, p.Secret)
	assert.NoError(t, err)
}

func TestClose_IntegrityFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing written", func(t *testing.T) {
		h := newHarness(t)
		p, err := h.mgr.Issue(ctx, writeRequest([]byte("abc")))
		require.NoError(t, err)

		_, err = h.mgr.Close(ctx, p.UID, p.Secret)
		assert.ErrorIs(t, err, common.ErrIntegrity)
		// the PAR is consumed either way
		_, err = h.mgr.Close(ctx, p.UID, p.Secret)
		assert.ErrorIs(t, err, common.ErrPAR)
	})

	t.Run("tampered content", func(t *testing.T) {
		h := newHarness(t)
		p, err := h.mgr.Issue(ctx, writeRequest([]byte("abc")))
		require.NoError(t, err)
		require.NoError(t, h.store.Put(ctx, p.TargetKey, []byte("abd")))

		_, err = h.mgr.Close(ctx, p.UID, p.Secret)
		assert.ErrorIs(t, err, common.ErrIntegrity)

		// left in place while the PAR is still valid
		ok, err := h.store.Exists(ctx, p.TargetKey)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = h.mgr.Load(ctx, p.UID, p.Secret)
		assert.ErrorIs(t, err, common.ErrPAR)
		_, err = h.mgr.Close(ctx, p.UID, p.Secret)
		assert.ErrorIs(t, err, common.ErrPAR)

		n, err := h.mgr.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		h.clock.Advance(15 * time.Minute)
		n, err = h.mgr.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ok, err = h.store.Exists(ctx, p.TargetKey)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete left object", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Put(ctx, "k", []byte("x")))
		p, err := h.mgr.Issue(ctx, IssueRequest{TargetKey: "k", Mode: ModeDelete, TTL: time.Minute})
		require.NoError(t, err)
		assert.Contains(t, p.URL, "method=DELETE")

		_, err = h.mgr.Close(ctx, p.UID, p.Secret)
		assert.ErrorIs(t, err, common.ErrIntegrity)
	})
}

func TestDeleteAndReadClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.mgr.Issue(ctx, IssueRequest{TargetKey: "gone", Mode: ModeDelete, TTL: time.Minute})
	require.NoError(t, err)
	_, err = h.mgr.Close(ctx, p.UID, p.Secret)
	assert.NoError(t, err)

	p, err = h.mgr.Issue(ctx, IssueRequest{TargetKey: "k", Mode: ModeRead, TTL: time.Minute})
	require.NoError(t, err)
	assert.Contains(t, p.URL, "method=GET")
	desc, err := h.mgr.Close(ctx, p.UID, p.Secret)
	require.NoError(t, err)
	assert.Equal(t, "k", desc.Key)
}

func TestExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	data := []byte("late")

	p, err := h.mgr.Issue(ctx, writeRequest(data))
	require.NoError(t, err)
	require.NoError(t, h.store.Put(ctx, p.TargetKey, data))

	h.clock.Advance(15 * time.Minute)

	_, err = h.mgr.Load(ctx, p.UID, p.Secret)
	assert.ErrorIs(t, err, common.ErrPAR)
	_, err = h.mgr.Close(ctx, p.UID, p.Secret)
	assert.ErrorIs(t, err, common.ErrPAR)
}

func TestSweep_RemovesAbandonedWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	data := []byte("abandoned")

	stale, err := h.mgr.Issue(ctx, writeRequest(data))
	require.NoError(t, err)
	require.NoError(t, h.store.Put(ctx, stale.TargetKey, data))

	live, err := h.mgr.Issue(ctx, IssueRequest{TargetKey: "other", Mode: ModeRead, TTL: time.Hour})
	require.NoError(t, err)

	h.clock.Advance(20 * time.Minute)

	n, err := h.mgr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := h.store.Exists(ctx, stale.TargetKey)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.mgr.Load(ctx, live.UID, live.Secret)
	assert.NoError(t, err)

	n, err = h.mgr.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSealedSecret(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	kp, err := cryptox.GenerateBoxKeyPair()
	require.NoError(t, err)

	req := writeRequest([]byte("x"))
	req.EncryptionKey = cryptox.EncodeBoxKey(kp.Public)
	p, err := h.mgr.Issue(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, p.Secret)
	assert.Empty(t, p.URL)
	assert.NotEmpty(t, p.SealedSecret)
	assert.Equal(t, req.EncryptionKey, p.EncryptionKey)

	sealed, err := OpenSealed(p, kp)
	require.NoError(t, err)
	assert.Contains(t, sealed.URL, "method=PUT")

	_, err = h.mgr.Load(ctx, p.UID, sealed.Secret)
	assert.NoError(t, err)

	other, err := cryptox.GenerateBoxKeyPair()
	require.NoError(t, err)
	_, err = OpenSealed(p, other)
	assert.ErrorIs(t, err, common.ErrPAR)
}

func TestClose_ConcurrentClosersSucceedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.mgr.Issue(ctx, IssueRequest{TargetKey: "k", Mode: ModeRead, TTL: time.Minute})
	require.NoError(t, err)

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.mgr.Close(ctx, p.UID, p.Secret); err == nil {
				atomic.AddInt32(&ok, 1)
			} else {
				assert.ErrorIs(t, err, common.ErrPAR)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok)
}
