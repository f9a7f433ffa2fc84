package services

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/cryptox"
	"github.com/dmitrijs2005/gophdrive/internal/filex"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/access"
	"github.com/dmitrijs2005/gophdrive/internal/server/auth"
	"github.com/dmitrijs2005/gophdrive/internal/server/drivestore"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/objectstore"
	"github.com/dmitrijs2005/gophdrive/internal/server/par"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeKeys map[string]ed25519.PublicKey

func (f fakeKeys) PublicKey(ctx context.Context, userGUID string) (ed25519.PublicKey, error) {
	k, ok := f[userGUID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return k, nil
}

type fakeDriveACLs map[string]models.ACLRule

func (f fakeDriveACLs) DriveACL(ctx context.Context, driveUID, userGUID string) (models.ACLRule, error) {
	return f[driveUID+"/"+userGUID], nil
}

type env struct {
	svc   *StorageService
	store *objectstore.MemoryStore
	clock *testclock.Clock
	privs map[string]ed25519.PrivateKey
}

func newEnv(t *testing.T) *env {
	t.Helper()

	keys := fakeKeys{}
	privs := map[string]ed25519.PrivateKey{}
	for _, u := range []string{"owner", "reader", "outsider"} {
		pub, priv, err := cryptox.GenerateSigningKey()
		require.NoError(t, err)
		keys[u] = pub
		privs[u] = priv
	}
	acls := fakeDriveACLs{"d1/owner": models.ACLOwner, "d1/reader": models.ACLReadOnly}

	reg, err := par.OpenBadgerRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	clk := testclock.NewClock(epoch)
	store := objectstore.NewMemoryStoreWithClock(clk)
	k, err := objectstore.NewKeys(common.DefaultKeyRoot)
	require.NoError(t, err)
	log := logging.Discard()

	pars := par.NewManager(reg, store, clk, par.Config{MaxTTL: time.Hour, Grace: time.Hour}, log)
	svc := NewStorageService(
		drivestore.New(store, k, log),
		store,
		k,
		pars,
		access.NewResolver(acls),
		auth.NewVerifier(keys, clk),
		clk,
		StorageConfig{InlineThreshold: 64, MaxFileSize: 1 << 20, PARValidity: 15 * time.Minute},
		log,
	)
	return &env{svc: svc, store: store, clock: clk, privs: privs}
}

func (e *env) token(t *testing.T, user, fingerprint string) string {
	t.Helper()
	tok, err := auth.NewToken(user, fingerprint, e.privs[user], e.clock.Now(), time.Minute)
	require.NoError(t, err)
	return tok
}

func handle(name string, data []byte, inline bool) models.FileHandle {
	h := models.FileHandle{DriveUID: "d1", Filename: name, Size: int64(len(data)), Checksum: filex.Checksum(data)}
	if inline {
		h.Content = data
	}
	return h
}

func (e *env) upload(t *testing.T, user string, h models.FileHandle) (UploadResult, error) {
	t.Helper()
	name, err := models.NormalizeFilename(h.Filename)
	require.NoError(t, err)
	return e.svc.Upload(context.Background(), UploadRequest{
		File:  h,
		Token: e.token(t, user, auth.UploadFingerprint(name, h.Checksum)),
	})
}

func (e *env) list(t *testing.T, user, name string) ([]models.VersionSummary, error) {
	t.Helper()
	return e.svc.ListVersions(context.Background(), ListRequest{
		DriveUID: "d1",
		Filename: name,
		Token:    e.token(t, user, auth.ListFingerprint("d1", name)),
	})
}

func (e *env) download(t *testing.T, user, name, version string) (DownloadResult, error) {
	t.Helper()
	return e.svc.Download(context.Background(), DownloadRequest{
		DriveUID: "d1",
		Filename: name,
		Version:  version,
		Token:    e.token(t, user, auth.DownloadFingerprint("d1", name, models.ParseVersionSelector(version))),
	})
}

func (e *env) confirm(t *testing.T, user string, p *par.PAR) (UploadResult, error) {
	t.Helper()
	return e.svc.ConfirmUpload(context.Background(), ConfirmRequest{
		DriveUID: "d1",
		PARUID:   p.UID,
		Secret:   p.Secret,
		Token:    e.token(t, user, auth.ConfirmFingerprint(p.UID)),
	})
}

func TestUpload_Inline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	data := []byte("0123456789")

	res, err := e.upload(t, "owner", handle("notes/today.txt", data, true))
	require.NoError(t, err)
	assert.Equal(t, UploadInlineAccepted, res.State)
	require.NotNil(t, res.File)
	assert.Nil(t, res.PAR)
	assert.Equal(t, int64(10), res.File.Size)
	assert.Equal(t, "owner", res.File.UploadedBy)
	assert.Equal(t, models.ACLOwner, res.File.Access)
	assert.Equal(t, epoch, res.File.CreatedAt)

	got, err := e.store.Get(ctx, "storage/content/d1/"+res.File.FileUID)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	versions, err := e.list(t, "owner", "notes/today.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.True(t, versions[0].Latest)
	assert.Equal(t, res.File.FileUID, versions[0].FileUID)
}

func TestUpload_InlineRejections(t *testing.T) {
	e := newEnv(t)

	big := make([]byte, 65)
	res, err := e.upload(t, "owner", handle("big.bin", big, true))
	assert.ErrorIs(t, err, common.ErrTooLarge)
	assert.Equal(t, UploadRejected, res.State)

	h := handle("lie.txt", []byte("abc"), true)
	h.Content = []byte("abd")
	_, err = e.upload(t, "owner", h)
	assert.ErrorIs(t, err, common.ErrIntegrity)

	h = handle("lie.txt", []byte("abc"), true)
	h.Size = 4
	_, err = e.upload(t, "owner", h)
	assert.ErrorIs(t, err, common.ErrIntegrity)

	versions, err := e.list(t, "owner", "lie.txt")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestUpload_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	h := handle("a.txt", []byte("a"), true)
	h.Checksum = "ABC"
	_, err := e.svc.Upload(ctx, UploadRequest{File: h, Token: "x"})
	assert.ErrorIs(t, err, common.ErrValidation)

	h = handle("a.txt", []byte("a"), true)
	h.DriveUID = "d1/evil"
	_, err = e.svc.Upload(ctx, UploadRequest{File: h, Token: "x"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = e.svc.Upload(ctx, UploadRequest{File: handle("a.txt", []byte("a"), true)})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = e.svc.Upload(ctx, UploadRequest{File: handle("/", []byte("a"), true), Token: "x"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUpload_ThroughPAR(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}

	res, err := e.upload(t, "owner", handle("video.bin", data, false))
	require.NoError(t, err)
	assert.Equal(t, UploadAwaitingTransfer, res.State)
	require.NotNil(t, res.PAR)
	assert.Nil(t, res.File)
	assert.Contains(t, res.PAR.URL, "method=PUT")

	// not visible before confirmation
	versions, err := e.list(t, "owner", "video.bin")
	require.NoError(t, err)
	assert.Empty(t, versions)

	require.NoError(t, e.store.Put(ctx, res.PAR.TargetKey, data))
	e.clock.Advance(time.Minute)

	done, err := e.confirm(t, "owner", res.PAR)
	require.NoError(t, err)
	assert.Equal(t, UploadFinalized, done.State)
	require.NotNil(t, done.File)
	assert.Equal(t, int64(1000), done.File.Size)
	assert.Equal(t, epoch.Add(time.Minute), done.File.CreatedAt)
	assert.Equal(t, "video.bin", done.File.Filename)

	versions, err = e.list(t, "owner", "video.bin")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, done.File.FileUID, versions[0].FileUID)

	// the PAR is spent
	_, err = e.confirm(t, "owner", res.PAR)
	assert.ErrorIs(t, err, common.ErrPAR)
}

func TestUpload_TamperedTransfer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	data := []byte("the real content that was announced")

	res, err := e.upload(t, "owner", handle("doc.txt", data, false))
	require.NoError(t, err)

	require.NoError(t, e.store.Put(ctx, res.PAR.TargetKey, []byte("something else entirely")))

	done, err := e.confirm(t, "owner", res.PAR)
	assert.ErrorIs(t, err, common.ErrIntegrity)
	assert.Equal(t, UploadRejected, done.State)

	versions, err := e.list(t, "owner", "doc.txt")
	require.NoError(t, err)
	assert.Empty(t, versions)

	// the partial object stays until the PAR expires and is swept
	ok, err := e.store.Exists(ctx, res.PAR.TargetKey)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.confirm(t, "owner", res.PAR)
	assert.ErrorIs(t, err, common.ErrPAR)
}

func TestUpload_TooLargeForPAR(t *testing.T) {
	e := newEnv(t)
	h := models.FileHandle{DriveUID: "d1", Filename: "huge", Size: 2 << 20, Checksum: filex.Checksum(nil)}
	_, err := e.upload(t, "owner", h)
	assert.ErrorIs(t, err, common.ErrTooLarge)
}

func TestConfirm_WrongCaller(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	data := []byte("payload")

	res, err := e.upload(t, "owner", handle("p.txt", data, false))
	require.NoError(t, err)
	require.NoError(t, e.store.Put(ctx, res.PAR.TargetKey, data))

	_, err = e.confirm(t, "reader", res.PAR)
	assert.ErrorIs(t, err, common.ErrAuthorisation)

	_, err = e.svc.ConfirmUpload(ctx, ConfirmRequest{
		DriveUID: "d2",
		PARUID:   res.PAR.UID,
		Secret:   res.PAR.Secret,
		Token:    e.token(t, "owner", auth.ConfirmFingerprint(res.PAR.UID)),
	})
	assert.ErrorIs(t, err, common.ErrPAR)

	wrong := *res.PAR
	wrong.Secret = "nope"
	_, err = e.confirm(t, "owner", &wrong)
	assert.ErrorIs(t, err, common.ErrPAR)

	// none of the failures consumed the PAR
	_, err = e.confirm(t, "owner", res.PAR)
	assert.NoError(t, err)
}

func TestUpload_SequentialVersions(t *testing.T) {
	e := newEnv(t)

	first, err := e.upload(t, "owner", handle("a.txt", []byte("first"), true))
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	second, err := e.upload(t, "owner", handle("/a.txt", []byte("second"), true))
	require.NoError(t, err)

	versions, err := e.list(t, "owner", "a.txt")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, first.File.FileUID, versions[0].FileUID)
	assert.False(t, versions[0].Latest)
	assert.Equal(t, second.File.FileUID, versions[1].FileUID)
	assert.True(t, versions[1].Latest)

	latest, err := e.download(t, "owner", "a.txt", "")
	require.NoError(t, err)
	assert.Equal(t, second.File.FileUID, latest.File.FileUID)

	older, err := e.download(t, "owner", "a.txt", first.File.FileUID)
	require.NoError(t, err)
	assert.Equal(t, first.File.FileUID, older.File.FileUID)
	assert.Equal(t, "storage/content/d1/"+first.File.FileUID, older.PAR.TargetKey)
	assert.Contains(t, older.PAR.URL, "method=GET")

	byTime, err := e.download(t, "owner", "a.txt", epoch.Format(time.RFC3339Nano))
	require.NoError(t, err)
	assert.Equal(t, first.File.FileUID, byTime.File.FileUID)

	byStamp, err := e.download(t, "owner", "a.txt", versions[1].Timestamp)
	require.NoError(t, err)
	assert.Equal(t, second.File.FileUID, byStamp.File.FileUID)

	_, err = e.download(t, "owner", "a.txt", "no-such-version")
	assert.ErrorIs(t, err, common.ErrMissingVersion)
}

func TestUpload_SameInstantKeepsBothVersions(t *testing.T) {
	e := newEnv(t)

	// the uid breaks the tie, so half of these land behind the stored latest
	for i := 0; i < 16; i++ {
		name := fmt.Sprintf("tie-%d.txt", i)
		first, err := e.upload(t, "owner", handle(name, []byte("first"), true))
		require.NoError(t, err)
		second, err := e.upload(t, "owner", handle(name, []byte("second"), true))
		require.NoError(t, err)

		versions, err := e.list(t, "owner", name)
		require.NoError(t, err)
		require.Len(t, versions, 2, name)

		for _, uid := range []string{first.File.FileUID, second.File.FileUID} {
			got, err := e.download(t, "owner", name, uid)
			require.NoError(t, err, name)
			assert.Equal(t, uid, got.File.FileUID)
		}
	}
}

func TestConfirm_SameInstantKeepsBothVersions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for i := 0; i < 16; i++ {
		name := fmt.Sprintf("tie-%d.bin", i)
		inline, err := e.upload(t, "owner", handle(name, []byte("inline"), true))
		require.NoError(t, err)

		data := []byte("transferred through a PAR")
		res, err := e.upload(t, "owner", handle(name, data, false))
		require.NoError(t, err)
		require.NoError(t, e.store.Put(ctx, res.PAR.TargetKey, data))
		done, err := e.confirm(t, "owner", res.PAR)
		require.NoError(t, err)

		versions, err := e.list(t, "owner", name)
		require.NoError(t, err)
		require.Len(t, versions, 2, name)

		uids := []string{versions[0].FileUID, versions[1].FileUID}
		assert.ElementsMatch(t, []string{inline.File.FileUID, done.File.FileUID}, uids)
	}
}

func TestDownload_Missing(t *testing.T) {
	e := newEnv(t)
	_, err := e.download(t, "owner", "ghost.txt", "")
	assert.ErrorIs(t, err, common.ErrMissingFile)
}

func TestPermissions(t *testing.T) {
	e := newEnv(t)

	_, err := e.upload(t, "reader", handle("r.txt", []byte("r"), true))
	assert.ErrorIs(t, err, common.ErrPermission)

	h := handle("shared.txt", []byte("shared"), true)
	h.ACL = models.ACLOverrides{"outsider": models.ACLReadOnly, "reader": models.ACLDeny}
	_, err = e.upload(t, "owner", h)
	require.NoError(t, err)

	got, err := e.download(t, "outsider", "shared.txt", "")
	require.NoError(t, err)
	assert.Equal(t, models.ACLReadOnly, got.File.Access)

	_, err = e.download(t, "reader", "shared.txt", "")
	assert.ErrorIs(t, err, common.ErrPermission)

	// the override only covers existing versions, not the drive
	_, err = e.list(t, "outsider", "other.txt")
	assert.ErrorIs(t, err, common.ErrPermission)

	versions, err := e.list(t, "reader", "other.txt")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestDownload_MissReportedOnlyToDriveReaders(t *testing.T) {
	e := newEnv(t)

	h := handle("shared.txt", []byte("shared"), true)
	h.ACL = models.ACLOverrides{"outsider": models.ACLReadOnly}
	_, err := e.upload(t, "owner", h)
	require.NoError(t, err)

	// the override grants the existing version only
	_, err = e.download(t, "outsider", "shared.txt", "")
	require.NoError(t, err)

	_, err = e.download(t, "outsider", "shared.txt", "no-such-version")
	assert.ErrorIs(t, err, common.ErrPermission)
	assert.NotErrorIs(t, err, common.ErrMissingVersion)

	_, err = e.download(t, "outsider", "ghost.txt", "")
	assert.ErrorIs(t, err, common.ErrPermission)
	assert.NotErrorIs(t, err, common.ErrMissingFile)

	_, err = e.download(t, "reader", "shared.txt", "no-such-version")
	assert.ErrorIs(t, err, common.ErrMissingVersion)

	_, err = e.download(t, "reader", "ghost.txt", "")
	assert.ErrorIs(t, err, common.ErrMissingFile)
}

func TestTokenMismatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	data := []byte("abc")

	_, err := e.svc.Upload(ctx, UploadRequest{
		File:  handle("a.txt", data, true),
		Token: e.token(t, "owner", auth.UploadFingerprint("b.txt", filex.Checksum(data))),
	})
	assert.ErrorIs(t, err, common.ErrAuthorisation)

	_, err = e.upload(t, "owner", handle("a.txt", data, true))
	require.NoError(t, err)

	_, err = e.svc.ListVersions(ctx, ListRequest{
		DriveUID: "d1",
		Filename: "a.txt",
		Token:    e.token(t, "owner", auth.DownloadFingerprint("d1", "a.txt", models.Latest)),
	})
	assert.ErrorIs(t, err, common.ErrAuthorisation)

	tok := e.token(t, "owner", auth.DownloadFingerprint("d1", "a.txt", models.Latest))
	e.clock.Advance(time.Hour)
	_, err = e.svc.Download(ctx, DownloadRequest{DriveUID: "d1", Filename: "a.txt", Token: tok})
	assert.ErrorIs(t, err, common.ErrAuthorisation)
}

func TestDownload_SealedSecret(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.upload(t, "owner", handle("s.txt", []byte("secret"), true))
	require.NoError(t, err)

	kp, err := cryptox.GenerateBoxKeyPair()
	require.NoError(t, err)
	res, err := e.svc.Download(ctx, DownloadRequest{
		DriveUID:      "d1",
		Filename:      "s.txt",
		Token:         e.token(t, "owner", auth.DownloadFingerprint("d1", "s.txt", models.Latest)),
		EncryptionKey: cryptox.EncodeBoxKey(kp.Public),
	})
	require.NoError(t, err)
	assert.Empty(t, res.PAR.URL)

	sealed, err := par.OpenSealed(res.PAR, kp)
	require.NoError(t, err)
	assert.Contains(t, sealed.URL, "method=GET")
}

func TestUploadState_String(t *testing.T) {
	assert.Equal(t, "awaiting_transfer", UploadAwaitingTransfer.String())
	assert.Equal(t, "UploadState(42)", UploadState(42).String())
}
