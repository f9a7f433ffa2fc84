// Package drive is the client side of the storage protocol. It signs an
// authorisation token for every request, sends small files inline and moves
// larger ones through the PAR URL the service hands out.
package drive

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/cryptox"
	"github.com/dmitrijs2005/gophdrive/internal/filex"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/netx"
	"github.com/dmitrijs2005/gophdrive/internal/server/auth"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/par"
	"github.com/dmitrijs2005/gophdrive/internal/server/services"
	"github.com/juju/clock"
)

// Service is what the client needs from the storage service.
type Service interface {
	Upload(ctx context.Context, req services.UploadRequest) (services.UploadResult, error)
	ConfirmUpload(ctx context.Context, req services.ConfirmRequest) (services.UploadResult, error)
	Download(ctx context.Context, req services.DownloadRequest) (services.DownloadResult, error)
	ListVersions(ctx context.Context, req services.ListRequest) ([]models.VersionSummary, error)
}

// Identity is the user the client acts for.
type Identity struct {
	GUID       string
	SigningKey ed25519.PrivateKey
}

type Options struct {
	InlineThreshold int64
	TokenValidity   time.Duration
}

type Client struct {
	svc     Service
	id      Identity
	session *cryptox.BoxKeyPair
	clock   clock.Clock
	opts    Options
	log     logging.Logger
}

// New creates a client with a fresh session key pair, which the service
// seals PAR secrets to.
func New(svc Service, id Identity, clk clock.Clock, opts Options, log logging.Logger) (*Client, error) {
	session, err := cryptox.GenerateBoxKeyPair()
	if err != nil {
		return nil, fmt.Errorf("session key: %w", err)
	}
	if opts.TokenValidity <= 0 {
		opts.TokenValidity = time.Minute
	}
	return &Client{svc: svc, id: id, session: session, clock: clk, opts: opts, log: log.With("module", "drive_client")}, nil
}

func (c *Client) token(fingerprint string) (string, error) {
	return auth.NewToken(c.id.GUID, fingerprint, c.id.SigningKey, c.clock.Now(), c.opts.TokenValidity)
}

func (c *Client) sessionKey() string {
	return cryptox.EncodeBoxKey(c.session.Public)
}

// Upload stores the file at localPath as remoteName on the drive.
func (c *Client) Upload(ctx context.Context, localPath, driveUID, remoteName string, acl models.ACLOverrides) (*models.FileMeta, error) {
	size, checksum, err := filex.SizeAndChecksum(localPath)
	if err != nil {
		return nil, err
	}
	name, err := models.NormalizeFilename(remoteName)
	if err != nil {
		return nil, err
	}

	tok, err := c.token(auth.UploadFingerprint(name, checksum))
	if err != nil {
		return nil, err
	}
	req := services.UploadRequest{
		File:  models.FileHandle{DriveUID: driveUID, Filename: name, Size: size, Checksum: checksum, ACL: acl},
		Token: tok,
	}
	if size <= c.opts.InlineThreshold {
		data, err := os.ReadFile(localPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", localPath, err)
		}
		if int64(len(data)) != size {
			return nil, fmt.Errorf("%w: %s changed while uploading", common.ErrIntegrity, localPath)
		}
		req.File.Content = data
	} else {
		req.EncryptionKey = c.sessionKey()
	}

	res, err := c.svc.Upload(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.State == services.UploadInlineAccepted {
		return res.File, nil
	}
	if res.State != services.UploadAwaitingTransfer || res.PAR == nil {
		return nil, fmt.Errorf("unexpected upload state %s", res.State)
	}

	sealed, err := par.OpenSealed(*res.PAR, c.session)
	if err != nil {
		return nil, err
	}
	c.log.Debug(ctx, "transferring through PAR", "par_uid", res.PAR.UID, "size", size)
	if err := c.transfer(ctx, sealed.URL, localPath, size, checksum); err != nil {
		return nil, err
	}

	tok, err = c.token(auth.ConfirmFingerprint(res.PAR.UID))
	if err != nil {
		return nil, err
	}
	done, err := c.svc.ConfirmUpload(ctx, services.ConfirmRequest{
		DriveUID: driveUID,
		PARUID:   res.PAR.UID,
		Secret:   sealed.Secret,
		Token:    tok,
	})
	if err != nil {
		return nil, err
	}
	return done.File, nil
}

// transfer streams the file at localPath to a presigned URL.
func (c *Client) transfer(ctx context.Context, url, localPath string, size int64, checksum string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	if err := netx.UploadToPresignedURL(ctx, url, f, size, checksum); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	return nil
}

// Download streams a version of remoteName, the latest when version is
// empty, into w and checks it against the recorded checksum. On
// common.ErrIntegrity the bytes already written to w must be discarded.
func (c *Client) Download(ctx context.Context, driveUID, remoteName, version string, w io.Writer) (*models.FileMeta, error) {
	name, err := models.NormalizeFilename(remoteName)
	if err != nil {
		return nil, err
	}
	sel := models.ParseVersionSelector(version)
	tok, err := c.token(auth.DownloadFingerprint(driveUID, name, sel))
	if err != nil {
		return nil, err
	}

	res, err := c.svc.Download(ctx, services.DownloadRequest{
		DriveUID:      driveUID,
		Filename:      name,
		Version:       version,
		Token:         tok,
		EncryptionKey: c.sessionKey(),
	})
	if err != nil {
		return nil, err
	}

	sealed, err := par.OpenSealed(res.PAR, c.session)
	if err != nil {
		return nil, err
	}
	sum := filex.NewChecksumWriter()
	if _, err := netx.DownloadFromPresignedURL(ctx, sealed.URL, io.MultiWriter(w, sum)); err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	if sum.Size() != res.File.Size || sum.Checksum() != res.File.Checksum {
		return nil, fmt.Errorf("%w: downloaded %s does not match its checksum", common.ErrIntegrity, name)
	}
	return &res.File, nil
}

// DownloadFile is Download into localPath. The file only appears once its
// content has been verified.
func (c *Client) DownloadFile(ctx context.Context, driveUID, remoteName, version, localPath string) (_ *models.FileMeta, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	meta, err := c.Download(ctx, driveUID, remoteName, version, tmp)
	if err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return nil, fmt.Errorf("rename to %s: %w", localPath, err)
	}
	return meta, nil
}

func (c *Client) ListVersions(ctx context.Context, driveUID, remoteName string) ([]models.VersionSummary, error) {
	name, err := models.NormalizeFilename(remoteName)
	if err != nil {
		return nil, err
	}
	tok, err := c.token(auth.ListFingerprint(driveUID, name))
	if err != nil {
		return nil, err
	}
	return c.svc.ListVersions(ctx, services.ListRequest{DriveUID: driveUID, Filename: name, Token: tok})
}
