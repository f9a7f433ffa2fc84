// Package services contains server-side business logic. StorageService
// coordinates uploads, downloads and version listings over the drive store,
// the PAR manager and the access resolver; DirectoryService owns identities
// and drive-level rules.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/filex"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/access"
	"github.com/dmitrijs2005/gophdrive/internal/server/auth"
	"github.com/dmitrijs2005/gophdrive/internal/server/drivestore"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/objectstore"
	"github.com/dmitrijs2005/gophdrive/internal/server/par"
	"github.com/go-playground/validator/v10"
	"github.com/juju/clock"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var mon = monkit.Package()

// PAR context keys written on upload and read back on confirmation.
const (
	ctxDriveUID = "drive_uid"
	ctxFilename = "filename"
	ctxUploader = "uploader"
	ctxFileUID  = "file_uid"
	ctxACL      = "acl"
)

// UploadState is where an upload stands after a call.
type UploadState int

const (
	UploadRequested UploadState = iota
	UploadInlineAccepted
	UploadAwaitingTransfer
	UploadFinalized
	UploadRejected
)

func (s UploadState) String() string {
	switch s {
	case UploadRequested:
		return "requested"
	case UploadInlineAccepted:
		return "inline_accepted"
	case UploadAwaitingTransfer:
		return "awaiting_transfer"
	case UploadFinalized:
		return "finalized"
	case UploadRejected:
		return "rejected"
	default:
		return fmt.Sprintf("UploadState(%d)", int(s))
	}
}

type UploadRequest struct {
	File          models.FileHandle
	Token         string `validate:"required"`
	EncryptionKey string
}

// UploadResult carries File when the upload is complete and PAR when the
// client still has to transfer the bytes.
type UploadResult struct {
	State UploadState
	File  *models.FileMeta
	PAR   *par.PAR
}

type ConfirmRequest struct {
	DriveUID string `validate:"required"`
	PARUID   string `validate:"required"`
	Secret   string `validate:"required"`
	Token    string `validate:"required"`
}

type DownloadRequest struct {
	DriveUID      string `validate:"required"`
	Filename      string `validate:"required"`
	Version       string
	Token         string `validate:"required"`
	EncryptionKey string
}

type DownloadResult struct {
	PAR  par.PAR
	File models.FileMeta
}

type ListRequest struct {
	DriveUID string `validate:"required"`
	Filename string `validate:"required"`
	Token    string `validate:"required"`
}

// StorageConfig holds the limits the coordinator enforces. MaxFileSize of 0
// means unlimited.
type StorageConfig struct {
	InlineThreshold int64
	MaxFileSize     int64
	PARValidity     time.Duration
}

type StorageService struct {
	drives   *drivestore.DriveStore
	store    objectstore.Store
	keys     objectstore.Keys
	pars     *par.Manager
	access   *access.Resolver
	verifier *auth.Verifier
	clock    clock.Clock
	validate *validator.Validate
	cfg      StorageConfig
	log      logging.Logger
}

func NewStorageService(
	drives *drivestore.DriveStore,
	store objectstore.Store,
	keys objectstore.Keys,
	pars *par.Manager,
	resolver *access.Resolver,
	verifier *auth.Verifier,
	clk clock.Clock,
	cfg StorageConfig,
	log logging.Logger,
) *StorageService {
	return &StorageService{
		drives:   drives,
		store:    store,
		keys:     keys,
		pars:     pars,
		access:   resolver,
		verifier: verifier,
		clock:    clk,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg,
		log:      log.With("module", "storage"),
	}
}

func (s *StorageService) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return nil
}

// Upload stores small content inline, or issues a write PAR for the client
// to transfer the bytes itself and confirm with ConfirmUpload.
func (s *StorageService) Upload(ctx context.Context, req UploadRequest) (_ UploadResult, err error) {
	defer mon.Task()(&ctx)(&err)

	rejected := UploadResult{State: UploadRejected}

	if err := s.check(req); err != nil {
		return rejected, err
	}
	file := req.File
	name, err := models.NormalizeFilename(file.Filename)
	if err != nil {
		return rejected, err
	}

	user, err := s.verifier.Verify(ctx, req.Token, auth.UploadFingerprint(name, file.Checksum))
	if err != nil {
		return rejected, err
	}
	log := s.log.With("drive_uid", file.DriveUID, "filename", name, "user_guid", user)

	record, err := s.loadOptional(ctx, file.DriveUID, name)
	if err != nil {
		return rejected, err
	}
	rule, err := s.access.CanWrite(ctx, file.DriveUID, record, models.Latest, user)
	if err != nil {
		log.Warn(ctx, "upload refused", "error", err)
		return rejected, err
	}

	if file.Content != nil {
		meta, err := s.acceptInline(ctx, file, name, user, record, rule)
		if err != nil {
			return rejected, err
		}
		log.Info(ctx, "inline upload stored", "file_uid", meta.FileUID, "size", meta.Size)
		return UploadResult{State: UploadInlineAccepted, File: &meta}, nil
	}

	if s.cfg.MaxFileSize > 0 && file.Size > s.cfg.MaxFileSize {
		return rejected, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", common.ErrTooLarge, file.Size, s.cfg.MaxFileSize)
	}

	p, err := s.issueWrite(ctx, req, name, user)
	if err != nil {
		return rejected, err
	}
	log.Info(ctx, "upload awaiting transfer", "par_uid", p.UID, "size", file.Size)
	return UploadResult{State: UploadAwaitingTransfer, PAR: &p}, nil
}

func (s *StorageService) acceptInline(ctx context.Context, file models.FileHandle, name, user string, record *models.FileRecord, rule models.ACLRule) (models.FileMeta, error) {
	if int64(len(file.Content)) > s.cfg.InlineThreshold {
		return models.FileMeta{}, fmt.Errorf("%w: %d bytes is above the inline threshold of %d", common.ErrTooLarge, len(file.Content), s.cfg.InlineThreshold)
	}
	if int64(len(file.Content)) != file.Size || filex.Checksum(file.Content) != file.Checksum {
		return models.FileMeta{}, fmt.Errorf("%w: inline content does not match the announced size and checksum", common.ErrIntegrity)
	}

	version, err := models.CreateVersion(file.Size, file.Checksum, user, file.ACL, s.clock.Now())
	if err != nil {
		return models.FileMeta{}, err
	}
	contentKey, err := s.keys.Content(file.DriveUID, version.FileUID())
	if err != nil {
		return models.FileMeta{}, err
	}
	if err := s.store.Put(ctx, contentKey, file.Content); err != nil {
		return models.FileMeta{}, fmt.Errorf("%w: store content: %v", common.ErrorInternal, err)
	}

	record, err = s.addVersion(ctx, record, file.DriveUID, name, version)
	if err != nil {
		return models.FileMeta{}, err
	}
	return models.NewFileMeta(record, version, s.effective(version, user, rule)), nil
}

func (s *StorageService) issueWrite(ctx context.Context, req UploadRequest, name, user string) (par.PAR, error) {
	file := req.File
	version, err := models.CreateVersion(file.Size, file.Checksum, user, file.ACL, s.clock.Now())
	if err != nil {
		return par.PAR{}, err
	}
	contentKey, err := s.keys.Content(file.DriveUID, version.FileUID())
	if err != nil {
		return par.PAR{}, err
	}
	acl, err := json.Marshal(file.ACL)
	if err != nil {
		return par.PAR{}, fmt.Errorf("%w: encode acl: %v", common.ErrorInternal, err)
	}

	return s.pars.Issue(ctx, par.IssueRequest{
		TargetKey: contentKey,
		Mode:      par.ModeWrite,
		TTL:       s.cfg.PARValidity,
		Expect:    &par.Expectation{Size: file.Size, Checksum: file.Checksum},
		Context: map[string]string{
			ctxDriveUID: file.DriveUID,
			ctxFilename: name,
			ctxUploader: user,
			ctxFileUID:  version.FileUID(),
			ctxACL:      string(acl),
		},
		EncryptionKey: req.EncryptionKey,
	})
}

// ConfirmUpload finalises a PAR upload: the PAR is closed, the transferred
// object is checked against what Upload announced, and the new version is
// recorded.
func (s *StorageService) ConfirmUpload(ctx context.Context, req ConfirmRequest) (_ UploadResult, err error) {
	defer mon.Task()(&ctx)(&err)

	rejected := UploadResult{State: UploadRejected}

	if err := s.check(req); err != nil {
		return rejected, err
	}

	rec, err := s.pars.Load(ctx, req.PARUID, req.Secret)
	if err != nil {
		return rejected, err
	}
	if rec.Mode != par.ModeWrite || rec.Context[ctxFileUID] == "" {
		return rejected, fmt.Errorf("%w: PAR %s is not an upload", common.ErrPAR, rec.UID)
	}
	if rec.Context[ctxDriveUID] != req.DriveUID {
		return rejected, fmt.Errorf("%w: PAR %s belongs to another drive", common.ErrPAR, rec.UID)
	}

	user, err := s.verifier.Verify(ctx, req.Token, auth.ConfirmFingerprint(req.PARUID))
	if err != nil {
		return rejected, err
	}
	if user != rec.Context[ctxUploader] {
		return rejected, fmt.Errorf("%w: PAR %s was issued to another user", common.ErrAuthorisation, rec.UID)
	}

	var acl models.ACLOverrides
	if raw := rec.Context[ctxACL]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &acl); err != nil {
			return rejected, fmt.Errorf("%w: decode acl: %v", common.ErrorInternal, err)
		}
	}

	desc, err := s.pars.Close(ctx, req.PARUID, req.Secret)
	if err != nil {
		s.log.Warn(ctx, "upload confirmation failed", "par_uid", req.PARUID, "error", err)
		return rejected, err
	}

	version, err := models.NewVersionEntry(models.VersionParams{
		FileUID:      rec.Context[ctxFileUID],
		Size:         desc.Size,
		Checksum:     desc.Checksum,
		UploaderGUID: user,
		CreatedAt:    s.clock.Now(),
		ACL:          acl,
	})
	if err != nil {
		return rejected, err
	}

	driveUID, name := rec.Context[ctxDriveUID], rec.Context[ctxFilename]
	record, err := s.loadOptional(ctx, driveUID, name)
	if err != nil {
		return rejected, err
	}
	record, err = s.addVersion(ctx, record, driveUID, name, version)
	if err != nil {
		return rejected, err
	}

	rule, err := s.access.Resolve(ctx, driveUID, record, models.Latest, user)
	if err != nil {
		return rejected, err
	}

	s.log.Info(ctx, "upload finalized", "par_uid", req.PARUID, "drive_uid", driveUID, "filename", name, "file_uid", version.FileUID())
	meta := models.NewFileMeta(record, version, rule)
	return UploadResult{State: UploadFinalized, File: &meta}, nil
}

// Download issues a read PAR for one version of a file, the latest unless
// req.Version names another.
func (s *StorageService) Download(ctx context.Context, req DownloadRequest) (_ DownloadResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := s.check(req); err != nil {
		return DownloadResult{}, err
	}
	name, err := models.NormalizeFilename(req.Filename)
	if err != nil {
		return DownloadResult{}, err
	}
	sel := models.ParseVersionSelector(req.Version)

	user, err := s.verifier.Verify(ctx, req.Token, auth.DownloadFingerprint(req.DriveUID, name, sel))
	if err != nil {
		return DownloadResult{}, err
	}

	var record *models.FileRecord
	if sel.IsLatest() {
		record, err = s.drives.Load(ctx, req.DriveUID, name)
	} else {
		record, err = s.drives.LoadWithHistory(ctx, req.DriveUID, name)
	}
	if errors.Is(err, common.ErrMissingFile) {
		return DownloadResult{}, s.concealMissing(ctx, req.DriveUID, user, err)
	}
	if err != nil {
		return DownloadResult{}, err
	}

	version, err := record.Version(sel)
	if err != nil {
		return DownloadResult{}, s.concealMissing(ctx, req.DriveUID, user, err)
	}
	rule, err := s.access.CanRead(ctx, req.DriveUID, record, sel, user)
	if err != nil {
		s.log.Warn(ctx, "download refused", "drive_uid", req.DriveUID, "filename", name, "user_guid", user)
		return DownloadResult{}, err
	}

	contentKey, err := s.keys.Content(req.DriveUID, version.FileUID())
	if err != nil {
		return DownloadResult{}, err
	}
	p, err := s.pars.Issue(ctx, par.IssueRequest{
		TargetKey:     contentKey,
		Mode:          par.ModeRead,
		TTL:           s.cfg.PARValidity,
		Context:       map[string]string{ctxDriveUID: req.DriveUID, ctxFileUID: version.FileUID()},
		EncryptionKey: req.EncryptionKey,
	})
	if err != nil {
		return DownloadResult{}, err
	}

	s.log.Info(ctx, "download issued", "drive_uid", req.DriveUID, "filename", name, "file_uid", version.FileUID(), "par_uid", p.UID)
	return DownloadResult{PAR: p, File: models.NewFileMeta(record, version, rule)}, nil
}

// ListVersions returns the versions of a file oldest first. A file that does
// not exist has no versions, provided the caller may read the drive.
func (s *StorageService) ListVersions(ctx context.Context, req ListRequest) (_ []models.VersionSummary, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := s.check(req); err != nil {
		return nil, err
	}
	name, err := models.NormalizeFilename(req.Filename)
	if err != nil {
		return nil, err
	}

	user, err := s.verifier.Verify(ctx, req.Token, auth.ListFingerprint(req.DriveUID, name))
	if err != nil {
		return nil, err
	}

	record, err := s.drives.LoadWithHistory(ctx, req.DriveUID, name)
	if errors.Is(err, common.ErrMissingFile) {
		record = nil
	} else if err != nil {
		return nil, err
	}

	if _, err := s.access.CanRead(ctx, req.DriveUID, record, models.Latest, user); err != nil {
		return nil, err
	}
	return models.Summaries(record), nil
}

// concealMissing reports a lookup miss only to callers who may read the
// drive, so nobody else learns which files or versions exist.
func (s *StorageService) concealMissing(ctx context.Context, driveUID, user string, miss error) error {
	if _, err := s.access.CanRead(ctx, driveUID, nil, models.Latest, user); err != nil {
		return err
	}
	return miss
}

func (s *StorageService) loadOptional(ctx context.Context, driveUID, name string) (*models.FileRecord, error) {
	record, err := s.drives.Load(ctx, driveUID, name)
	if errors.Is(err, common.ErrMissingFile) {
		return nil, nil
	}
	return record, err
}

func (s *StorageService) addVersion(ctx context.Context, record *models.FileRecord, driveUID, name string, v models.VersionEntry) (*models.FileRecord, error) {
	if record == nil {
		var err error
		record, err = models.NewFileRecord(driveUID, name, v)
		if err != nil {
			return nil, err
		}
	} else if err := record.AddVersion(v); err != nil {
		return nil, err
	}

	if err := s.drives.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// effective is the rule the uploader ends up with on the version just written.
func (s *StorageService) effective(v models.VersionEntry, user string, driveRule models.ACLRule) models.ACLRule {
	if rule := v.ACL(user); rule != models.ACLInherit {
		return rule
	}
	return driveRule
}
