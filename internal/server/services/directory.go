package services

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/cryptox"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// DirectoryService keeps users and their drive-level rules. It backs token
// verification (public keys) and access resolution (drive ACLs).
type DirectoryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
}

func NewDirectoryService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *DirectoryService {
	return &DirectoryService{db: db, repomanager: m, log: log.With("module", "directory")}
}

// RegisterUser stores a new identity for an ed25519 public key and returns it
// with its freshly assigned GUID.
func (s *DirectoryService) RegisterUser(ctx context.Context, publicKey []byte) (_ *models.User, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := cryptox.ParseSigningPublicKey(publicKey); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	repo := s.repomanager.Users(s.db)
	u, err := repo.Create(ctx, &models.User{GUID: uuid.NewString(), PublicKey: publicKey})
	if err != nil {
		return nil, fmt.Errorf("%w: error creating user: %v", common.ErrorInternal, err)
	}
	s.log.Info(ctx, "user registered", "user_guid", u.GUID)
	return u, nil
}

// CreateDrive allocates a drive and makes ownerGUID its owner.
func (s *DirectoryService) CreateDrive(ctx context.Context, ownerGUID string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	driveUID := uuid.NewString()
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Users(tx).GetPublicKey(ctx, ownerGUID); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("%w: unknown user %s", common.ErrValidation, ownerGUID)
			}
			return fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}
		acl := models.DriveACL{DriveUID: driveUID, UserGUID: ownerGUID, Rule: models.ACLOwner}
		if err := s.repomanager.Drives(tx).SetRule(ctx, acl); err != nil {
			return fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.log.Info(ctx, "drive created", "drive_uid", driveUID, "owner", ownerGUID)
	return driveUID, nil
}

// SetRule sets the drive-level rule of a user. ACLInherit removes the entry.
func (s *DirectoryService) SetRule(ctx context.Context, acl models.DriveACL) (err error) {
	defer mon.Task()(&ctx)(&err)

	repo := s.repomanager.Drives(s.db)
	if acl.Rule == models.ACLInherit {
		err = repo.DeleteRule(ctx, acl.DriveUID, acl.UserGUID)
	} else {
		err = repo.SetRule(ctx, acl)
	}
	if err != nil {
		if errors.Is(err, common.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	return nil
}

// Rules lists the drive-level rules of a drive.
func (s *DirectoryService) Rules(ctx context.Context, driveUID string) ([]models.DriveACL, error) {
	rules, err := s.repomanager.Drives(s.db).ListRules(ctx, driveUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	return rules, nil
}

// PublicKey returns the signing key registered for userGUID.
func (s *DirectoryService) PublicKey(ctx context.Context, userGUID string) (ed25519.PublicKey, error) {
	raw, err := s.repomanager.Users(s.db).GetPublicKey(ctx, userGUID)
	if err != nil {
		return nil, err
	}
	return cryptox.ParseSigningPublicKey(raw)
}

// DriveACL returns the drive-level rule of userGUID.
func (s *DirectoryService) DriveACL(ctx context.Context, driveUID, userGUID string) (models.ACLRule, error) {
	return s.repomanager.Drives(s.db).GetRule(ctx, driveUID, userGUID)
}
