// Package access decides what a user may do with a file version: a
// per-version override wins, otherwise the drive rule applies.
package access

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

// DriveACLProvider returns the drive-level rule for a user, ACLInherit when
// the drive has no entry for them.
type DriveACLProvider interface {
	DriveACL(ctx context.Context, driveUID, userGUID string) (models.ACLRule, error)
}

type Resolver struct {
	drives DriveACLProvider
}

func NewResolver(drives DriveACLProvider) *Resolver {
	return &Resolver{drives: drives}
}

// Resolve returns the effective rule of userGUID for the version of record
// picked by sel. A nil record stands for a file that does not exist yet and
// is resolved at drive level only.
func (r *Resolver) Resolve(ctx context.Context, driveUID string, record *models.FileRecord, sel models.VersionSelector, userGUID string) (models.ACLRule, error) {
	if record != nil && !record.IsNull() {
		v, err := record.Version(sel)
		if err != nil {
			return models.ACLDeny, err
		}
		if rule := v.ACL(userGUID); rule != models.ACLInherit {
			return rule, nil
		}
		driveUID = record.DriveUID()
	}

	rule, err := r.drives.DriveACL(ctx, driveUID, userGUID)
	if err != nil {
		return models.ACLDeny, fmt.Errorf("%w: drive acl: %v", common.ErrorInternal, err)
	}
	if rule == models.ACLInherit {
		return models.ACLDeny, nil
	}
	return rule, nil
}

// CanRead resolves and fails with common.ErrPermission unless reading is
// allowed.
func (r *Resolver) CanRead(ctx context.Context, driveUID string, record *models.FileRecord, sel models.VersionSelector, userGUID string) (models.ACLRule, error) {
	rule, err := r.Resolve(ctx, driveUID, record, sel, userGUID)
	if err != nil {
		return rule, err
	}
	if !rule.CanRead() {
		return rule, fmt.Errorf("%w: %s may not read %s", common.ErrPermission, userGUID, driveUID)
	}
	return rule, nil
}

// CanWrite is CanRead for uploads.
func (r *Resolver) CanWrite(ctx context.Context, driveUID string, record *models.FileRecord, sel models.VersionSelector, userGUID string) (models.ACLRule, error) {
	rule, err := r.Resolve(ctx, driveUID, record, sel, userGUID)
	if err != nil {
		return rule, err
	}
	if !rule.CanWrite() {
		return rule, fmt.Errorf("%w: %s may not write %s", common.ErrPermission, userGUID, driveUID)
	}
	return rule, nil
}
