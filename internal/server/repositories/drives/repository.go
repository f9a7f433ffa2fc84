package drives

import (
	"context"

	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

type Repository interface {
	SetRule(ctx context.Context, acl models.DriveACL) error
	GetRule(ctx context.Context, driveUID, userGUID string) (models.ACLRule, error)
	ListRules(ctx context.Context, driveUID string) ([]models.DriveACL, error)
	DeleteRule(ctx context.Context, driveUID, userGUID string) error
}
