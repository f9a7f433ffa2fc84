// Package drives stores drive-level access rules.
package drives

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// SetRule inserts or replaces the rule of one user on one drive. ACLInherit
// is not storable; use DeleteRule to fall back to "no entry".
func (r *PostgresRepository) SetRule(ctx context.Context, acl models.DriveACL) error {
	if acl.Rule == models.ACLInherit {
		return fmt.Errorf("%w: inherit is not a drive rule", common.ErrValidation)
	}

	query :=
		`INSERT INTO drive_acls (drive_uid, user_guid, rule)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (drive_uid, user_guid) DO UPDATE SET rule = EXCLUDED.rule
		 `

	_, err := r.db.ExecContext(ctx, query, acl.DriveUID, acl.UserGUID, acl.Rule.String())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

// GetRule returns ACLInherit when the drive has no entry for the user.
func (r *PostgresRepository) GetRule(ctx context.Context, driveUID, userGUID string) (models.ACLRule, error) {
	query :=
		`SELECT rule FROM drive_acls
		 WHERE drive_uid = $1 AND user_guid = $2
		 `

	var text string
	err := r.db.QueryRowContext(ctx, query, driveUID, userGUID).Scan(&text)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ACLInherit, nil
		}
		return models.ACLDeny, fmt.Errorf("db error: %w", err)
	}

	rule, err := models.ParseACLRule(text)
	if err != nil {
		return models.ACLDeny, fmt.Errorf("db error: %w", err)
	}

	return rule, nil
}

func (r *PostgresRepository) ListRules(ctx context.Context, driveUID string) ([]models.DriveACL, error) {
	query :=
		`SELECT user_guid, rule FROM drive_acls
		 WHERE drive_uid = $1
		 ORDER BY user_guid
		 `

	rows, err := r.db.QueryContext(ctx, query, driveUID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.DriveACL
	for rows.Next() {
		acl := models.DriveACL{DriveUID: driveUID}
		var text string
		if err := rows.Scan(&acl.UserGUID, &text); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if acl.Rule, err = models.ParseACLRule(text); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, acl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) DeleteRule(ctx context.Context, driveUID, userGUID string) error {
	query :=
		`DELETE FROM drive_acls
		 WHERE drive_uid = $1 AND user_guid = $2
		 `

	if _, err := r.db.ExecContext(ctx, query, driveUID, userGUID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
