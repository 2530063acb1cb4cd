package sharedvaultusers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/danmarauda/server/internal/common"
	"github.com/danmarauda/server/internal/dbx"
	"github.com/danmarauda/server/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindAllForUser(ctx context.Context, userUUID string) ([]*models.SharedVaultUser, error) {
	query := `SELECT uuid, shared_vault_uuid, user_uuid, permission FROM shared_vault_users WHERE user_uuid = $1`

	rows, err := r.db.QueryContext(ctx, query, userUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to select vault memberships: %w", err)
	}
	defer rows.Close()

	var result []*models.SharedVaultUser
	for rows.Next() {
		var m models.SharedVaultUser
		if err := rows.Scan(&m.UUID, &m.SharedVaultUUID, &m.UserUUID, &m.Permission); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) FindAllForVault(ctx context.Context, sharedVaultUUID string, excludingUserUUID string) ([]*models.SharedVaultUser, error) {
	query := `SELECT uuid, shared_vault_uuid, user_uuid, permission FROM shared_vault_users
		WHERE shared_vault_uuid = $1 AND user_uuid <> $2`

	rows, err := r.db.QueryContext(ctx, query, sharedVaultUUID, excludingUserUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to select vault members: %w", err)
	}
	defer rows.Close()

	var result []*models.SharedVaultUser
	for rows.Next() {
		var m models.SharedVaultUser
		if err := rows.Scan(&m.UUID, &m.SharedVaultUUID, &m.UserUUID, &m.Permission); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) FindByUserAndVault(ctx context.Context, userUUID string, sharedVaultUUID string) (*models.SharedVaultUser, error) {
	query := `SELECT uuid, shared_vault_uuid, user_uuid, permission FROM shared_vault_users
		WHERE user_uuid = $1 AND shared_vault_uuid = $2`

	var m models.SharedVaultUser
	err := r.db.QueryRowContext(ctx, query, userUUID, sharedVaultUUID).
		Scan(&m.UUID, &m.SharedVaultUUID, &m.UserUUID, &m.Permission)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select vault membership: %w", err)
	}
	return &m, nil
}
