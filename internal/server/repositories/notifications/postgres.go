package notifications

import (
	"context"
	"fmt"

	"github.com/danmarauda/server/internal/dbx"
	"github.com/danmarauda/server/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (uuid, user_uuid, type, item_uuid, shared_vault_uuid, created_at_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.UUID, n.UserUUID, n.Type, n.ItemUUID, n.SharedVaultUUID, n.CreatedAtTimestamp)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteByUserAndItem(ctx context.Context, userUUID string, itemUUID string) error {
	query := `DELETE FROM notifications WHERE user_uuid = $1 AND item_uuid = $2`
	if _, err := r.db.ExecContext(ctx, query, userUUID, itemUUID); err != nil {
		return fmt.Errorf("failed to delete notifications: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindAllForUser(ctx context.Context, userUUID string) ([]*models.Notification, error) {
	query := `SELECT uuid, user_uuid, type, item_uuid, shared_vault_uuid, created_at_timestamp
		FROM notifications WHERE user_uuid = $1 ORDER BY created_at_timestamp DESC`

	rows, err := r.db.QueryContext(ctx, query, userUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to select notifications: %w", err)
	}
	defer rows.Close()

	var result []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.UUID, &n.UserUUID, &n.Type, &n.ItemUUID, &n.SharedVaultUUID, &n.CreatedAtTimestamp); err != nil {
			return nil, err
		}
		result = append(result, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
