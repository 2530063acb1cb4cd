package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/danmarauda/server/internal/common"
	"github.com/danmarauda/server/internal/dbx"
	"github.com/danmarauda/server/internal/server/models"
)

// PostgresRepository implements item storage over a dbx.DBTX (*sql.DB or
// *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const itemColumns = `uuid, user_uuid, shared_vault_uuid, key_system_identifier,
	content, content_type, content_size, enc_item_key, auth_hash, items_key_id,
	deleted, duplicate_of, last_edited_by_uuid, updated_with_session,
	created_at_timestamp, updated_at_timestamp`

func scanItem(row interface{ Scan(dest ...any) error }) (*models.Item, error) {
	var item models.Item
	err := row.Scan(
		&item.UUID, &item.UserUUID, &item.SharedVaultUUID, &item.KeySystemIdentifier,
		&item.Content, &item.ContentType, &item.ContentSize, &item.EncItemKey,
		&item.AuthHash, &item.ItemsKeyID, &item.Deleted, &item.DuplicateOf,
		&item.LastEditedByUUID, &item.UpdatedWithSession,
		&item.CreatedAtTimestamp, &item.UpdatedAtTimestamp,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindByUUID returns the user's item or common.ErrNotFound.
func (r *PostgresRepository) FindByUUID(ctx context.Context, userUUID string, uuid string) (*models.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM items WHERE user_uuid = $1 AND uuid = $2`, itemColumns)

	item, err := scanItem(r.db.QueryRowContext(ctx, query, userUUID, uuid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select item: %w", err)
	}
	return item, nil
}

// buildWhere renders the query's filters into a WHERE clause with positional
// placeholders.
func buildWhere(q *Query) (string, []any) {
	var conditions []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	inList := func(column string, values []string) string {
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = arg(v)
		}
		return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))
	}

	switch {
	case len(q.ExclusiveSharedVaultUUIDs) > 0:
		conditions = append(conditions, inList("shared_vault_uuid", q.ExclusiveSharedVaultUUIDs))
	case len(q.IncludeSharedVaultUUIDs) > 0:
		conditions = append(conditions, fmt.Sprintf(
			"((user_uuid = %s AND shared_vault_uuid IS NULL) OR %s)",
			arg(q.UserUUID), inList("shared_vault_uuid", q.IncludeSharedVaultUUIDs)))
	default:
		conditions = append(conditions, fmt.Sprintf("user_uuid = %s", arg(q.UserUUID)))
	}

	if len(q.UUIDs) > 0 {
		conditions = append(conditions, inList("uuid", q.UUIDs))
	}
	if q.ContentType != nil {
		conditions = append(conditions, fmt.Sprintf("content_type = %s", arg(*q.ContentType)))
	}
	if q.Deleted != nil {
		conditions = append(conditions, fmt.Sprintf("deleted = %s", arg(*q.Deleted)))
	}
	if q.LastSyncTime != nil {
		_, _, comparator := q.normalized()
		conditions = append(conditions, fmt.Sprintf("updated_at_timestamp %s %s", comparator, arg(*q.LastSyncTime)))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildTail renders ORDER BY / LIMIT / OFFSET. The uuid tie-break keeps the
// stream order total.
func buildTail(q *Query, args []any) (string, []any) {
	sortBy, sortOrder, _ := q.normalized()
	tail := fmt.Sprintf(" ORDER BY %s %s, uuid %s", sortBy, sortOrder, sortOrder)

	if q.Limit > 0 {
		args = append(args, q.Limit)
		tail += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		tail += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return tail, args
}

// FindAll returns all items matching the query in its requested order.
func (r *PostgresRepository) FindAll(ctx context.Context, q *Query) ([]*models.Item, error) {
	where, args := buildWhere(q)
	tail, args := buildTail(q, args)
	query := fmt.Sprintf(`SELECT %s FROM items %s%s`, itemColumns, where, tail)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	defer rows.Close()

	var result []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// FindContentSizes streams the (uuid, content_size) projection under the
// query's filters and ordering.
func (r *PostgresRepository) FindContentSizes(ctx context.Context, q *Query) ([]ItemContentSize, error) {
	where, args := buildWhere(q)
	tail, args := buildTail(q, args)
	query := fmt.Sprintf(`SELECT uuid, content_size FROM items %s%s`, where, tail)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select content sizes: %w", err)
	}
	defer rows.Close()

	var result []ItemContentSize
	for rows.Next() {
		var p ItemContentSize
		if err := rows.Scan(&p.UUID, &p.ContentSize); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountAll counts matching items, ignoring order, offset and limit.
func (r *PostgresRepository) CountAll(ctx context.Context, q *Query) (int, error) {
	where, args := buildWhere(q)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM items %s`, where)

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

// Save upserts an item by uuid. If a conflicting row exists for another
// user, no row is updated and common.ErrUUIDConflict is returned.
func (r *PostgresRepository) Save(ctx context.Context, item *models.Item) (*models.Item, error) {
	query := `
		INSERT INTO items (uuid, user_uuid, shared_vault_uuid, key_system_identifier,
			content, content_type, content_size, enc_item_key, auth_hash, items_key_id,
			deleted, duplicate_of, last_edited_by_uuid, updated_with_session,
			created_at_timestamp, updated_at_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (uuid)
		DO UPDATE SET
			shared_vault_uuid = EXCLUDED.shared_vault_uuid,
			key_system_identifier = EXCLUDED.key_system_identifier,
			content = EXCLUDED.content,
			content_type = EXCLUDED.content_type,
			content_size = EXCLUDED.content_size,
			enc_item_key = EXCLUDED.enc_item_key,
			auth_hash = EXCLUDED.auth_hash,
			items_key_id = EXCLUDED.items_key_id,
			deleted = EXCLUDED.deleted,
			duplicate_of = EXCLUDED.duplicate_of,
			last_edited_by_uuid = EXCLUDED.last_edited_by_uuid,
			updated_with_session = EXCLUDED.updated_with_session,
			created_at_timestamp = EXCLUDED.created_at_timestamp,
			updated_at_timestamp = EXCLUDED.updated_at_timestamp
			WHERE items.user_uuid = EXCLUDED.user_uuid;
	`
	res, err := r.db.ExecContext(ctx, query,
		item.UUID, item.UserUUID, item.SharedVaultUUID, item.KeySystemIdentifier,
		item.Content, item.ContentType, item.ContentSize, item.EncItemKey,
		item.AuthHash, item.ItemsKeyID, item.Deleted, item.DuplicateOf,
		item.LastEditedByUUID, item.UpdatedWithSession,
		item.CreatedAtTimestamp, item.UpdatedAtTimestamp)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return item, nil
	case 0:
		return nil, common.ErrUUIDConflict
	default:
		return nil, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// RemoveByUUID physically deletes one of the user's items.
func (r *PostgresRepository) RemoveByUUID(ctx context.Context, userUUID string, uuid string) error {
	query := `DELETE FROM items WHERE user_uuid = $1 AND uuid = $2`
	if _, err := r.db.ExecContext(ctx, query, userUUID, uuid); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// DeleteByUserUUIDAndNotInSharedVault bulk-deletes the user's private items.
func (r *PostgresRepository) DeleteByUserUUIDAndNotInSharedVault(ctx context.Context, userUUID string) error {
	query := `DELETE FROM items WHERE user_uuid = $1 AND shared_vault_uuid IS NULL`
	if _, err := r.db.ExecContext(ctx, query, userUUID); err != nil {
		return fmt.Errorf("failed to delete user items: %w", err)
	}
	return nil
}
