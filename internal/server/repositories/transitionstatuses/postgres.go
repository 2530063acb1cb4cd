package transitionstatuses

import (
	"context"
	"database/sql"
	"errors"
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

func (r *PostgresRepository) FindByUserUUID(ctx context.Context, userUUID string) (*models.TransitionStatus, error) {
	query := `SELECT user_uuid, paging_progress, integrity_progress, status, last_error
		FROM transition_statuses WHERE user_uuid = $1`

	var s models.TransitionStatus
	err := r.db.QueryRowContext(ctx, query, userUUID).
		Scan(&s.UserUUID, &s.PagingProgress, &s.IntegrityProgress, &s.Status, &s.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.TransitionStatus{UserUUID: userUUID, Status: models.TransitionNotStarted}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select transition status: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) Save(ctx context.Context, s *models.TransitionStatus) error {
	query := `
		INSERT INTO transition_statuses (user_uuid, paging_progress, integrity_progress, status, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_uuid)
		DO UPDATE SET
			paging_progress = EXCLUDED.paging_progress,
			integrity_progress = EXCLUDED.integrity_progress,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error;
	`
	_, err := r.db.ExecContext(ctx, query,
		s.UserUUID, s.PagingProgress, s.IntegrityProgress, s.Status, s.LastError)
	if err != nil {
		return fmt.Errorf("failed to save transition status: %w", err)
	}
	return nil
}
