// Package transitionstatuses stores per-user progress of dual-database
// migrations so interrupted runs can resume.
package transitionstatuses

import (
	"context"

	"github.com/danmarauda/server/internal/server/models"
)

type Repository interface {
	// FindByUserUUID returns the user's status record. A user with no
	// record gets a fresh NotStarted status, not an error.
	FindByUserUUID(ctx context.Context, userUUID string) (*models.TransitionStatus, error)

	// Save upserts the status record by user uuid.
	Save(ctx context.Context, status *models.TransitionStatus) error
}
