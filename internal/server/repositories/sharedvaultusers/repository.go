// Package sharedvaultusers provides read-only access to vault memberships.
// Vault administration (invites, key agreement) belongs to a separate
// service; the sync core only consults memberships and permissions.
package sharedvaultusers

import (
	"context"

	"github.com/danmarauda/server/internal/server/models"
)

type Repository interface {
	// FindAllForUser returns every vault membership of the user.
	FindAllForUser(ctx context.Context, userUUID string) ([]*models.SharedVaultUser, error)

	// FindAllForVault returns every membership of the vault except the
	// excluded user's. Pass an empty exclusion to list the whole vault.
	FindAllForVault(ctx context.Context, sharedVaultUUID string, excludingUserUUID string) ([]*models.SharedVaultUser, error)

	// FindByUserAndVault returns the user's membership in one vault, or
	// common.ErrNotFound.
	FindByUserAndVault(ctx context.Context, userUUID string, sharedVaultUUID string) (*models.SharedVaultUser, error)
}
