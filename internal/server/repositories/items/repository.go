// Package items provides persistence for sync items: a store-agnostic
// repository contract plus PostgreSQL and Redis implementations.
package items

import (
	"context"

	"github.com/danmarauda/server/internal/server/models"
)

// An ItemContentSize is the (uuid, content_size) projection streamed by the
// transfer calculator.
type ItemContentSize struct {
	UUID        string
	ContentSize int
}

// Repository is the item persistence contract. All methods are scoped to a
// single user unless noted. Implementations must provide read-after-write
// consistency within one user.
type Repository interface {
	// FindByUUID returns the user's item with the given uuid, or
	// common.ErrNotFound.
	FindByUUID(ctx context.Context, userUUID string, uuid string) (*models.Item, error)

	// FindAll returns items matching the query, honoring its filters,
	// ordering, offset and limit.
	FindAll(ctx context.Context, query *Query) ([]*models.Item, error)

	// FindContentSizes streams the (uuid, content_size) projection under
	// the same filters and ordering as FindAll.
	FindContentSizes(ctx context.Context, query *Query) ([]ItemContentSize, error)

	// CountAll counts matching items, ignoring order, offset and limit.
	CountAll(ctx context.Context, query *Query) (int, error)

	// Save upserts an item by uuid and returns the persisted entity. If
	// the uuid already exists under a different owner it returns
	// common.ErrUUIDConflict.
	Save(ctx context.Context, item *models.Item) (*models.Item, error)

	// RemoveByUUID physically deletes one of the user's items.
	RemoveByUUID(ctx context.Context, userUUID string, uuid string) error

	// DeleteByUserUUIDAndNotInSharedVault bulk-deletes the user's private
	// items, leaving shared-vault items in place. Used only by migration
	// cleanup.
	DeleteByUserUUIDAndNotInSharedVault(ctx context.Context, userUUID string) error
}
