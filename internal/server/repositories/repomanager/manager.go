// Package repomanager vends repository implementations over a shared
// database handle and owns schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/danmarauda/server/internal/dbx"
	"github.com/danmarauda/server/internal/server/repositories/items"
	"github.com/danmarauda/server/internal/server/repositories/notifications"
	"github.com/danmarauda/server/internal/server/repositories/sharedvaultusers"
	"github.com/danmarauda/server/internal/server/repositories/transitionstatuses"
)

// RepositoryManager constructs repositories bound to a DBTX, so services can
// run several repository calls inside one transaction.
type RepositoryManager interface {
	Items(db dbx.DBTX) items.Repository
	SharedVaultUsers(db dbx.DBTX) sharedvaultusers.Repository
	Notifications(db dbx.DBTX) notifications.Repository
	TransitionStatuses(db dbx.DBTX) transitionstatuses.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
