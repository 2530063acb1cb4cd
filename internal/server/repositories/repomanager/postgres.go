package repomanager

import (
	"context"
	"database/sql"

	"github.com/danmarauda/server/internal/dbx"
	"github.com/danmarauda/server/internal/server/migrations"
	"github.com/danmarauda/server/internal/server/repositories/items"
	"github.com/danmarauda/server/internal/server/repositories/notifications"
	"github.com/danmarauda/server/internal/server/repositories/sharedvaultusers"
	"github.com/danmarauda/server/internal/server/repositories/transitionstatuses"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository
// implementations and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed
// RepositoryManager.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

// Items returns an items.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Items(db dbx.DBTX) items.Repository {
	return items.NewPostgresRepository(db)
}

// SharedVaultUsers returns a sharedvaultusers.Repository bound to the
// provided DBTX.
func (m *PostgresRepositoryManager) SharedVaultUsers(db dbx.DBTX) sharedvaultusers.Repository {
	return sharedvaultusers.NewPostgresRepository(db)
}

// Notifications returns a notifications.Repository bound to the provided
// DBTX.
func (m *PostgresRepositoryManager) Notifications(db dbx.DBTX) notifications.Repository {
	return notifications.NewPostgresRepository(db)
}

// TransitionStatuses returns a transitionstatuses.Repository bound to the
// provided DBTX.
func (m *PostgresRepositoryManager) TransitionStatuses(db dbx.DBTX) transitionstatuses.Repository {
	return transitionstatuses.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}
