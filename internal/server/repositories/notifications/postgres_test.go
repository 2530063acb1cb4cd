package notifications

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/danmarauda/server/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs("n-1", "u-1", models.NotificationItemRemovedFromSharedVault, "i-1", "v-1", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Notification{
		UUID:               "n-1",
		UserUUID:           "u-1",
		Type:               models.NotificationItemRemovedFromSharedVault,
		ItemUUID:           "i-1",
		SharedVaultUUID:    "v-1",
		CreatedAtTimestamp: 42,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteByUserAndItem(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM notifications WHERE user_uuid = \$1 AND item_uuid = \$2`).
		WithArgs("u-1", "i-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.DeleteByUserAndItem(context.Background(), "u-1", "i-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFindAllForUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"uuid", "user_uuid", "type", "item_uuid", "shared_vault_uuid", "created_at_timestamp"}).
		AddRow("n-2", "u-1", models.NotificationItemRemovedFromSharedVault, "i-2", "v-1", int64(100)).
		AddRow("n-1", "u-1", models.NotificationItemRemovedFromSharedVault, "i-1", "v-1", int64(50))

	mock.ExpectQuery(`SELECT .* FROM notifications WHERE user_uuid = \$1 ORDER BY created_at_timestamp DESC`).
		WithArgs("u-1").
		WillReturnRows(rows)

	result, err := repo.FindAllForUser(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 || result[0].UUID != "n-2" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
