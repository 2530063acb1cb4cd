// Package userevents maintains the notifications other vault members see
// when an item's vault membership changes.
package userevents

import (
	"context"
	"fmt"

	"github.com/danmarauda/server/internal/server/models"
	"github.com/danmarauda/server/internal/server/repositories/notifications"
	"github.com/danmarauda/server/internal/timer"
	"github.com/google/uuid"
)

// Service implements the user-event collaborator consumed by the item
// service.
type Service struct {
	notifications notifications.Repository
	clock         timer.Timer
}

func NewService(repo notifications.Repository, clock timer.Timer) *Service {
	return &Service{notifications: repo, clock: clock}
}

// RemoveUserEventsAfterItemIsAddedToSharedVault clears stale notifications
// referencing an item that just (re-)entered a vault.
func (s *Service) RemoveUserEventsAfterItemIsAddedToSharedVault(ctx context.Context, userUUID, itemUUID, sharedVaultUUID string) error {
	if err := s.notifications.DeleteByUserAndItem(ctx, userUUID, itemUUID); err != nil {
		return fmt.Errorf("error removing user events for item %s: %w", itemUUID, err)
	}
	return nil
}

// CreateItemRemovedFromSharedVaultUserEvent records the removal for one
// vault member. The caller invokes it once per remaining member so everyone
// learns an item left their vault; userUUID is the recipient, not the
// writer.
func (s *Service) CreateItemRemovedFromSharedVaultUserEvent(ctx context.Context, userUUID, itemUUID, sharedVaultUUID string) error {
	n := &models.Notification{
		UUID:               uuid.NewString(),
		UserUUID:           userUUID,
		Type:               models.NotificationItemRemovedFromSharedVault,
		ItemUUID:           itemUUID,
		SharedVaultUUID:    sharedVaultUUID,
		CreatedAtTimestamp: s.clock.NowMicroseconds(),
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return fmt.Errorf("error creating removal user event for item %s: %w", itemUUID, err)
	}
	return nil
}

// NotificationsForUser returns the user's pending notifications, newest
// first. This is the read side clients poll to learn which items left their
// shared vaults.
func (s *Service) NotificationsForUser(ctx context.Context, userUUID string) ([]*models.Notification, error) {
	result, err := s.notifications.FindAllForUser(ctx, userUUID)
	if err != nil {
		return nil, fmt.Errorf("error listing user events: %w", err)
	}
	return result, nil
}
