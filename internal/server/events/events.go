// Package events defines the domain events emitted by the sync engine and
// the publisher seam downstream consumers plug into.
package events

import "github.com/danmarauda/server/internal/server/models"

// Event names.
const (
	TypeItemRevisionCreationRequested = "ItemRevisionCreationRequested"
	TypeDuplicateItemSynced           = "DuplicateItemSynced"
	TypeTransitionStatusUpdated       = "TransitionStatusUpdated"
)

// Event is implemented by all domain events.
type Event interface {
	EventType() string
}

// ItemRevisionCreationRequested asks the revisions service to snapshot an
// item.
type ItemRevisionCreationRequested struct {
	ItemUUID string `json:"item_uuid"`
	UserUUID string `json:"user_uuid"`
}

func (ItemRevisionCreationRequested) EventType() string { return TypeItemRevisionCreationRequested }

// DuplicateItemSynced reports that a synced item was marked as a duplicate
// of another.
type DuplicateItemSynced struct {
	ItemUUID string `json:"item_uuid"`
	UserUUID string `json:"user_uuid"`
}

func (DuplicateItemSynced) EventType() string { return TypeDuplicateItemSynced }

// TransitionStatusUpdated reports progress of a per-user store migration.
type TransitionStatusUpdated struct {
	UserUUID            string                 `json:"user_uuid"`
	Status              models.TransitionState `json:"status"`
	TransitionType      string                 `json:"transition_type"`
	TransitionTimestamp int64                  `json:"transition_timestamp"`
}

func (TransitionStatusUpdated) EventType() string { return TypeTransitionStatusUpdated }
