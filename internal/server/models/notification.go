package models

// Notification types emitted by the user-event service.
const (
	NotificationItemRemovedFromSharedVault = "item_removed_from_shared_vault"
)

// A Notification is a persisted user event delivered to vault members out of
// band of the item stream.
type Notification struct {
	UUID               string `json:"uuid"`
	UserUUID           string `json:"user_uuid"`
	Type               string `json:"type"`
	ItemUUID           string `json:"item_uuid"`
	SharedVaultUUID    string `json:"shared_vault_uuid"`
	CreatedAtTimestamp int64  `json:"created_at_timestamp"`
}
