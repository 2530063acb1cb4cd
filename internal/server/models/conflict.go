package models

// ConflictType classifies why an uploaded item hash could not be applied.
type ConflictType string

const (
	ConflictUUID                  ConflictType = "uuid_conflict"
	ConflictSync                  ConflictType = "sync_conflict"
	ConflictContentType           ConflictType = "content_type_error"
	ConflictReadOnly              ConflictType = "readonly_error"
	ConflictSharedVaultPermission ConflictType = "shared_vault_permission_error"
)

// An ItemConflict pairs the rejected upload with the server's copy (when one
// exists) and the conflict classification.
type ItemConflict struct {
	UnsavedItem ItemHash     `json:"unsaved_item"`
	ServerItem  *Item        `json:"server_item,omitempty"`
	Type        ConflictType `json:"type"`
}
