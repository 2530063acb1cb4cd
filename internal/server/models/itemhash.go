package models

// An ItemHash is the client-upload shape of an item: the diff the client
// proposes. Every field except UUID is optional; omission means "do not
// change". Vault scoping fields use OptionalString because an explicit null
// (leave the vault) must be told apart from omission.
type ItemHash struct {
	UUID                string         `json:"uuid"`
	Content             *string        `json:"content,omitempty"`
	ContentType         *string        `json:"content_type,omitempty"`
	EncItemKey          *string        `json:"enc_item_key,omitempty"`
	AuthHash            *string        `json:"auth_hash,omitempty"`
	ItemsKeyID          *string        `json:"items_key_id,omitempty"`
	Deleted             *bool          `json:"deleted,omitempty"`
	DuplicateOf         *string        `json:"duplicate_of,omitempty"`
	SharedVaultUUID     OptionalString `json:"shared_vault_uuid,omitzero"`
	KeySystemIdentifier OptionalString `json:"key_system_identifier,omitzero"`
	LastEditedByUUID    *string        `json:"last_edited_by_uuid,omitempty"`
	CreatedAtTimestamp  *int64         `json:"created_at_timestamp,omitempty"`
	UpdatedAtTimestamp  *int64         `json:"updated_at_timestamp,omitempty"`
}

// RepresentsState reports whether applying the hash to item would be a
// no-op: every field the hash carries already matches the stored item. Used
// to recognize re-sent, already-applied changes.
func (h *ItemHash) RepresentsState(item *Item) bool {
	if item == nil {
		return false
	}
	if h.Deleted != nil && *h.Deleted != item.Deleted {
		return false
	}
	// A tombstone stores no content, so content fields of a deleted hash
	// are not compared.
	if h.Deleted == nil || !*h.Deleted {
		if h.Content != nil && !equalPtr(h.Content, item.Content) {
			return false
		}
		if h.EncItemKey != nil && !equalPtr(h.EncItemKey, item.EncItemKey) {
			return false
		}
		if h.AuthHash != nil && !equalPtr(h.AuthHash, item.AuthHash) {
			return false
		}
		if h.ItemsKeyID != nil && !equalPtr(h.ItemsKeyID, item.ItemsKeyID) {
			return false
		}
	}
	if h.ContentType != nil && !equalPtr(h.ContentType, item.ContentType) {
		return false
	}
	if h.DuplicateOf != nil && !equalPtr(h.DuplicateOf, item.DuplicateOf) {
		return false
	}
	if h.SharedVaultUUID.Set && !equalPtr(h.SharedVaultUUID.Value, item.SharedVaultUUID) {
		return false
	}
	if h.KeySystemIdentifier.Set && !equalPtr(h.KeySystemIdentifier.Value, item.KeySystemIdentifier) {
		return false
	}
	return true
}
