// Package models contains the persistence entities of the sync server.
package models

import "encoding/json"

// Content type values with sync-engine-visible behavior. Any other value is
// carried opaquely.
const (
	ContentTypeNote     = "Note"
	ContentTypeFile     = "File"
	ContentTypeItemsKey = "ItemsKey"
)

// An Item is the unit of sync: an opaque encrypted record owned by a user
// and optionally scoped to a shared vault.
type Item struct {
	UUID                string  `json:"uuid"`
	UserUUID            string  `json:"user_uuid"`
	SharedVaultUUID     *string `json:"shared_vault_uuid,omitempty"`
	KeySystemIdentifier *string `json:"key_system_identifier,omitempty"`
	Content             *string `json:"content"`
	ContentType         *string `json:"content_type"`
	ContentSize         int     `json:"content_size"`
	EncItemKey          *string `json:"enc_item_key,omitempty"`
	AuthHash            *string `json:"auth_hash,omitempty"`
	ItemsKeyID          *string `json:"items_key_id,omitempty"`
	Deleted             bool    `json:"deleted"`
	DuplicateOf         *string `json:"duplicate_of,omitempty"`
	LastEditedByUUID    *string `json:"last_edited_by_uuid,omitempty"`
	UpdatedWithSession  *string `json:"updated_with_session,omitempty"`
	CreatedAtTimestamp  int64   `json:"created_at_timestamp"`
	UpdatedAtTimestamp  int64   `json:"updated_at_timestamp"`
}

// CalculateContentSize returns the byte length of the item's canonical
// serialization: the JSON encoding of its content-bearing fields. Tombstones
// always weigh zero.
func (i *Item) CalculateContentSize() int {
	if i.Deleted {
		return 0
	}
	payload := struct {
		Content    *string `json:"content"`
		EncItemKey *string `json:"enc_item_key"`
		AuthHash   *string `json:"auth_hash"`
		ItemsKeyID *string `json:"items_key_id"`
	}{i.Content, i.EncItemKey, i.AuthHash, i.ItemsKeyID}

	b, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return len(b)
}

// MarkAsDeleted turns the item into a tombstone: content and the crypto
// envelope are cleared and content_size drops to zero.
func (i *Item) MarkAsDeleted() {
	i.Deleted = true
	i.Content = nil
	i.ContentSize = 0
	i.EncItemKey = nil
	i.AuthHash = nil
	i.ItemsKeyID = nil
}

// IsIdenticalTo reports whether two items carry the same synchronized state.
// The comparison covers content, content_type, deleted, the crypto envelope,
// duplicate_of, vault scoping, and updated_at_timestamp. Provenance fields
// and created_at are excluded so that a faithfully copied item compares
// equal to its source.
func (i *Item) IsIdenticalTo(other *Item) bool {
	if other == nil {
		return false
	}
	return i.UpdatedAtTimestamp == other.UpdatedAtTimestamp &&
		i.HasSameStateAs(other)
}

// HasSameStateAs is IsIdenticalTo without the timestamp: it reports whether
// the two items carry the same content-bearing fields.
func (i *Item) HasSameStateAs(other *Item) bool {
	if other == nil {
		return false
	}
	return i.Deleted == other.Deleted &&
		equalPtr(i.Content, other.Content) &&
		equalPtr(i.ContentType, other.ContentType) &&
		equalPtr(i.EncItemKey, other.EncItemKey) &&
		equalPtr(i.AuthHash, other.AuthHash) &&
		equalPtr(i.ItemsKeyID, other.ItemsKeyID) &&
		equalPtr(i.DuplicateOf, other.DuplicateOf) &&
		equalPtr(i.SharedVaultUUID, other.SharedVaultUUID) &&
		equalPtr(i.KeySystemIdentifier, other.KeySystemIdentifier)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
