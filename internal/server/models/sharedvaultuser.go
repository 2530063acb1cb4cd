package models

// Shared vault permission levels, lowest to highest.
const (
	SharedVaultPermissionRead  = "read"
	SharedVaultPermissionWrite = "write"
	SharedVaultPermissionAdmin = "admin"
)

// A SharedVaultUser is one user's membership in one shared vault.
type SharedVaultUser struct {
	UUID            string `json:"uuid"`
	SharedVaultUUID string `json:"shared_vault_uuid"`
	UserUUID        string `json:"user_uuid"`
	Permission      string `json:"permission"`
}

// CanWrite reports whether the membership allows item writes.
func (u *SharedVaultUser) CanWrite() bool {
	return u.Permission == SharedVaultPermissionWrite || u.Permission == SharedVaultPermissionAdmin
}
