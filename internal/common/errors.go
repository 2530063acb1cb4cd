// Package common defines shared constants and sentinel errors used across
// the sync server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrUUIDConflict is returned when an insert collides with an item
	// that already exists under a different owner.
	ErrUUIDConflict = errors.New("uuid conflict")

	// ErrTransient marks failures the caller may safely retry.
	ErrTransient = errors.New("transient error")

	// Service-level errors.
	ErrInternal        = errors.New("internal error")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrBadRequest      = errors.New("bad request")
	ErrReadOnlySession = errors.New("read-only session")

	// Token errors (sync tokens and session tokens alike).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
