// Package auth parses and verifies the session tokens presented to the sync
// endpoint. Token issuance belongs to the auth service; this package only
// validates.
package auth

import (
	"errors"
	"time"

	"github.com/danmarauda/server/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the session data the sync engine needs: the user, the
// session, and whether the session is restricted to reads.
type Claims struct {
	jwt.RegisteredClaims
	UserUUID    string `json:"user_uuid"`
	SessionUUID string `json:"session_uuid"`
	ReadOnly    bool   `json:"read_only"`
}

// Session is the verified identity attached to a request.
type Session struct {
	UserUUID    string
	SessionUUID string
	ReadOnly    bool
}

// GenerateToken signs a session token. Used by tests and local tooling; the
// production issuer lives in the auth service.
func GenerateToken(session Session, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserUUID:    session.UserUUID,
		SessionUUID: session.SessionUUID,
		ReadOnly:    session.ReadOnly,
	})

	return token.SignedString(secretKey)
}

// SessionFromToken verifies the token signature and expiry and extracts the
// session.
func SessionFromToken(tokenString string, secretKey []byte) (*Session, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.UserUUID == "" {
		return nil, common.ErrInvalidToken
	}

	return &Session{
		UserUUID:    claims.UserUUID,
		SessionUUID: claims.SessionUUID,
		ReadOnly:    claims.ReadOnly,
	}, nil
}
