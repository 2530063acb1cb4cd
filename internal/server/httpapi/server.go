// Package httpapi exposes the sync engine over HTTP JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmarauda/server/internal/common"
	"github.com/danmarauda/server/internal/logging"
	"github.com/danmarauda/server/internal/server/auth"
	"github.com/danmarauda/server/internal/server/items"
	"github.com/danmarauda/server/internal/server/models"
)

// NotificationLister is the read side of the user-event service: the
// notifications a user polls to learn which items left their shared vaults.
type NotificationLister interface {
	NotificationsForUser(ctx context.Context, userUUID string) ([]*models.Notification, error)
}

// Server routes sync traffic to the item service.
type Server struct {
	items         *items.Service
	notifications NotificationLister
	secretKey     []byte
	logger        logging.Logger
	ping          func(ctx context.Context) error
}

func NewServer(itemService *items.Service, notifications NotificationLister, secretKey []byte, logger logging.Logger, ping func(ctx context.Context) error) *Server {
	return &Server{
		items:         itemService,
		notifications: notifications,
		secretKey:     secretKey,
		logger:        logger.With("module", "httpapi"),
		ping:          ping,
	}
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/healthz" {
		s.handleHealth(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/v1/items/sync" {
		s.handleSync(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/v1/notifications" {
		s.handleNotifications(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid session token")
		return
	}

	notifications, err := s.notifications.NotificationsForUser(r.Context(), session.UserUUID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if notifications == nil {
		notifications = []*models.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// syncRequest is the wire shape of one sync call: upload changes, then
// retrieve everything newer than the supplied token.
type syncRequest struct {
	SyncToken        string             `json:"sync_token,omitempty"`
	CursorToken      string             `json:"cursor_token,omitempty"`
	Limit            int                `json:"limit,omitempty"`
	ContentType      *string            `json:"content_type,omitempty"`
	SharedVaultUUIDs []string           `json:"shared_vault_uuids,omitempty"`
	Items            []*models.ItemHash `json:"items"`
	APIVersion       string             `json:"api_version"`
	SDKVersion       string             `json:"sdk_version"`
}

type syncResponse struct {
	RetrievedItems []*models.Item         `json:"retrieved_items"`
	SavedItems     []*models.Item         `json:"saved_items"`
	Conflicts      []*models.ItemConflict `json:"conflicts"`
	SyncToken      string                 `json:"sync_token"`
	CursorToken    string                 `json:"cursor_token,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid session token")
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed request body")
		return
	}

	ctx := r.Context()

	saveResult, err := s.items.SaveItems(ctx, items.SaveItemsRequest{
		UserUUID:       session.UserUUID,
		SessionUUID:    sessionUUIDPtr(session),
		APIVersion:     req.APIVersion,
		SDKVersion:     req.SDKVersion,
		ReadOnlyAccess: session.ReadOnly,
		ItemHashes:     req.Items,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	getResult, err := s.items.GetItems(ctx, items.GetItemsRequest{
		UserUUID:         session.UserUUID,
		SyncToken:        req.SyncToken,
		CursorToken:      req.CursorToken,
		Limit:            req.Limit,
		ContentType:      req.ContentType,
		SharedVaultUUIDs: req.SharedVaultUUIDs,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := syncResponse{
		RetrievedItems: getResult.Items,
		SavedItems:     saveResult.SavedItems,
		Conflicts:      saveResult.Conflicts,
		SyncToken:      getResult.SyncToken,
		CursorToken:    getResult.CursorToken,
	}
	// writes move the sync point past everything this batch touched
	if len(req.Items) > 0 {
		resp.SyncToken = saveResult.SyncToken
	}
	if resp.RetrievedItems == nil {
		resp.RetrievedItems = []*models.Item{}
	}
	if resp.SavedItems == nil {
		resp.SavedItems = []*models.Item{}
	}
	if resp.Conflicts == nil {
		resp.Conflicts = []*models.ItemConflict{}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Invalid sync token; resync from scratch")
	case errors.Is(err, common.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Bad request")
	default:
		s.logger.Error(r.Context(), "sync failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error")
	}
}

func (s *Server) sessionFromRequest(r *http.Request) (*auth.Session, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, common.ErrUnauthorized
	}
	return auth.SessionFromToken(token, s.secretKey)
}

func sessionUUIDPtr(session *auth.Session) *string {
	if session.SessionUUID == "" {
		return nil
	}
	v := session.SessionUUID
	return &v
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(common.AccessTokenHeaderName)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}
