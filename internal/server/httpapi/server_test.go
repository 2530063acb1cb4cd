package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/danmarauda/server/internal/common"
	"github.com/danmarauda/server/internal/logging"
	"github.com/danmarauda/server/internal/server/auth"
	"github.com/danmarauda/server/internal/server/events"
	"github.com/danmarauda/server/internal/server/items"
	"github.com/danmarauda/server/internal/server/models"
	itemsrepo "github.com/danmarauda/server/internal/server/repositories/items"
	"github.com/danmarauda/server/internal/server/synctoken"
	"github.com/danmarauda/server/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("sync-test-secret")

type noVaults struct{}

func (noVaults) FindAllForUser(ctx context.Context, userUUID string) ([]*models.SharedVaultUser, error) {
	return nil, nil
}

func (noVaults) FindByUserAndVault(ctx context.Context, userUUID, sharedVaultUUID string) (*models.SharedVaultUser, error) {
	return nil, common.ErrNotFound
}

func (noVaults) FindAllForVault(ctx context.Context, sharedVaultUUID, excludingUserUUID string) ([]*models.SharedVaultUser, error) {
	return nil, nil
}

type noUserEvents struct{}

func (noUserEvents) RemoveUserEventsAfterItemIsAddedToSharedVault(ctx context.Context, userUUID, itemUUID, sharedVaultUUID string) error {
	return nil
}

func (noUserEvents) CreateItemRemovedFromSharedVaultUserEvent(ctx context.Context, userUUID, itemUUID, sharedVaultUUID string) error {
	return nil
}

// memNotifications is a canned NotificationLister.
type memNotifications struct {
	rows []*models.Notification
}

func (m *memNotifications) NotificationsForUser(ctx context.Context, userUUID string) ([]*models.Notification, error) {
	var result []*models.Notification
	for _, n := range m.rows {
		if n.UserUUID == userUUID {
			result = append(result, n)
		}
	}
	return result, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	return newTestServerWithNotifications(t, &memNotifications{})
}

func newTestServerWithNotifications(t *testing.T, notifications NotificationLister) *httptest.Server {
	t.Helper()

	s := miniredis.RunT(t)
	repo, err := itemsrepo.NewRedisRepository("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	clock := timer.NewMonotonicTimer()
	codec := synctoken.NewCodec(clock)

	service := items.NewService(
		repo,
		noVaults{},
		items.NewTransferCalculator(repo),
		items.NewSaveValidator(noVaults{}, 0),
		codec,
		clock,
		events.NewDispatcher(logger),
		noUserEvents{},
		logger,
		items.ServiceConfig{
			DefaultLimit:          150,
			MaxLimit:              1000,
			ContentTransferBudget: 10_000_000,
			RevisionFrequency:     300 * time.Second,
		},
	)

	server := NewServer(service, notifications, testSecret, logger, func(ctx context.Context) error { return nil })
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func sessionToken(t *testing.T, readOnly bool) string {
	t.Helper()
	token, err := auth.GenerateToken(auth.Session{
		UserUUID:    "u-1",
		SessionUUID: "s-1",
		ReadOnly:    readOnly,
	}, testSecret, time.Minute)
	require.NoError(t, err)
	return token
}

func postSync(t *testing.T, ts *httptest.Server, token string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/items/sync", bytes.NewReader(raw))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeSync(t *testing.T, resp *http.Response) syncResponse {
	t.Helper()
	defer resp.Body.Close()
	var out syncResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSync_RequiresSession(t *testing.T) {
	ts := newTestServer(t)

	resp := postSync(t, ts, "", map[string]any{"items": []any{}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSync_RejectsForeignSignature(t *testing.T) {
	ts := newTestServer(t)

	token, err := auth.GenerateToken(auth.Session{UserUUID: "u-1"}, []byte("wrong"), time.Minute)
	require.NoError(t, err)

	resp := postSync(t, ts, token, map[string]any{"items": []any{}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSync_SaveThenIncrementalSync(t *testing.T) {
	ts := newTestServer(t)
	token := sessionToken(t, false)

	first := postSync(t, ts, token, syncRequest{
		APIVersion: "20240226",
		Items: []*models.ItemHash{{
			UUID:        "note-1",
			Content:     ptr("ciphertext"),
			ContentType: ptr(models.ContentTypeNote),
		}},
	})
	require.Equal(t, http.StatusOK, first.StatusCode)
	firstBody := decodeSync(t, first)

	require.Len(t, firstBody.SavedItems, 1)
	assert.Empty(t, firstBody.Conflicts)
	require.NotEmpty(t, firstBody.SyncToken)
	// the upload itself is the newest change; retrieval with the returned
	// token must come back empty
	second := postSync(t, ts, token, syncRequest{SyncToken: firstBody.SyncToken})
	require.Equal(t, http.StatusOK, second.StatusCode)
	secondBody := decodeSync(t, second)

	assert.Empty(t, secondBody.RetrievedItems)
	assert.Empty(t, secondBody.SavedItems)
}

func TestSync_InitialSyncReturnsSavedItems(t *testing.T) {
	ts := newTestServer(t)
	token := sessionToken(t, false)

	saved := postSync(t, ts, token, syncRequest{
		Items: []*models.ItemHash{{
			UUID:        "note-1",
			Content:     ptr("ciphertext"),
			ContentType: ptr(models.ContentTypeNote),
		}},
	})
	require.Equal(t, http.StatusOK, saved.StatusCode)
	decodeSync(t, saved)

	fresh := postSync(t, ts, token, syncRequest{})
	require.Equal(t, http.StatusOK, fresh.StatusCode)
	freshBody := decodeSync(t, fresh)

	require.Len(t, freshBody.RetrievedItems, 1)
	assert.Equal(t, "note-1", freshBody.RetrievedItems[0].UUID)
}

func TestSync_ReadOnlySessionGetsConflicts(t *testing.T) {
	ts := newTestServer(t)
	token := sessionToken(t, true)

	resp := postSync(t, ts, token, syncRequest{
		Items: []*models.ItemHash{{
			UUID:        "note-1",
			Content:     ptr("c"),
			ContentType: ptr(models.ContentTypeNote),
		}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeSync(t, resp)

	assert.Empty(t, body.SavedItems)
	require.Len(t, body.Conflicts, 1)
	assert.Equal(t, models.ConflictReadOnly, body.Conflicts[0].Type)
}

func TestSync_BadSyncTokenIs400(t *testing.T) {
	ts := newTestServer(t)
	token := sessionToken(t, false)

	resp := postSync(t, ts, token, syncRequest{SyncToken: "not-a-token"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSync_MalformedBodyIs400(t *testing.T) {
	ts := newTestServer(t)
	token := sessionToken(t, false)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/items/sync", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotifications_RequiresSession(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/notifications")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNotifications_ReturnsOwnRowsOnly(t *testing.T) {
	lister := &memNotifications{rows: []*models.Notification{
		{UUID: "n-1", UserUUID: "u-1", Type: models.NotificationItemRemovedFromSharedVault, ItemUUID: "i-1", SharedVaultUUID: "v-1"},
		{UUID: "n-2", UserUUID: "u-2", Type: models.NotificationItemRemovedFromSharedVault, ItemUUID: "i-2", SharedVaultUUID: "v-1"},
	}}
	ts := newTestServerWithNotifications(t, lister)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/notifications", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+sessionToken(t, false))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Notifications []*models.Notification `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, "i-1", body.Notifications[0].ItemUUID)
}

func TestNotifications_EmptyIsAnEmptyList(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/notifications", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+sessionToken(t, false))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Notifications []*models.Notification `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotNil(t, body.Notifications)
	assert.Empty(t, body.Notifications)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthz_FailingPing(t *testing.T) {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	server := NewServer(nil, &memNotifications{}, testSecret, logger, func(ctx context.Context) error {
		return errors.New("db down")
	})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func ptr(s string) *string { return &s }
