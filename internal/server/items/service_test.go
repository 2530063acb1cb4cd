package items

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/danmarauda/server/internal/logging"
	"github.com/danmarauda/server/internal/server/events"
	"github.com/danmarauda/server/internal/server/models"
	itemsrepo "github.com/danmarauda/server/internal/server/repositories/items"
	"github.com/danmarauda/server/internal/server/synctoken"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a controllable microsecond clock; every read ticks one
// microsecond so timestamps stay strictly increasing.
type testClock struct {
	now int64
}

func (c *testClock) NowMicroseconds() int64 {
	c.now++
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.now += d.Microseconds()
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) {}

func (c *testClock) StringDateToMicroseconds(date string) (int64, error) {
	parsed, err := time.Parse(time.RFC3339Nano, date)
	if err != nil {
		return 0, err
	}
	return parsed.UnixMicro(), nil
}

func (c *testClock) MicrosecondsToDate(ts int64) time.Time {
	return time.UnixMicro(ts).UTC()
}

type recordingPublisher struct {
	published []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.published = append(p.published, e)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []events.Event {
	var result []events.Event
	for _, e := range p.published {
		if e.EventType() == eventType {
			result = append(result, e)
		}
	}
	return result
}

type userEventCall struct {
	UserUUID, ItemUUID, SharedVaultUUID string
}

type recordingUserEvents struct {
	removed []userEventCall
	created []userEventCall
}

func (r *recordingUserEvents) RemoveUserEventsAfterItemIsAddedToSharedVault(ctx context.Context, userUUID, itemUUID, sharedVaultUUID string) error {
	r.removed = append(r.removed, userEventCall{userUUID, itemUUID, sharedVaultUUID})
	return nil
}

func (r *recordingUserEvents) CreateItemRemovedFromSharedVaultUserEvent(ctx context.Context, userUUID, itemUUID, sharedVaultUUID string) error {
	r.created = append(r.created, userEventCall{userUUID, itemUUID, sharedVaultUUID})
	return nil
}

type testEnv struct {
	svc        *Service
	repo       itemsrepo.Repository
	clock      *testClock
	codec      *synctoken.Codec
	publisher  *recordingPublisher
	userEvents *recordingUserEvents
	vaultUsers *fakeVaultUsers
}

func newTestEnv(t *testing.T, cfg ServiceConfig) *testEnv {
	t.Helper()

	s := miniredis.RunT(t)
	repo, err := itemsrepo.NewRedisRepository("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	clock := &testClock{now: 1_000_000}
	codec := synctoken.NewCodec(clock)
	publisher := &recordingPublisher{}
	userEvents := &recordingUserEvents{}
	vaultUsers := newFakeVaultUsers()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = 150
	}
	if cfg.MaxLimit == 0 {
		cfg.MaxLimit = 1000
	}
	if cfg.ContentTransferBudget == 0 {
		cfg.ContentTransferBudget = 10_000_000
	}
	if cfg.RevisionFrequency == 0 {
		cfg.RevisionFrequency = 300 * time.Second
	}

	svc := NewService(
		repo,
		vaultUsers,
		NewTransferCalculator(repo),
		NewSaveValidator(vaultUsers, 0),
		codec,
		clock,
		publisher,
		userEvents,
		logger,
		cfg,
	)

	return &testEnv{
		svc:        svc,
		repo:       repo,
		clock:      clock,
		codec:      codec,
		publisher:  publisher,
		userEvents: userEvents,
		vaultUsers: vaultUsers,
	}
}

func (e *testEnv) seed(t *testing.T, item *models.Item) *models.Item {
	t.Helper()
	saved, err := e.repo.Save(context.Background(), item)
	require.NoError(t, err)
	return saved
}

func seededNote(uuid string, updatedAt int64, size int) *models.Item {
	content := "ciphertext-" + uuid
	return &models.Item{
		UUID:               uuid,
		UserUUID:           "u-1",
		Content:            &content,
		ContentType:        strptr(models.ContentTypeNote),
		ContentSize:        size,
		CreatedAtTimestamp: updatedAt - 1,
		UpdatedAtTimestamp: updatedAt,
	}
}

func TestGetItems_InitialSyncHidesTombstones(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	a := env.seed(t, seededNote("item-a", 500, 10))
	tombstone := seededNote("item-b", 600, 0)
	tombstone.MarkAsDeleted()
	env.seed(t, tombstone)

	result, err := env.svc.GetItems(ctx, GetItemsRequest{UserUUID: "u-1", Limit: 10})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, "item-a", result.Items[0].UUID)
	assert.Empty(t, result.CursorToken)

	decoded, err := env.codec.Decode(result.SyncToken)
	require.NoError(t, err)
	assert.Equal(t, a.UpdatedAtTimestamp+1, decoded)
}

func TestGetItems_IncrementalSyncDeliversTombstones(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	env.seed(t, seededNote("item-a", 500, 10))
	tombstone := seededNote("item-b", 600, 0)
	tombstone.MarkAsDeleted()
	env.seed(t, tombstone)

	result, err := env.svc.GetItems(ctx, GetItemsRequest{
		UserUUID:  "u-1",
		SyncToken: env.codec.Encode(550),
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, "item-b", result.Items[0].UUID)
	assert.True(t, result.Items[0].Deleted)
}

func TestGetItems_PaginationUnderTransferBudget(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{ContentTransferBudget: 100})
	ctx := context.Background()

	env.seed(t, seededNote("item-a", 100, 60))
	env.seed(t, seededNote("item-b", 200, 60))
	env.seed(t, seededNote("item-c", 300, 10))

	// page 1: A alone exhausts the budget
	start := env.codec.Encode(50)
	page1, err := env.svc.GetItems(ctx, GetItemsRequest{UserUUID: "u-1", SyncToken: start})
	require.NoError(t, err)
	require.Len(t, page1.Items, 1)
	assert.Equal(t, "item-a", page1.Items[0].UUID)
	require.NotEmpty(t, page1.CursorToken)

	cursorTs, err := env.codec.Decode(page1.CursorToken)
	require.NoError(t, err)
	assert.Equal(t, int64(100), cursorTs)

	// page 2: B and C fit together, stream is exhausted, sync token closes
	page2, err := env.svc.GetItems(ctx, GetItemsRequest{UserUUID: "u-1", CursorToken: page1.CursorToken})
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)
	assert.Equal(t, "item-b", page2.Items[0].UUID)
	assert.Equal(t, "item-c", page2.Items[1].UUID)
	assert.Empty(t, page2.CursorToken)

	decoded, err := env.codec.Decode(page2.SyncToken)
	require.NoError(t, err)
	assert.Equal(t, int64(301), decoded)
}

func TestGetItems_LimitPaginationEmitsCursor(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		env.seed(t, seededNote("item-"+string(rune('a'+i-1)), int64(i*100), 10))
	}

	page1, err := env.svc.GetItems(ctx, GetItemsRequest{
		UserUUID:  "u-1",
		SyncToken: env.codec.Encode(50),
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, page1.Items, 2)
	require.NotEmpty(t, page1.CursorToken)

	page2, err := env.svc.GetItems(ctx, GetItemsRequest{
		UserUUID:    "u-1",
		CursorToken: page1.CursorToken,
		Limit:       2,
	})
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)
	assert.Equal(t, "item-c", page2.Items[0].UUID)
	assert.Equal(t, "item-d", page2.Items[1].UUID)
}

func TestGetItems_NoChangesReEmitsInputToken(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	env.seed(t, seededNote("item-a", 100, 10))

	token := env.codec.Encode(500)
	result, err := env.svc.GetItems(ctx, GetItemsRequest{UserUUID: "u-1", SyncToken: token})
	require.NoError(t, err)

	assert.Empty(t, result.Items)
	decoded, err := env.codec.Decode(result.SyncToken)
	require.NoError(t, err)
	assert.Equal(t, int64(500), decoded)
}

func TestGetItems_BadTokenSurfaces(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})

	_, err := env.svc.GetItems(context.Background(), GetItemsRequest{UserUUID: "u-1", SyncToken: "garbage"})
	assert.Error(t, err)
}

func TestGetItems_InitialSyncFrontLoadsItemsKeys(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	env.seed(t, seededNote("note-1", 100, 10))
	key := seededNote("key-1", 200, 10)
	key.ContentType = strptr(models.ContentTypeItemsKey)
	env.seed(t, key)

	result, err := env.svc.GetItems(ctx, GetItemsRequest{UserUUID: "u-1", Limit: 1})
	require.NoError(t, err)

	require.NotEmpty(t, result.Items)
	assert.Equal(t, "key-1", result.Items[0].UUID)
	assert.NotEmpty(t, result.CursorToken)
}

func TestGetItems_VaultScopingRespectsMembership(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	env.vaultUsers.grant("u-1", "v-1", models.SharedVaultPermissionRead)

	inVault := seededNote("vault-item", 100, 10)
	inVault.SharedVaultUUID = strptr("v-1")
	env.seed(t, inVault)
	env.seed(t, seededNote("own-item", 200, 10))

	// memberships scope the read to private items plus member vaults
	result, err := env.svc.GetItems(ctx, GetItemsRequest{UserUUID: "u-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)

	// the requested vault list is intersected with memberships
	result, err = env.svc.GetItems(ctx, GetItemsRequest{
		UserUUID:         "u-1",
		Limit:            10,
		SharedVaultUUIDs: []string{"v-1", "v-unknown"},
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "vault-item", result.Items[0].UUID)
}

func TestSaveItems_CreatePersistsAndEmitsRevision(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	result, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID: "u-1",
		ItemHashes: []*models.ItemHash{{
			UUID:        "note-1",
			Content:     strptr("ciphertext"),
			ContentType: strptr(models.ContentTypeNote),
		}},
	})
	require.NoError(t, err)

	require.Len(t, result.SavedItems, 1)
	assert.Empty(t, result.Conflicts)
	saved := result.SavedItems[0]
	assert.Greater(t, saved.ContentSize, 0)
	assert.Equal(t, saved.CreatedAtTimestamp, saved.UpdatedAtTimestamp)

	stored, err := env.repo.FindByUUID(ctx, "u-1", "note-1")
	require.NoError(t, err)
	assert.True(t, stored.IsIdenticalTo(saved))

	revisions := env.publisher.ofType(events.TypeItemRevisionCreationRequested)
	require.Len(t, revisions, 1)

	decoded, err := env.codec.Decode(result.SyncToken)
	require.NoError(t, err)
	assert.Greater(t, decoded, saved.UpdatedAtTimestamp)
}

func TestSaveItems_StaleWriteConflicts(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	existing := env.seed(t, seededNote("note-1", 1000, 10))

	result, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID: "u-1",
		ItemHashes: []*models.ItemHash{{
			UUID:               "note-1",
			Content:            strptr("newer"),
			UpdatedAtTimestamp: i64ptr(900),
		}},
	})
	require.NoError(t, err)

	assert.Empty(t, result.SavedItems)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, models.ConflictSync, result.Conflicts[0].Type)
	require.NotNil(t, result.Conflicts[0].ServerItem)
	assert.Equal(t, existing.UUID, result.Conflicts[0].ServerItem.UUID)
}

func TestSaveItems_RevisionThreshold(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	// note last updated 400s ago
	start := env.clock.now
	env.seed(t, seededNote("note-1", start, 10))
	env.clock.advance(400 * time.Second)

	first, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID: "u-1",
		ItemHashes: []*models.ItemHash{{
			UUID:               "note-1",
			Content:            strptr("edit-1"),
			UpdatedAtTimestamp: i64ptr(start),
		}},
	})
	require.NoError(t, err)
	require.Len(t, first.SavedItems, 1)
	require.Len(t, env.publisher.ofType(events.TypeItemRevisionCreationRequested), 1)

	// a second edit ten seconds later stays under the threshold
	env.clock.advance(10 * time.Second)
	second, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID: "u-1",
		ItemHashes: []*models.ItemHash{{
			UUID:               "note-1",
			Content:            strptr("edit-2"),
			UpdatedAtTimestamp: i64ptr(first.SavedItems[0].UpdatedAtTimestamp),
		}},
	})
	require.NoError(t, err)
	require.Len(t, second.SavedItems, 1)
	assert.Len(t, env.publisher.ofType(events.TypeItemRevisionCreationRequested), 1)
}

func TestSaveItems_IdempotentBatch(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	hash := &models.ItemHash{
		UUID:        "note-1",
		Content:     strptr("ciphertext"),
		ContentType: strptr(models.ContentTypeNote),
	}

	result, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID:   "u-1",
		ItemHashes: []*models.ItemHash{hash, hash},
	})
	require.NoError(t, err)

	require.Len(t, result.SavedItems, 2)
	assert.Empty(t, result.Conflicts)
	// one persisted mutation: the second entry is the skip echo of the first
	assert.Equal(t, result.SavedItems[0].UpdatedAtTimestamp, result.SavedItems[1].UpdatedAtTimestamp)
}

func TestSaveItems_TombstoneClearsContent(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	existing := env.seed(t, seededNote("note-1", 1000, 10))

	result, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID: "u-1",
		ItemHashes: []*models.ItemHash{{
			UUID:               "note-1",
			Deleted:            boolptr(true),
			UpdatedAtTimestamp: i64ptr(existing.UpdatedAtTimestamp),
		}},
	})
	require.NoError(t, err)

	require.Len(t, result.SavedItems, 1)
	saved := result.SavedItems[0]
	assert.True(t, saved.Deleted)
	assert.Nil(t, saved.Content)
	assert.Equal(t, 0, saved.ContentSize)
	assert.Nil(t, saved.EncItemKey)
}

func TestSaveItems_ReadOnlySessionConflicts(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	result, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID:       "u-1",
		ReadOnlyAccess: true,
		ItemHashes: []*models.ItemHash{{
			UUID:        "note-1",
			Content:     strptr("c"),
			ContentType: strptr(models.ContentTypeNote),
		}},
	})
	require.NoError(t, err)

	assert.Empty(t, result.SavedItems)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, models.ConflictReadOnly, result.Conflicts[0].Type)
}

func TestSaveItems_CrossUserUUIDCollision(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	foreign := seededNote("stolen-uuid", 100, 10)
	foreign.UserUUID = "u-2"
	_, err := env.repo.Save(ctx, foreign)
	require.NoError(t, err)

	result, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID: "u-1",
		ItemHashes: []*models.ItemHash{{
			UUID:        "stolen-uuid",
			Content:     strptr("c"),
			ContentType: strptr(models.ContentTypeNote),
		}},
	})
	require.NoError(t, err)

	assert.Empty(t, result.SavedItems)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, models.ConflictUUID, result.Conflicts[0].Type)
}

func TestSaveItems_AddToSharedVault(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	env.vaultUsers.grant("u-1", "v-1", models.SharedVaultPermissionWrite)
	existing := env.seed(t, seededNote("item-p", 1000, 10))

	result, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID: "u-1",
		ItemHashes: []*models.ItemHash{{
			UUID:               "item-p",
			SharedVaultUUID:    models.OptionalStringOf("v-1"),
			UpdatedAtTimestamp: i64ptr(existing.UpdatedAtTimestamp),
		}},
	})
	require.NoError(t, err)

	require.Len(t, result.SavedItems, 1)
	require.NotNil(t, result.SavedItems[0].SharedVaultUUID)
	assert.Equal(t, "v-1", *result.SavedItems[0].SharedVaultUUID)

	require.Len(t, env.userEvents.removed, 1)
	assert.Equal(t, userEventCall{"u-1", "item-p", "v-1"}, env.userEvents.removed[0])
	assert.Empty(t, env.userEvents.created)
}

func TestSaveItems_RemoveFromSharedVault(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	env.vaultUsers.grant("u-1", "v-1", models.SharedVaultPermissionWrite)
	env.vaultUsers.grant("u-2", "v-1", models.SharedVaultPermissionRead)
	env.vaultUsers.grant("u-3", "v-1", models.SharedVaultPermissionWrite)
	existing := seededNote("item-p", 1000, 10)
	existing.SharedVaultUUID = strptr("v-1")
	env.seed(t, existing)

	result, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID: "u-1",
		ItemHashes: []*models.ItemHash{{
			UUID:               "item-p",
			SharedVaultUUID:    models.OptionalStringNull(),
			UpdatedAtTimestamp: i64ptr(existing.UpdatedAtTimestamp),
		}},
	})
	require.NoError(t, err)

	require.Len(t, result.SavedItems, 1)
	assert.Nil(t, result.SavedItems[0].SharedVaultUUID)

	// every remaining vault member is notified; the writer is not
	require.Len(t, env.userEvents.created, 2)
	recipients := map[string]bool{}
	for _, call := range env.userEvents.created {
		recipients[call.UserUUID] = true
		assert.Equal(t, "item-p", call.ItemUUID)
		assert.Equal(t, "v-1", call.SharedVaultUUID)
	}
	assert.True(t, recipients["u-2"])
	assert.True(t, recipients["u-3"])
	assert.False(t, recipients["u-1"])
	assert.Empty(t, env.userEvents.removed)
}

func TestSaveItems_DuplicateMarkEmitsEvent(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	existing := env.seed(t, seededNote("note-1", 1000, 10))

	result, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID: "u-1",
		ItemHashes: []*models.ItemHash{{
			UUID:               "note-1",
			DuplicateOf:        strptr("note-0"),
			UpdatedAtTimestamp: i64ptr(existing.UpdatedAtTimestamp),
		}},
	})
	require.NoError(t, err)
	require.Len(t, result.SavedItems, 1)

	duplicates := env.publisher.ofType(events.TypeDuplicateItemSynced)
	require.Len(t, duplicates, 1)
	assert.Equal(t, "note-1", duplicates[0].(events.DuplicateItemSynced).ItemUUID)
}

func TestSaveItems_TimestampsStrictlyIncreaseAcrossSaves(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	ctx := context.Background()

	first, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID: "u-1",
		ItemHashes: []*models.ItemHash{{
			UUID: "note-1", Content: strptr("v1"), ContentType: strptr(models.ContentTypeNote),
		}},
	})
	require.NoError(t, err)

	second, err := env.svc.SaveItems(ctx, SaveItemsRequest{
		UserUUID: "u-1",
		ItemHashes: []*models.ItemHash{{
			UUID:               "note-1",
			Content:            strptr("v2"),
			UpdatedAtTimestamp: i64ptr(first.SavedItems[0].UpdatedAtTimestamp),
		}},
	})
	require.NoError(t, err)

	assert.Greater(t, second.SavedItems[0].UpdatedAtTimestamp, first.SavedItems[0].UpdatedAtTimestamp)
}

func TestSaveItems_EmptyBatchUsesRequestTimestamp(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})

	before := env.clock.now
	result, err := env.svc.SaveItems(context.Background(), SaveItemsRequest{UserUUID: "u-1"})
	require.NoError(t, err)

	decoded, err := env.codec.Decode(result.SyncToken)
	require.NoError(t, err)
	assert.Greater(t, decoded, before)
}
