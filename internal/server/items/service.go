package items

import (
	"context"
	"errors"
	"time"

	"github.com/danmarauda/server/internal/common"
	"github.com/danmarauda/server/internal/logging"
	"github.com/danmarauda/server/internal/server/events"
	"github.com/danmarauda/server/internal/server/models"
	itemsrepo "github.com/danmarauda/server/internal/server/repositories/items"
	"github.com/danmarauda/server/internal/server/repositories/sharedvaultusers"
	"github.com/danmarauda/server/internal/server/synctoken"
	"github.com/danmarauda/server/internal/timer"
)

// UserEventService is the user-event collaborator: it maintains the
// out-of-band notifications surrounding vault membership changes of an item.
// The userUUID names the notification's recipient: the owner on cleanup,
// one fellow vault member per call on removal.
type UserEventService interface {
	RemoveUserEventsAfterItemIsAddedToSharedVault(ctx context.Context, userUUID, itemUUID, sharedVaultUUID string) error
	CreateItemRemovedFromSharedVaultUserEvent(ctx context.Context, userUUID, itemUUID, sharedVaultUUID string) error
}

// ServiceConfig carries the sync engine's tunables.
type ServiceConfig struct {
	DefaultLimit          int
	MaxLimit              int
	ContentTransferBudget int
	RevisionFrequency     time.Duration
}

// Service orchestrates read-sync and write-sync over the item repository.
type Service struct {
	repo       itemsrepo.Repository
	vaultUsers sharedvaultusers.Repository
	calculator *TransferCalculator
	validator  *SaveValidator
	codec      *synctoken.Codec
	clock      timer.Timer
	publisher  events.Publisher
	userEvents UserEventService
	logger     logging.Logger
	config     ServiceConfig
}

func NewService(
	repo itemsrepo.Repository,
	vaultUsers sharedvaultusers.Repository,
	calculator *TransferCalculator,
	validator *SaveValidator,
	codec *synctoken.Codec,
	clock timer.Timer,
	publisher events.Publisher,
	userEvents UserEventService,
	logger logging.Logger,
	config ServiceConfig,
) *Service {
	return &Service{
		repo:       repo,
		vaultUsers: vaultUsers,
		calculator: calculator,
		validator:  validator,
		codec:      codec,
		clock:      clock,
		publisher:  publisher,
		userEvents: userEvents,
		logger:     logger.With("module", "item_service"),
		config:     config,
	}
}

// GetItemsRequest is the read-sync input.
type GetItemsRequest struct {
	UserUUID         string
	SyncToken        string
	CursorToken      string
	Limit            int
	ContentType      *string
	SharedVaultUUIDs []string
}

// GetItemsResult is the read-sync output. CursorToken is empty when the
// response is complete.
type GetItemsResult struct {
	Items       []*models.Item
	SyncToken   string
	CursorToken string
}

// GetItems delivers the user's changes since the request's token, bounded by
// the page limit and the content transfer budget.
func (s *Service) GetItems(ctx context.Context, req GetItemsRequest) (*GetItemsResult, error) {
	// the cursor wins when both tokens are present
	var lastSyncTime *int64
	comparator := itemsrepo.ComparatorGreater
	switch {
	case req.CursorToken != "":
		ts, err := s.codec.Decode(req.CursorToken)
		if err != nil {
			return nil, err
		}
		// The cursor names the last delivered timestamp. Timestamps are
		// strictly increasing per user, so no undelivered item can share
		// it: continue one microsecond past it, inclusively.
		ts++
		lastSyncTime = &ts
		comparator = itemsrepo.ComparatorGreaterOrEqual
	case req.SyncToken != "":
		ts, err := s.codec.Decode(req.SyncToken)
		if err != nil {
			return nil, err
		}
		lastSyncTime = &ts
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	vaultUUIDs, err := s.effectiveVaultUUIDs(ctx, req.UserUUID, req.SharedVaultUUIDs)
	if err != nil {
		return nil, err
	}

	// tombstones are hidden on an initial full sync and delivered on
	// every incremental one
	var deleted *bool
	if lastSyncTime == nil {
		f := false
		deleted = &f
	}

	query := &itemsrepo.Query{
		UserUUID:                req.UserUUID,
		ContentType:             req.ContentType,
		Deleted:                 deleted,
		IncludeSharedVaultUUIDs: vaultUUIDs,
		LastSyncTime:            lastSyncTime,
		Comparator:              comparator,
		SortBy:                  itemsrepo.SortByUpdatedAt,
		SortOrder:               itemsrepo.SortAscending,
		Limit:                   limit,
	}

	uuids, truncated, err := s.calculator.ComputeUUIDsToFetch(ctx, query, s.config.ContentTransferBudget)
	if err != nil {
		return nil, err
	}

	var retrieved []*models.Item
	if len(uuids) > 0 {
		hydrate := *query
		hydrate.UUIDs = uuids
		hydrate.Limit = len(uuids)
		retrieved, err = s.repo.FindAll(ctx, &hydrate)
		if err != nil {
			return nil, err
		}
	}

	countQuery := *query
	countQuery.Limit = 0
	total, err := s.repo.CountAll(ctx, &countQuery)
	if err != nil {
		return nil, err
	}

	result := &GetItemsResult{Items: retrieved}

	moreAvailable := total > limit || truncated
	switch {
	case moreAvailable && len(retrieved) > 0:
		result.CursorToken = s.codec.EncodeCursorToken(retrieved[len(retrieved)-1].UpdatedAtTimestamp)
	case len(retrieved) > 0:
		result.SyncToken = s.codec.EncodeSyncToken(retrieved[len(retrieved)-1].UpdatedAtTimestamp)
	case lastSyncTime != nil:
		result.SyncToken = s.codec.Encode(*lastSyncTime)
	default:
		result.SyncToken = s.codec.EncodeSyncToken(s.clock.NowMicroseconds())
	}

	// initial syncs front-load items keys so the client can decrypt the
	// rest of the stream immediately
	if lastSyncTime == nil {
		result.Items, err = s.frontLoadItemsKeys(ctx, req.UserUUID, vaultUUIDs, result.Items)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// effectiveVaultUUIDs intersects the requested vaults with the user's
// memberships, defaulting to all memberships.
func (s *Service) effectiveVaultUUIDs(ctx context.Context, userUUID string, requested []string) ([]string, error) {
	memberships, err := s.vaultUsers.FindAllForUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	member := make(map[string]struct{}, len(memberships))
	for _, m := range memberships {
		member[m.SharedVaultUUID] = struct{}{}
	}

	if len(requested) == 0 {
		result := make([]string, 0, len(memberships))
		for _, m := range memberships {
			result = append(result, m.SharedVaultUUID)
		}
		return result, nil
	}

	var result []string
	for _, v := range requested {
		if _, ok := member[v]; ok {
			result = append(result, v)
		}
	}
	return result, nil
}

func (s *Service) frontLoadItemsKeys(ctx context.Context, userUUID string, vaultUUIDs []string, retrieved []*models.Item) ([]*models.Item, error) {
	contentType := models.ContentTypeItemsKey
	notDeleted := false
	keys, err := s.repo.FindAll(ctx, &itemsrepo.Query{
		UserUUID:                userUUID,
		ContentType:             &contentType,
		Deleted:                 &notDeleted,
		IncludeSharedVaultUUIDs: vaultUUIDs,
		SortBy:                  itemsrepo.SortByUpdatedAt,
		SortOrder:               itemsrepo.SortAscending,
	})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return retrieved, nil
	}

	present := make(map[string]struct{}, len(retrieved))
	for _, item := range retrieved {
		present[item.UUID] = struct{}{}
	}

	var missing []*models.Item
	for _, key := range keys {
		if _, ok := present[key.UUID]; !ok {
			missing = append(missing, key)
		}
	}
	return append(missing, retrieved...), nil
}

// SaveItemsRequest is the write-sync input. Item hashes are applied in
// order.
type SaveItemsRequest struct {
	UserUUID       string
	SessionUUID    *string
	APIVersion     string
	SDKVersion     string
	ReadOnlyAccess bool
	ItemHashes     []*models.ItemHash
}

// SaveItemsResult reports, per hash, either a saved item or a conflict, plus
// the sync token covering every write of the batch.
type SaveItemsResult struct {
	SavedItems []*models.Item
	Conflicts  []*models.ItemConflict
	SyncToken  string
}

// SaveItems applies the batch one hash at a time. Per-item failures become
// conflicts, never batch aborts; cancellation stops the loop between items.
func (s *Service) SaveItems(ctx context.Context, req SaveItemsRequest) (*SaveItemsResult, error) {
	result := &SaveItemsResult{}

	requestTimestamp := s.clock.NowMicroseconds()
	maxSavedTimestamp := requestTimestamp

	for _, hash := range req.ItemHashes {
		if ctx.Err() != nil {
			break
		}

		existing, err := s.repo.FindByUUID(ctx, req.UserUUID, hash.UUID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}

		if req.ReadOnlyAccess {
			result.Conflicts = append(result.Conflicts, &models.ItemConflict{
				UnsavedItem: *hash,
				ServerItem:  existing,
				Type:        models.ConflictReadOnly,
			})
			continue
		}

		outcome, err := s.validator.Validate(ctx, SaveInput{
			UserUUID:     req.UserUUID,
			SessionUUID:  req.SessionUUID,
			ItemHash:     hash,
			ExistingItem: existing,
		})
		if err != nil {
			return nil, err
		}
		if outcome.Conflict != nil {
			result.Conflicts = append(result.Conflicts, outcome.Conflict)
			continue
		}
		if outcome.Skipped != nil {
			result.SavedItems = append(result.SavedItems, outcome.Skipped)
			continue
		}

		saved, conflictKind, err := s.applyHash(ctx, req, hash, existing)
		if err != nil {
			return nil, err
		}
		if conflictKind != "" {
			result.Conflicts = append(result.Conflicts, &models.ItemConflict{
				UnsavedItem: *hash,
				ServerItem:  existing,
				Type:        conflictKind,
			})
			continue
		}

		if saved.UpdatedAtTimestamp > maxSavedTimestamp {
			maxSavedTimestamp = saved.UpdatedAtTimestamp
		}
		result.SavedItems = append(result.SavedItems, saved)
	}

	result.SyncToken = s.codec.EncodeSyncToken(maxSavedTimestamp)
	return result, nil
}

// applyHash persists one change and emits the follow-up events. A uuid
// collision surfaces as a conflict kind instead of an error so the batch
// keeps going.
func (s *Service) applyHash(ctx context.Context, req SaveItemsRequest, hash *models.ItemHash, existing *models.Item) (*models.Item, models.ConflictType, error) {
	operation := vaultOperation(existing, hash)

	var item *models.Item
	var previousUpdatedAt int64
	var wasMarkedAsDuplicate bool
	var removedFromVaultUUID string

	if existing == nil {
		item = s.materializeItem(req, hash)
	} else {
		previousUpdatedAt = existing.UpdatedAtTimestamp
		if operation == opRemoveFromSharedVault {
			removedFromVaultUUID = *existing.SharedVaultUUID
		}
		wasMarkedAsDuplicate = existing.DuplicateOf == nil && hash.DuplicateOf != nil
		item = s.updateItem(req, hash, existing)
	}

	saved, err := s.repo.Save(ctx, item)
	if errors.Is(err, common.ErrUUIDConflict) {
		return nil, models.ConflictUUID, nil
	}
	if err != nil {
		return nil, "", err
	}

	s.emitSaveEvents(ctx, saved, saveEventInput{
		isCreate:             existing == nil,
		previousUpdatedAt:    previousUpdatedAt,
		wasMarkedAsDuplicate: wasMarkedAsDuplicate,
		operation:            operation,
		removedFromVault:     removedFromVaultUUID,
	})

	return saved, "", nil
}

// materializeItem builds a new item from a create hash. Timestamps are
// server-assigned unless the hash supplied created_at.
func (s *Service) materializeItem(req SaveItemsRequest, hash *models.ItemHash) *models.Item {
	now := s.clock.NowMicroseconds()

	item := &models.Item{
		UUID:               hash.UUID,
		UserUUID:           req.UserUUID,
		Content:            hash.Content,
		ContentType:        hash.ContentType,
		EncItemKey:         hash.EncItemKey,
		AuthHash:           hash.AuthHash,
		ItemsKeyID:         hash.ItemsKeyID,
		DuplicateOf:        hash.DuplicateOf,
		UpdatedWithSession: req.SessionUUID,
		CreatedAtTimestamp: now,
		UpdatedAtTimestamp: now,
	}
	if hash.CreatedAtTimestamp != nil {
		item.CreatedAtTimestamp = *hash.CreatedAtTimestamp
	}
	if hash.SharedVaultUUID.Set {
		item.SharedVaultUUID = hash.SharedVaultUUID.Value
	}
	if hash.KeySystemIdentifier.Set {
		item.KeySystemIdentifier = hash.KeySystemIdentifier.Value
	}
	if item.SharedVaultUUID != nil {
		user := req.UserUUID
		item.LastEditedByUUID = &user
	}

	if hash.Deleted != nil && *hash.Deleted {
		item.MarkAsDeleted()
	} else {
		item.ContentSize = item.CalculateContentSize()
	}
	return item
}

// updateItem applies the hash onto a copy of the existing item, mutating
// only the fields the hash carries.
func (s *Service) updateItem(req SaveItemsRequest, hash *models.ItemHash, existing *models.Item) *models.Item {
	item := *existing

	if hash.Content != nil {
		item.Content = hash.Content
	}
	if hash.ContentType != nil {
		item.ContentType = hash.ContentType
	}
	if hash.EncItemKey != nil {
		item.EncItemKey = hash.EncItemKey
	}
	if hash.AuthHash != nil {
		item.AuthHash = hash.AuthHash
	}
	if hash.ItemsKeyID != nil {
		item.ItemsKeyID = hash.ItemsKeyID
	}
	if hash.DuplicateOf != nil {
		item.DuplicateOf = hash.DuplicateOf
	}
	if hash.SharedVaultUUID.Set {
		item.SharedVaultUUID = hash.SharedVaultUUID.Value
	}
	if hash.KeySystemIdentifier.Set {
		item.KeySystemIdentifier = hash.KeySystemIdentifier.Value
	}
	if hash.CreatedAtTimestamp != nil {
		item.CreatedAtTimestamp = *hash.CreatedAtTimestamp
	}

	item.UpdatedWithSession = req.SessionUUID
	if item.SharedVaultUUID != nil {
		user := req.UserUUID
		item.LastEditedByUUID = &user
	}
	item.UpdatedAtTimestamp = s.clock.NowMicroseconds()

	switch {
	case hash.Deleted != nil && *hash.Deleted:
		item.MarkAsDeleted()
	case hash.Deleted != nil:
		// explicit revival
		item.Deleted = false
		item.ContentSize = item.CalculateContentSize()
	case item.Deleted:
		// an omitted flag leaves a tombstone a tombstone
		item.MarkAsDeleted()
	default:
		item.ContentSize = item.CalculateContentSize()
	}
	return &item
}

type saveEventInput struct {
	isCreate             bool
	previousUpdatedAt    int64
	wasMarkedAsDuplicate bool
	operation            vaultOp
	removedFromVault     string
}

// emitSaveEvents publishes the revision, duplicate and vault follow-ups of
// one persisted save. Publisher failures are logged and swallowed; the sync
// must not fail because a downstream queue is unreachable.
func (s *Service) emitSaveEvents(ctx context.Context, item *models.Item, in saveEventInput) {
	if s.shouldRequestRevision(item, in) {
		err := s.publisher.Publish(ctx, events.ItemRevisionCreationRequested{
			ItemUUID: item.UUID,
			UserUUID: item.UserUUID,
		})
		if err != nil {
			s.logger.Error(ctx, "failed to publish revision request", "item", item.UUID, "error", err.Error())
		}
	}

	if in.wasMarkedAsDuplicate || (in.isCreate && item.DuplicateOf != nil) {
		err := s.publisher.Publish(ctx, events.DuplicateItemSynced{
			ItemUUID: item.UUID,
			UserUUID: item.UserUUID,
		})
		if err != nil {
			s.logger.Error(ctx, "failed to publish duplicate notice", "item", item.UUID, "error", err.Error())
		}
	}

	switch in.operation {
	case opAddToSharedVault:
		err := s.userEvents.RemoveUserEventsAfterItemIsAddedToSharedVault(ctx, item.UserUUID, item.UUID, *item.SharedVaultUUID)
		if err != nil {
			s.logger.Error(ctx, "failed to clean up user events", "item", item.UUID, "error", err.Error())
		}
	case opRemoveFromSharedVault:
		// the removal is news to the other vault members, not the writer
		members, err := s.vaultUsers.FindAllForVault(ctx, in.removedFromVault, item.UserUUID)
		if err != nil {
			s.logger.Error(ctx, "failed to list vault members", "vault", in.removedFromVault, "error", err.Error())
			return
		}
		for _, member := range members {
			err := s.userEvents.CreateItemRemovedFromSharedVaultUserEvent(ctx, member.UserUUID, item.UUID, in.removedFromVault)
			if err != nil {
				s.logger.Error(ctx, "failed to create removal user event", "item", item.UUID, "recipient", member.UserUUID, "error", err.Error())
			}
		}
	}
}

func (s *Service) shouldRequestRevision(item *models.Item, in saveEventInput) bool {
	if item.ContentType == nil {
		return false
	}
	if *item.ContentType != models.ContentTypeNote && *item.ContentType != models.ContentTypeFile {
		return false
	}
	if in.isCreate {
		return true
	}
	return item.UpdatedAtTimestamp-in.previousUpdatedAt >= s.config.RevisionFrequency.Microseconds()
}

// vaultOp classifies how a save changes the item's vault membership.
type vaultOp int

const (
	opNone vaultOp = iota
	opAddToSharedVault
	opRemoveFromSharedVault
	opNoopInVault
)

// vaultOperation compares the stored vault scope with the hash's target
// scope. Moving between vaults classifies as a removal from the old vault.
func vaultOperation(existing *models.Item, hash *models.ItemHash) vaultOp {
	var current *string
	if existing != nil {
		current = existing.SharedVaultUUID
	}

	target := current
	if hash.SharedVaultUUID.Set {
		target = hash.SharedVaultUUID.Value
	}

	switch {
	case current == nil && target != nil:
		return opAddToSharedVault
	case current != nil && target == nil:
		return opRemoveFromSharedVault
	case current != nil && target != nil && *current != *target:
		return opRemoveFromSharedVault
	case current != nil:
		return opNoopInVault
	default:
		return opNone
	}
}
