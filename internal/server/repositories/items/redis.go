package items

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/danmarauda/server/internal/common"
	"github.com/danmarauda/server/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// RedisRepository implements the item repository over Redis. Each item is a
// JSON string value; a per-user sorted set keyed by updated_at_timestamp
// keeps the sync ordering; a global owner hash detects cross-user uuid
// collisions. It serves as the second backing store of the dual-database
// transition.
//
// Queries read only the items stored under the query's UserUUID: the vault
// filters (IncludeSharedVaultUUIDs, ExclusiveSharedVaultUUIDs) select among
// that user's items, and vault items owned by other users are not returned.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository constructs a repository from a Redis URL.
func NewRedisRepository(redisURL string) (*RedisRepository, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisRepository{client: redis.NewClient(opts)}, nil
}

// NewRedisRepositoryWithClient constructs a repository from an existing
// client.
func NewRedisRepositoryWithClient(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

// Ping verifies connectivity.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func itemKey(userUUID, uuid string) string { return "item:" + userUUID + ":" + uuid }
func indexKey(userUUID string) string      { return "items:" + userUUID }

const ownerKey = "item_owners"

// FindByUUID returns the user's item or common.ErrNotFound.
func (r *RedisRepository) FindByUUID(ctx context.Context, userUUID string, uuid string) (*models.Item, error) {
	raw, err := r.client.Get(ctx, itemKey(userUUID, uuid)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	var item models.Item
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	return &item, nil
}

// loadAll fetches every item of the user in index order.
func (r *RedisRepository) loadAll(ctx context.Context, userUUID string) ([]*models.Item, error) {
	uuids, err := r.client.ZRange(ctx, indexKey(userUUID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range item index: %w", err)
	}
	if len(uuids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(uuids))
	for i, id := range uuids {
		keys[i] = itemKey(userUUID, id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget items: %w", err)
	}

	result := make([]*models.Item, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index member without a value, e.g. removed concurrently
			continue
		}
		var item models.Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("failed to decode item: %w", err)
		}
		result = append(result, &item)
	}
	return result, nil
}

func matchesQuery(item *models.Item, q *Query) bool {
	if len(q.ExclusiveSharedVaultUUIDs) > 0 {
		if item.SharedVaultUUID == nil {
			return false
		}
		if !containsString(q.ExclusiveSharedVaultUUIDs, *item.SharedVaultUUID) {
			return false
		}
	} else if len(q.IncludeSharedVaultUUIDs) > 0 {
		inVault := item.SharedVaultUUID != nil && containsString(q.IncludeSharedVaultUUIDs, *item.SharedVaultUUID)
		private := item.UserUUID == q.UserUUID && item.SharedVaultUUID == nil
		if !inVault && !private {
			return false
		}
	} else if item.UserUUID != q.UserUUID {
		return false
	}

	if len(q.UUIDs) > 0 && !containsString(q.UUIDs, item.UUID) {
		return false
	}
	if q.ContentType != nil {
		if item.ContentType == nil || *item.ContentType != *q.ContentType {
			return false
		}
	}
	if q.Deleted != nil && item.Deleted != *q.Deleted {
		return false
	}
	if q.LastSyncTime != nil {
		_, _, comparator := q.normalized()
		if comparator == ComparatorGreaterOrEqual {
			if item.UpdatedAtTimestamp < *q.LastSyncTime {
				return false
			}
		} else if item.UpdatedAtTimestamp <= *q.LastSyncTime {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// selectItems applies the query's filters, ordering, offset and limit to the
// user's full item set.
func (r *RedisRepository) selectItems(ctx context.Context, q *Query) ([]*models.Item, error) {
	all, err := r.loadAll(ctx, q.UserUUID)
	if err != nil {
		return nil, err
	}

	var matched []*models.Item
	for _, item := range all {
		if matchesQuery(item, q) {
			matched = append(matched, item)
		}
	}

	sortBy, sortOrder, _ := q.normalized()
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		ka, kb := a.UpdatedAtTimestamp, b.UpdatedAtTimestamp
		if sortBy == SortByCreatedAt {
			ka, kb = a.CreatedAtTimestamp, b.CreatedAtTimestamp
		}
		if sortOrder == SortDescending {
			if ka != kb {
				return ka > kb
			}
			return a.UUID > b.UUID
		}
		if ka != kb {
			return ka < kb
		}
		return a.UUID < b.UUID
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// FindAll returns all items matching the query in its requested order.
func (r *RedisRepository) FindAll(ctx context.Context, q *Query) ([]*models.Item, error) {
	return r.selectItems(ctx, q)
}

// FindContentSizes projects matching items onto (uuid, content_size).
func (r *RedisRepository) FindContentSizes(ctx context.Context, q *Query) ([]ItemContentSize, error) {
	matched, err := r.selectItems(ctx, q)
	if err != nil {
		return nil, err
	}
	result := make([]ItemContentSize, len(matched))
	for i, item := range matched {
		result[i] = ItemContentSize{UUID: item.UUID, ContentSize: item.ContentSize}
	}
	return result, nil
}

// CountAll counts matching items, ignoring order, offset and limit.
func (r *RedisRepository) CountAll(ctx context.Context, q *Query) (int, error) {
	trimmed := *q
	trimmed.Offset = 0
	trimmed.Limit = 0
	matched, err := r.selectItems(ctx, &trimmed)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Save upserts an item by uuid, guarding the global uuid uniqueness
// invariant through the owner hash.
func (r *RedisRepository) Save(ctx context.Context, item *models.Item) (*models.Item, error) {
	owner, err := r.client.HGet(ctx, ownerKey, item.UUID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to check item owner: %w", err)
	}
	if err == nil && owner != item.UserUUID {
		return nil, common.ErrUUIDConflict
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, itemKey(item.UserUUID, item.UUID), raw, 0)
	pipe.ZAdd(ctx, indexKey(item.UserUUID), redis.Z{Score: float64(item.UpdatedAtTimestamp), Member: item.UUID})
	pipe.HSet(ctx, ownerKey, item.UUID, item.UserUUID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to save item: %w", err)
	}
	return item, nil
}

// RemoveByUUID physically deletes one of the user's items.
func (r *RedisRepository) RemoveByUUID(ctx context.Context, userUUID string, uuid string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, itemKey(userUUID, uuid))
	pipe.ZRem(ctx, indexKey(userUUID), uuid)
	pipe.HDel(ctx, ownerKey, uuid)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	return nil
}

// DeleteByUserUUIDAndNotInSharedVault bulk-deletes the user's private items.
func (r *RedisRepository) DeleteByUserUUIDAndNotInSharedVault(ctx context.Context, userUUID string) error {
	all, err := r.loadAll(ctx, userUUID)
	if err != nil {
		return err
	}
	for _, item := range all {
		if item.SharedVaultUUID != nil {
			continue
		}
		if err := r.RemoveByUUID(ctx, userUUID, item.UUID); err != nil {
			return err
		}
	}
	return nil
}
