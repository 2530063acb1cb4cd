package items

// Comparison operators applied to last_sync_time. The cursor comparator is
// inclusive so mid-pagination writes at the boundary are never lost.
const (
	ComparatorGreater        = ">"
	ComparatorGreaterOrEqual = ">="
)

// Sort keys and directions accepted by FindAll.
const (
	SortByUpdatedAt = "updated_at_timestamp"
	SortByCreatedAt = "created_at_timestamp"

	SortAscending  = "ASC"
	SortDescending = "DESC"
)

// A Query selects a user's items. Nil pointer fields mean "no filter".
//
// Vault scoping: when IncludeSharedVaultUUIDs is non-empty the result covers
// the user's private items plus all items in those vaults; when
// ExclusiveSharedVaultUUIDs is non-empty only items in those vaults match,
// regardless of owner.
type Query struct {
	UserUUID                  string
	UUIDs                     []string
	ContentType               *string
	Deleted                   *bool
	IncludeSharedVaultUUIDs   []string
	ExclusiveSharedVaultUUIDs []string
	LastSyncTime              *int64
	Comparator                string
	SortBy                    string
	SortOrder                 string
	Offset                    int
	Limit                     int
}

// normalized returns the effective sort key, direction, and comparator,
// falling back to updated_at ASC with a strict comparator.
func (q *Query) normalized() (sortBy, sortOrder, comparator string) {
	sortBy = q.SortBy
	if sortBy != SortByCreatedAt {
		sortBy = SortByUpdatedAt
	}
	sortOrder = q.SortOrder
	if sortOrder != SortDescending {
		sortOrder = SortAscending
	}
	comparator = q.Comparator
	if comparator != ComparatorGreaterOrEqual {
		comparator = ComparatorGreater
	}
	return sortBy, sortOrder, comparator
}
