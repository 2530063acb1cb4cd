package items

import (
	"context"
	"errors"
	"time"

	"github.com/danmarauda/server/internal/common"
	"github.com/danmarauda/server/internal/server/models"
	"github.com/danmarauda/server/internal/server/repositories/sharedvaultusers"
)

// SaveInput is the per-hash input of the validator: the proposed change and
// the server's current copy, if any.
type SaveInput struct {
	UserUUID     string
	SessionUUID  *string
	ItemHash     *models.ItemHash
	ExistingItem *models.Item
}

// SaveRuleResult is the outcome of one rule: exactly one of Passed, Skipped
// or Conflict is meaningful. A skip means "treat as saved, change nothing".
type SaveRuleResult struct {
	Passed   bool
	Skipped  *models.Item
	Conflict *models.ItemConflict
}

func pass() SaveRuleResult { return SaveRuleResult{Passed: true} }

func conflict(in SaveInput, kind models.ConflictType) SaveRuleResult {
	return SaveRuleResult{Conflict: &models.ItemConflict{
		UnsavedItem: *in.ItemHash,
		ServerItem:  in.ExistingItem,
		Type:        kind,
	}}
}

// A SaveRule inspects one proposed change. Rules are applied in declared
// order; the first non-pass result wins.
type SaveRule interface {
	Check(ctx context.Context, in SaveInput) (SaveRuleResult, error)
}

// SaveValidator runs the save-rule chain for each incoming item hash.
type SaveValidator struct {
	rules []SaveRule
}

// NewSaveValidator assembles the default rule chain. The tolerance widens
// the stale-write check to absorb client/server clock skew; zero means exact
// match.
func NewSaveValidator(vaultUsers sharedvaultusers.Repository, tolerance time.Duration) *SaveValidator {
	return &SaveValidator{rules: []SaveRule{
		&alreadyAppliedRule{},
		&timeDifferenceRule{tolerance: tolerance},
		&contentTypeRule{},
		&sharedVaultRule{vaultUsers: vaultUsers},
	}}
}

func (v *SaveValidator) Validate(ctx context.Context, in SaveInput) (SaveRuleResult, error) {
	for _, rule := range v.rules {
		result, err := rule.Check(ctx, in)
		if err != nil {
			return SaveRuleResult{}, err
		}
		if !result.Passed {
			return result, nil
		}
	}
	return pass(), nil
}

// alreadyAppliedRule recognizes a re-sent, already-applied change and turns
// it into a skip, before the stale-write check can reject it for carrying an
// old timestamp.
type alreadyAppliedRule struct{}

func (r *alreadyAppliedRule) Check(ctx context.Context, in SaveInput) (SaveRuleResult, error) {
	if in.ExistingItem == nil {
		return pass(), nil
	}
	if in.ItemHash.RepresentsState(in.ExistingItem) {
		return SaveRuleResult{Skipped: in.ExistingItem}, nil
	}
	return pass(), nil
}

// timeDifferenceRule rejects writes based on a stale read: the client's idea
// of updated_at_timestamp must match the server's within the tolerance.
type timeDifferenceRule struct {
	tolerance time.Duration
}

func (r *timeDifferenceRule) Check(ctx context.Context, in SaveInput) (SaveRuleResult, error) {
	if in.ExistingItem == nil {
		return pass(), nil
	}

	// a hash without a timestamp is a blind overwrite of an existing item
	var clientTimestamp int64
	if in.ItemHash.UpdatedAtTimestamp != nil {
		clientTimestamp = *in.ItemHash.UpdatedAtTimestamp
	}

	diff := in.ExistingItem.UpdatedAtTimestamp - clientTimestamp
	if diff < 0 {
		diff = -diff
	}
	if diff > r.tolerance.Microseconds() {
		return conflict(in, models.ConflictSync), nil
	}
	return pass(), nil
}

// contentTypeRule guards the classification string: creates must name one,
// and a stored items key cannot be rewritten into another type.
type contentTypeRule struct{}

func (r *contentTypeRule) Check(ctx context.Context, in SaveInput) (SaveRuleResult, error) {
	if in.ExistingItem == nil {
		if in.ItemHash.ContentType == nil || *in.ItemHash.ContentType == "" {
			return conflict(in, models.ConflictContentType), nil
		}
		return pass(), nil
	}

	existingType := in.ExistingItem.ContentType
	if existingType != nil && *existingType == models.ContentTypeItemsKey &&
		in.ItemHash.ContentType != nil && *in.ItemHash.ContentType != models.ContentTypeItemsKey {
		return conflict(in, models.ConflictContentType), nil
	}
	return pass(), nil
}

// sharedVaultRule verifies write permission on every vault the change
// touches: the vault the item currently lives in and the vault it is being
// moved to.
type sharedVaultRule struct {
	vaultUsers sharedvaultusers.Repository
}

func (r *sharedVaultRule) Check(ctx context.Context, in SaveInput) (SaveRuleResult, error) {
	var touched []string

	if in.ExistingItem != nil && in.ExistingItem.SharedVaultUUID != nil {
		touched = append(touched, *in.ExistingItem.SharedVaultUUID)
	}
	if in.ItemHash.SharedVaultUUID.Set && in.ItemHash.SharedVaultUUID.Value != nil {
		target := *in.ItemHash.SharedVaultUUID.Value
		if len(touched) == 0 || touched[0] != target {
			touched = append(touched, target)
		}
	}

	for _, vaultUUID := range touched {
		membership, err := r.vaultUsers.FindByUserAndVault(ctx, in.UserUUID, vaultUUID)
		if errors.Is(err, common.ErrNotFound) {
			return conflict(in, models.ConflictSharedVaultPermission), nil
		}
		if err != nil {
			return SaveRuleResult{}, err
		}
		if !membership.CanWrite() {
			return conflict(in, models.ConflictSharedVaultPermission), nil
		}
	}
	return pass(), nil
}
