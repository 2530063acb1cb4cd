// Package transition implements the resumable, verified bulk copy of one
// user's items between two backing stores.
package transition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmarauda/server/internal/common"
	"github.com/danmarauda/server/internal/logging"
	"github.com/danmarauda/server/internal/server/events"
	"github.com/danmarauda/server/internal/server/models"
	itemsrepo "github.com/danmarauda/server/internal/server/repositories/items"
	"github.com/danmarauda/server/internal/server/repositories/transitionstatuses"
	"github.com/danmarauda/server/internal/timer"
)

// ErrAlreadyRunning is returned when a second runner targets the same user.
var ErrAlreadyRunning = errors.New("transition already running for user")

// removeSettleDelay is the pause before overwriting a divergent target item,
// letting target replication catch up first.
const removeSettleDelay = 100 * time.Millisecond

// Runner copies a user's items from a source store to a target store in
// resumable pages, verifies the copy, then removes the user's private items
// from the source. The two stores are equal collaborators behind the same
// repository contract; direction is fixed at construction.
type Runner struct {
	source         itemsrepo.Repository
	target         itemsrepo.Repository
	statuses       transitionstatuses.Repository
	publisher      events.Publisher
	clock          timer.Timer
	logger         logging.Logger
	pageSize       int
	settleDelay    time.Duration
	transitionType string
	locks          *userLocks
}

func NewRunner(
	source itemsrepo.Repository,
	target itemsrepo.Repository,
	statuses transitionstatuses.Repository,
	publisher events.Publisher,
	clock timer.Timer,
	logger logging.Logger,
	pageSize int,
	settleDelay time.Duration,
	transitionType string,
) *Runner {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Runner{
		source:         source,
		target:         target,
		statuses:       statuses,
		publisher:      publisher,
		clock:          clock,
		logger:         logger.With("module", "transition", "type", transitionType),
		pageSize:       pageSize,
		settleDelay:    settleDelay,
		transitionType: transitionType,
		locks:          newUserLocks(),
	}
}

// Run executes the transition for one user, resuming from persisted
// progress. Intermediate failures never surface to callers as item errors:
// they are recorded on the status record and emitted as Failed events.
func (r *Runner) Run(ctx context.Context, userUUID string) error {
	status, err := r.statuses.FindByUserUUID(ctx, userUUID)
	if err != nil {
		return err
	}

	// precondition: a populated target means the user already migrated
	if status.Status == models.TransitionVerified {
		return nil
	}
	if status.Status == models.TransitionNotStarted {
		targetCount, err := r.target.CountAll(ctx, &itemsrepo.Query{UserUUID: userUUID})
		if err != nil {
			return err
		}
		if targetCount > 0 {
			return r.finalize(ctx, status)
		}
	}

	if err := r.runPhase(userUUID, func() error { return r.copyPhase(ctx, status) }); err != nil {
		return r.recordFailure(ctx, status, err)
	}

	r.clock.Sleep(ctx, r.settleDelay)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	verified, err := r.runPhaseVerify(ctx, userUUID, status)
	if err != nil {
		return r.recordFailure(ctx, status, err)
	}
	if !verified {
		return nil
	}

	if err := r.runPhase(userUUID, func() error {
		return r.source.DeleteByUserUUIDAndNotInSharedVault(ctx, userUUID)
	}); err != nil {
		return r.recordFailure(ctx, status, err)
	}

	return r.finalize(ctx, status)
}

func (r *Runner) runPhase(userUUID string, phase func() error) error {
	if !r.locks.tryAcquire(userUUID) {
		return ErrAlreadyRunning
	}
	defer r.locks.release(userUUID)
	return phase()
}

func (r *Runner) runPhaseVerify(ctx context.Context, userUUID string, status *models.TransitionStatus) (bool, error) {
	if !r.locks.tryAcquire(userUUID) {
		return false, ErrAlreadyRunning
	}
	defer r.locks.release(userUUID)
	return r.verifyPhase(ctx, status)
}

// copyPhase iterates the source in created_at order, page by page, starting
// at the persisted paging progress.
func (r *Runner) copyPhase(ctx context.Context, status *models.TransitionStatus) error {
	userUUID := status.UserUUID

	total, err := r.source.CountAll(ctx, &itemsrepo.Query{UserUUID: userUUID})
	if err != nil {
		return err
	}
	totalPages := (total + r.pageSize - 1) / r.pageSize

	status.Status = models.TransitionInProgress
	if status.PagingProgress < 1 {
		status.PagingProgress = 1
	}
	if err := r.statuses.Save(ctx, status); err != nil {
		return err
	}
	r.emitStatus(ctx, userUUID, models.TransitionInProgress)

	progressStep := totalPages / 10
	if progressStep < 1 {
		progressStep = 1
	}

	for page := status.PagingProgress; page <= totalPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		sourceItems, err := r.source.FindAll(ctx, &itemsrepo.Query{
			UserUUID:  userUUID,
			SortBy:    itemsrepo.SortByCreatedAt,
			SortOrder: itemsrepo.SortAscending,
			Offset:    (page - 1) * r.pageSize,
			Limit:     r.pageSize,
		})
		if err != nil {
			return err
		}

		for _, item := range sourceItems {
			if err := r.copyItem(ctx, item); err != nil {
				return err
			}
		}

		status.PagingProgress = page
		if err := r.statuses.Save(ctx, status); err != nil {
			return err
		}
		if page%progressStep == 0 {
			r.emitStatus(ctx, userUUID, models.TransitionInProgress)
			r.logger.Info(ctx, "copy progress", "user", userUUID, "page", page, "pages", totalPages)
		}
	}

	return nil
}

// copyItem writes one source item to the target unless the target already
// holds a newer or identical version.
func (r *Runner) copyItem(ctx context.Context, item *models.Item) error {
	existing, err := r.target.FindByUUID(ctx, item.UserUUID, item.UUID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}

	if existing != nil {
		if existing.UpdatedAtTimestamp > item.UpdatedAtTimestamp {
			return nil
		}
		if existing.IsIdenticalTo(item) {
			return nil
		}
		r.clock.Sleep(ctx, removeSettleDelay)
		if err := r.target.RemoveByUUID(ctx, item.UserUUID, item.UUID); err != nil {
			return err
		}
	}

	if _, err := r.target.Save(ctx, item); err != nil {
		return err
	}
	return nil
}

// verifyPhase iterates the target and confirms every item exists,
// unchanged, in the source. Any divergence resets progress and emits
// Failed. It returns whether verification passed.
func (r *Runner) verifyPhase(ctx context.Context, status *models.TransitionStatus) (bool, error) {
	userUUID := status.UserUUID

	total, err := r.target.CountAll(ctx, &itemsrepo.Query{UserUUID: userUUID})
	if err != nil {
		return false, err
	}
	totalPages := (total + r.pageSize - 1) / r.pageSize

	if status.IntegrityProgress < 1 {
		status.IntegrityProgress = 1
	}

	for page := status.IntegrityProgress; page <= totalPages; page++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		targetItems, err := r.target.FindAll(ctx, &itemsrepo.Query{
			UserUUID:  userUUID,
			SortBy:    itemsrepo.SortByCreatedAt,
			SortOrder: itemsrepo.SortAscending,
			Offset:    (page - 1) * r.pageSize,
			Limit:     r.pageSize,
		})
		if err != nil {
			return false, err
		}

		for _, item := range targetItems {
			divergence, err := r.checkItem(ctx, item)
			if err != nil {
				return false, err
			}
			if divergence != "" {
				r.logger.Warn(ctx, "integrity check failed", "user", userUUID, "item", item.UUID, "reason", divergence)
				status.PagingProgress = 1
				status.IntegrityProgress = 1
				status.Status = models.TransitionFailed
				status.LastError = &divergence
				if err := r.statuses.Save(ctx, status); err != nil {
					return false, err
				}
				r.emitStatus(ctx, userUUID, models.TransitionFailed)
				return false, nil
			}
		}

		status.IntegrityProgress = page
		if err := r.statuses.Save(ctx, status); err != nil {
			return false, err
		}
	}

	return true, nil
}

// checkItem returns a non-empty divergence reason when the target item does
// not faithfully mirror the source.
func (r *Runner) checkItem(ctx context.Context, item *models.Item) (string, error) {
	source, err := r.source.FindByUUID(ctx, item.UserUUID, item.UUID)
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Sprintf("item %s missing in source", item.UUID), nil
	}
	if err != nil {
		return "", err
	}
	if source.UpdatedAtTimestamp > item.UpdatedAtTimestamp {
		return fmt.Sprintf("item %s is newer in source", item.UUID), nil
	}
	if !source.IsIdenticalTo(item) {
		return fmt.Sprintf("item %s diverged", item.UUID), nil
	}
	return "", nil
}

func (r *Runner) finalize(ctx context.Context, status *models.TransitionStatus) error {
	status.Status = models.TransitionVerified
	status.LastError = nil
	if err := r.statuses.Save(ctx, status); err != nil {
		return err
	}
	r.emitStatus(ctx, status.UserUUID, models.TransitionVerified)
	return nil
}

// recordFailure persists the failure on the status record. Lock contention
// and context cancellation are surfaced as-is; everything else is absorbed
// into a Failed status.
func (r *Runner) recordFailure(ctx context.Context, status *models.TransitionStatus, cause error) error {
	if errors.Is(cause, ErrAlreadyRunning) || errors.Is(cause, context.Canceled) {
		return cause
	}

	message := cause.Error()
	status.Status = models.TransitionFailed
	status.LastError = &message
	if err := r.statuses.Save(ctx, status); err != nil {
		r.logger.Error(ctx, "failed to persist transition failure", "user", status.UserUUID, "error", err.Error())
	}
	r.emitStatus(ctx, status.UserUUID, models.TransitionFailed)
	r.logger.Error(ctx, "transition failed", "user", status.UserUUID, "error", message)
	return nil
}

func (r *Runner) emitStatus(ctx context.Context, userUUID string, state models.TransitionState) {
	err := r.publisher.Publish(ctx, events.TransitionStatusUpdated{
		UserUUID:            userUUID,
		Status:              state,
		TransitionType:      r.transitionType,
		TransitionTimestamp: r.clock.NowMicroseconds(),
	})
	if err != nil {
		r.logger.Error(ctx, "failed to publish transition status", "user", userUUID, "error", err.Error())
	}
}
