package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/hellocng/deepstack-sub002/common/repository"
)

// transitions lists the legal targets of each status. Terminal statuses have none.
var transitions = map[models.EntryStatus][]models.EntryStatus{
	models.StatusWaiting:  {models.StatusCalledIn, models.StatusNotified, models.StatusCancelled},
	models.StatusCalledIn: {models.StatusNotified, models.StatusCancelled},
	models.StatusNotified: {models.StatusSeated, models.StatusCancelled},
}

// CanTransition reports whether from -> to is in the transition table
func CanTransition(from, to models.EntryStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an *IllegalTransitionError when from -> to is not allowed
func CheckTransition(from, to models.EntryStatus) error {
	if !CanTransition(from, to) {
		return &IllegalTransitionError{From: from, To: to}
	}
	return nil
}

// TransitionGuard enforces the status state machine and compacts the queue
// after an entry reaches a terminal status
type TransitionGuard struct {
	positions *PositionEngine
}

// NewTransitionGuard creates a guard that compacts through positions
func NewTransitionGuard(positions *PositionEngine) *TransitionGuard {
	return &TransitionGuard{positions: positions}
}

// Cancel moves an active entry to cancelled, stamps the actor and compacts the partition
func (g *TransitionGuard) Cancel(ctx context.Context, tx repository.EntryTx, id, actor string, now time.Time) ([]Change, error) {
	return g.apply(ctx, tx, id, models.StatusCancelled, now, func(u *models.EntryUpdate) {
		u.CancelledAt = &now
		u.CancelledBy = &actor
	})
}

// MarkCalledIn moves a waiting entry to calledin. Position is unchanged.
func (g *TransitionGuard) MarkCalledIn(ctx context.Context, tx repository.EntryTx, id string, now time.Time) ([]Change, error) {
	return g.apply(ctx, tx, id, models.StatusCalledIn, now, func(u *models.EntryUpdate) {
		u.CalledInAt = &now
	})
}

// MarkNotified moves a waiting or called-in entry to notified. Position is unchanged.
func (g *TransitionGuard) MarkNotified(ctx context.Context, tx repository.EntryTx, id string, now time.Time) ([]Change, error) {
	return g.apply(ctx, tx, id, models.StatusNotified, now, func(u *models.EntryUpdate) {
		u.NotifiedAt = &now
	})
}

// Seat moves a notified entry to seated and compacts the partition
func (g *TransitionGuard) Seat(ctx context.Context, tx repository.EntryTx, id string, now time.Time) ([]Change, error) {
	return g.apply(ctx, tx, id, models.StatusSeated, now, func(u *models.EntryUpdate) {
		u.SeatedAt = &now
	})
}

func (g *TransitionGuard) apply(ctx context.Context, tx repository.EntryTx, id string, to models.EntryStatus, now time.Time, stamp func(*models.EntryUpdate)) ([]Change, error) {
	entry, err := getEntry(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(entry.Status, to); err != nil {
		return nil, err
	}

	leaving := to.IsTerminal()
	if leaving {
		// Lock the partition before writing, then re-read under the lock
		if _, err := tx.ListActiveByPartition(ctx, entry.Partition()); err != nil {
			return nil, fmt.Errorf("failed to list partition: %w", err)
		}
		if entry, err = getEntry(ctx, tx, id); err != nil {
			return nil, err
		}
		if err := CheckTransition(entry.Status, to); err != nil {
			return nil, err
		}
	}

	update := models.EntryUpdate{
		Status:    &to,
		UpdatedAt: now,
	}
	stamp(&update)

	ok, err := tx.ConditionalUpdate(ctx, entry.ID, entry.Version, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update entry %s: %w", entry.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: entry %s", repository.ErrVersionConflict, entry.ID)
	}

	changes := []Change{{Before: entry, After: applied(entry, update), Action: actionFor(to)}}

	if leaving {
		compacted, err := g.positions.Compact(ctx, tx, entry.Partition(), now)
		if err != nil {
			return nil, err
		}
		changes = append(changes, compacted...)
	}

	return changes, nil
}

func getEntry(ctx context.Context, r repository.EntryReader, id string) (*models.WaitlistEntry, error) {
	entry, err := r.Get(ctx, id)
	if errors.Is(err, repository.ErrEntryNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return entry, nil
}

func actionFor(to models.EntryStatus) models.EntryAction {
	switch to {
	case models.StatusCalledIn:
		return models.ActionCalledIn
	case models.StatusNotified:
		return models.ActionNotified
	case models.StatusSeated:
		return models.ActionSeated
	default:
		return models.ActionCancelled
	}
}
