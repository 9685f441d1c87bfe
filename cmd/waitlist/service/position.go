package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/hellocng/deepstack-sub002/common/repository"
)

// Change is one entry rewritten inside a transaction.
// Before is nil for inserted entries.
type Change struct {
	Before *models.WaitlistEntry
	After  *models.WaitlistEntry
	Action models.EntryAction
}

// PositionEngine keeps positions contiguous and applies operator reordering.
// Every method runs inside the caller's transaction.
type PositionEngine struct{}

// NewPositionEngine creates a position engine
func NewPositionEngine() *PositionEngine {
	return &PositionEngine{}
}

// MoveUp swaps target with its predecessor. It returns false when target is already first.
func (e *PositionEngine) MoveUp(ctx context.Context, tx repository.EntryTx, target *models.WaitlistEntry, now time.Time) (bool, []Change, error) {
	return e.swap(ctx, tx, target, -1, models.ActionMovedUp, now)
}

// MoveDown swaps target with its successor. It returns false when target is already last.
func (e *PositionEngine) MoveDown(ctx context.Context, tx repository.EntryTx, target *models.WaitlistEntry, now time.Time) (bool, []Change, error) {
	return e.swap(ctx, tx, target, 1, models.ActionMovedDown, now)
}

func (e *PositionEngine) swap(ctx context.Context, tx repository.EntryTx, target *models.WaitlistEntry, step int, action models.EntryAction, now time.Time) (bool, []Change, error) {
	if !target.Status.IsActive() {
		return false, nil, fmt.Errorf("%w: entry %s is %s", ErrNotActive, target.ID, target.Status)
	}

	queue, err := tx.ListActiveByPartition(ctx, target.Partition())
	if err != nil {
		return false, nil, fmt.Errorf("failed to list partition: %w", err)
	}
	repository.SortQueue(queue)

	idx := indexOf(queue, target.ID)
	if idx < 0 {
		// Left the queue between the read and the partition lock
		return false, nil, fmt.Errorf("%w: entry %s left the queue", repository.ErrVersionConflict, target.ID)
	}
	if queue[idx].Version != target.Version {
		return false, nil, fmt.Errorf("%w: entry %s changed", repository.ErrVersionConflict, target.ID)
	}

	// Swap by queue order, not raw position, so a damaged partition still moves one step
	other := idx + step
	if other < 0 || other >= len(queue) {
		return false, nil, nil
	}

	mover, neighbour := queue[idx], queue[other]
	moverPos, neighbourPos := neighbour.Position, mover.Position
	if moverPos == neighbourPos {
		moverPos, neighbourPos = other, idx
	}

	moved, err := rewritePosition(ctx, tx, mover, moverPos, action, now)
	if err != nil {
		return false, nil, err
	}
	displaced, err := rewritePosition(ctx, tx, neighbour, neighbourPos, models.ActionRepositioned, now)
	if err != nil {
		return false, nil, err
	}

	return true, []Change{moved, displaced}, nil
}

// Compact renumbers the active entries of p to 0..n-1 in queue order.
// Equal positions order by join time.
func (e *PositionEngine) Compact(ctx context.Context, tx repository.EntryTx, p models.Partition, now time.Time) ([]Change, error) {
	queue, err := tx.ListActiveByPartition(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list partition: %w", err)
	}
	repository.SortQueue(queue)

	var changes []Change
	for i, entry := range queue {
		if entry.Position == i {
			continue
		}
		change, err := rewritePosition(ctx, tx, entry, i, models.ActionRepositioned, now)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}

	return changes, nil
}

func rewritePosition(ctx context.Context, tx repository.EntryTx, entry *models.WaitlistEntry, position int, action models.EntryAction, now time.Time) (Change, error) {
	update := models.EntryUpdate{
		Position:  &position,
		UpdatedAt: now,
	}

	ok, err := tx.ConditionalUpdate(ctx, entry.ID, entry.Version, update)
	if err != nil {
		return Change{}, fmt.Errorf("failed to reposition entry %s: %w", entry.ID, err)
	}
	if !ok {
		return Change{}, fmt.Errorf("%w: entry %s", repository.ErrVersionConflict, entry.ID)
	}

	return Change{Before: entry, After: applied(entry, update), Action: action}, nil
}

// applied is the entry as the store holds it after a successful conditional update
func applied(entry *models.WaitlistEntry, u models.EntryUpdate) *models.WaitlistEntry {
	after := entry.Clone()
	after.Apply(u)
	after.Version++
	return after
}

func indexOf(queue []*models.WaitlistEntry, id string) int {
	for i, e := range queue {
		if e.ID == id {
			return i
		}
	}
	return -1
}
