package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hellocng/deepstack-sub002/common/models"
)

var (
	// ErrEntryNotFound is returned when no entry has the requested id
	ErrEntryNotFound = errors.New("waitlist entry not found")

	// ErrVersionConflict is returned when a transaction lost a race on an entry or position
	ErrVersionConflict = errors.New("waitlist entry version conflict")

	// ErrDuplicateActive is returned when a player would hold two active entries in one partition
	ErrDuplicateActive = errors.New("player already has an active entry in this partition")
)

// EntryReader reads waitlist entries
type EntryReader interface {
	// Get returns ErrEntryNotFound when the id is unknown
	Get(ctx context.Context, id string) (*models.WaitlistEntry, error)

	// ListActiveByPartition returns active entries ordered by position, created_at, id
	ListActiveByPartition(ctx context.Context, p models.Partition) ([]*models.WaitlistEntry, error)
}

// EntryTx is the write side of the store, only usable inside InTx
type EntryTx interface {
	EntryReader

	// Insert stores a new entry and returns it with version and timestamps filled in
	Insert(ctx context.Context, entry *models.WaitlistEntry) (*models.WaitlistEntry, error)

	// ConditionalUpdate writes u only if the entry is still at expectedVersion.
	// It bumps the version and reports false when the entry moved on or vanished.
	ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, u models.EntryUpdate) (bool, error)

	// AppendEvent records a history step; Seq and ID are assigned by the store
	AppendEvent(ctx context.Context, event *models.EntryEvent) error
}

// EntryStore is the transactional boundary around waitlist entries
type EntryStore interface {
	EntryReader

	// InTx runs fn in one transaction. Any error from fn rolls back every write.
	// Lost races surface as ErrVersionConflict, including those detected at commit.
	InTx(ctx context.Context, fn func(ctx context.Context, tx EntryTx) error) error

	// ListEvents returns an entry's history in seq order
	ListEvents(ctx context.Context, entryID string) ([]*models.EntryEvent, error)

	// ListByStatus returns up to limit entries in status ordered by update time
	// and id, starting after the cursor. A nil cursor starts at the oldest.
	ListByStatus(ctx context.Context, status models.EntryStatus, after *StatusCursor, limit int) ([]*models.WaitlistEntry, error)
}

// StatusCursor marks the last entry of a ListByStatus page
type StatusCursor struct {
	UpdatedAt time.Time
	ID        string
}

// CursorAt returns the cursor positioned on e
func CursorAt(e *models.WaitlistEntry) *StatusCursor {
	return &StatusCursor{UpdatedAt: e.UpdatedAt, ID: e.ID}
}

// Precedes reports whether e sorts at or before the cursor
func (c *StatusCursor) Precedes(e *models.WaitlistEntry) bool {
	if c == nil {
		return false
	}
	if !e.UpdatedAt.Equal(c.UpdatedAt) {
		return e.UpdatedAt.Before(c.UpdatedAt)
	}
	return e.ID <= c.ID
}
