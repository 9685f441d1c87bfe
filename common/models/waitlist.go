package models

import (
	"strings"
	"time"
)

// EntryStatus is the lifecycle state of a waitlist entry
type EntryStatus string

const (
	StatusWaiting   EntryStatus = "waiting"
	StatusCalledIn  EntryStatus = "calledin"
	StatusNotified  EntryStatus = "notified"
	StatusSeated    EntryStatus = "seated"
	StatusCancelled EntryStatus = "cancelled"
)

// ActiveStatuses are the statuses that hold a position in the queue
var ActiveStatuses = []EntryStatus{StatusWaiting, StatusCalledIn, StatusNotified}

// IsActive reports whether the status participates in position ordering
func (s EntryStatus) IsActive() bool {
	switch s {
	case StatusWaiting, StatusCalledIn, StatusNotified:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s EntryStatus) IsTerminal() bool {
	return s == StatusSeated || s == StatusCancelled
}

// Valid reports whether s is a known status
func (s EntryStatus) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// Partition identifies one queue: all active entries for a room and game
type Partition struct {
	RoomID string `json:"roomId"`
	GameID string `json:"gameId"`
}

// KeySeparator joins room and game in a partition key. Neither id may contain it.
const KeySeparator = ":"

// Key is the partition key used for channels and hub routing
func (p Partition) Key() string {
	return p.RoomID + KeySeparator + p.GameID
}

// Valid reports whether both ids are set and the key maps back to p alone
func (p Partition) Valid() bool {
	return p.RoomID != "" && p.GameID != "" &&
		!strings.Contains(p.RoomID, KeySeparator) &&
		!strings.Contains(p.GameID, KeySeparator)
}

// WaitlistEntry is one player's place in a game's queue
// Maps to: waitlist_entry table
type WaitlistEntry struct {
	ID       string `db:"id" json:"id"`
	RoomID   string `db:"room_id" json:"roomId"`
	GameID   string `db:"game_id" json:"gameId"`
	PlayerID string `db:"player_id" json:"playerId"`

	// 0-based, contiguous among active entries of the partition
	Position int `db:"position" json:"position"`

	Status EntryStatus `db:"status" json:"status"`

	// Transition stamps, each set once
	CalledInAt  *time.Time `db:"called_in_at" json:"calledInAt,omitempty"`
	NotifiedAt  *time.Time `db:"notified_at" json:"notifiedAt,omitempty"`
	SeatedAt    *time.Time `db:"seated_at" json:"seatedAt,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`
	CancelledBy *string    `db:"cancelled_by" json:"cancelledBy,omitempty"`

	// Optimistic locking version (for conditional updates)
	Version int64 `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Partition returns the queue this entry belongs to
func (e *WaitlistEntry) Partition() Partition {
	return Partition{RoomID: e.RoomID, GameID: e.GameID}
}

// Clone returns a deep copy
func (e *WaitlistEntry) Clone() *WaitlistEntry {
	c := *e
	c.CalledInAt = cloneTime(e.CalledInAt)
	c.NotifiedAt = cloneTime(e.NotifiedAt)
	c.SeatedAt = cloneTime(e.SeatedAt)
	c.CancelledAt = cloneTime(e.CancelledAt)
	if e.CancelledBy != nil {
		by := *e.CancelledBy
		c.CancelledBy = &by
	}
	return &c
}

// Apply copies the set fields of u onto the entry. Version is not touched.
func (e *WaitlistEntry) Apply(u EntryUpdate) {
	if u.Position != nil {
		e.Position = *u.Position
	}
	if u.Status != nil {
		e.Status = *u.Status
	}
	if u.CalledInAt != nil {
		e.CalledInAt = cloneTime(u.CalledInAt)
	}
	if u.NotifiedAt != nil {
		e.NotifiedAt = cloneTime(u.NotifiedAt)
	}
	if u.SeatedAt != nil {
		e.SeatedAt = cloneTime(u.SeatedAt)
	}
	if u.CancelledAt != nil {
		e.CancelledAt = cloneTime(u.CancelledAt)
	}
	if u.CancelledBy != nil {
		by := *u.CancelledBy
		e.CancelledBy = &by
	}
	e.UpdatedAt = u.UpdatedAt
}

// EntryUpdate is the set of fields a conditional update writes. Nil fields are left as is.
type EntryUpdate struct {
	Position    *int
	Status      *EntryStatus
	CalledInAt  *time.Time
	NotifiedAt  *time.Time
	SeatedAt    *time.Time
	CancelledAt *time.Time
	CancelledBy *string
	UpdatedAt   time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
