package models

import (
	"encoding/json"
	"time"
)

// EntryAction names the mutation recorded in an entry's history
type EntryAction string

const (
	ActionJoined       EntryAction = "joined"
	ActionMovedUp      EntryAction = "moved_up"
	ActionMovedDown    EntryAction = "moved_down"
	ActionRepositioned EntryAction = "repositioned"
	ActionCalledIn     EntryAction = "called_in"
	ActionNotified     EntryAction = "notified"
	ActionSeated       EntryAction = "seated"
	ActionCancelled    EntryAction = "cancelled"
)

// EntryEvent is one step of an entry's history
// Maps to: waitlist_event table
type EntryEvent struct {
	ID      int64       `db:"id" json:"id"`
	EntryID string      `db:"entry_id" json:"entryId"`
	Seq     int         `db:"seq" json:"seq"`
	Action  EntryAction `db:"action" json:"action"`
	Actor   *string     `db:"actor" json:"actor,omitempty"`

	// RFC 7386 merge patch from the previous snapshot of the entry
	Patch json.RawMessage `db:"patch" json:"patch"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// ChangeEvent is the payload published when a partition changes
type ChangeEvent struct {
	RoomID   string    `json:"roomId"`
	GameID   string    `json:"gameId"`
	Revision int64     `json:"revision,omitempty"`
	At       time.Time `json:"at"`
}

// Partition returns the queue the event refers to
func (e *ChangeEvent) Partition() Partition {
	return Partition{RoomID: e.RoomID, GameID: e.GameID}
}
