package models

import "time"

// Role is what a user may do in a room
type Role string

const (
	RolePlayer Role = "player"
	RoleDealer Role = "dealer"
	RoleFloor  Role = "floor"
	RoleAdmin  Role = "admin"
)

// IsStaff reports whether the role may manage the room's waitlists
func (r Role) IsStaff() bool {
	switch r {
	case RoleDealer, RoleFloor, RoleAdmin:
		return true
	}
	return false
}

// ParseRole maps a stored role name to a Role. Unknown names are players.
func ParseRole(s string) Role {
	switch r := Role(s); r {
	case RoleDealer, RoleFloor, RoleAdmin:
		return r
	}
	return RolePlayer
}

// RoomStaff grants a user a staff role in one room
// Maps to: room_staff table
type RoomStaff struct {
	RoomID    string    `db:"room_id" json:"roomId"`
	UserID    string    `db:"user_id" json:"userId"`
	Role      Role      `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
