package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hellocng/deepstack-sub002/cmd/waitlist/models"
)

// MemoryRoomStaff keeps staff grants in process
type MemoryRoomStaff struct {
	grants map[string]*models.RoomStaff
	mu     sync.RWMutex
}

// NewMemoryRoomStaff creates an empty grant table
func NewMemoryRoomStaff() *MemoryRoomStaff {
	return &MemoryRoomStaff{grants: make(map[string]*models.RoomStaff)}
}

func staffKey(roomID, userID string) string {
	return roomID + "\x00" + userID
}

// Role returns the user's role in the room; users without a grant are players
func (m *MemoryRoomStaff) Role(ctx context.Context, roomID, userID string) (models.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if g, ok := m.grants[staffKey(roomID, userID)]; ok {
		return g.Role, nil
	}
	return models.RolePlayer, nil
}

// Grant gives a user a staff role in a room
func (m *MemoryRoomStaff) Grant(ctx context.Context, roomID, userID string, role models.Role) error {
	if !role.IsStaff() {
		return fmt.Errorf("role %q is not a staff role", role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.grants[staffKey(roomID, userID)] = &models.RoomStaff{
		RoomID:    roomID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// Revoke removes a user's staff grant in a room
func (m *MemoryRoomStaff) Revoke(ctx context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.grants, staffKey(roomID, userID))
	return nil
}

// ListByRoom returns every staff grant of a room ordered by user
func (m *MemoryRoomStaff) ListByRoom(ctx context.Context, roomID string) ([]*models.RoomStaff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	staff := make([]*models.RoomStaff, 0)
	for _, g := range m.grants {
		if g.RoomID == roomID {
			c := *g
			staff = append(staff, &c)
		}
	}
	sort.Slice(staff, func(i, j int) bool { return staff[i].UserID < staff[j].UserID })
	return staff, nil
}
