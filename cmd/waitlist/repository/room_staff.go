package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/hellocng/deepstack-sub002/cmd/waitlist/models"
	"github.com/hellocng/deepstack-sub002/common/db"
	"github.com/jackc/pgx/v5"
)

// RoomStaffRepository handles database operations for room staff grants
type RoomStaffRepository struct {
	db *db.DB
}

// NewRoomStaffRepository creates a new room staff repository
func NewRoomStaffRepository(db *db.DB) *RoomStaffRepository {
	return &RoomStaffRepository{db: db}
}

// Role returns the user's role in the room; users without a grant are players
func (r *RoomStaffRepository) Role(ctx context.Context, roomID, userID string) (models.Role, error) {
	query := `
		SELECT role
		FROM room_staff
		WHERE room_id = $1 AND user_id = $2
	`

	var role string
	err := r.db.QueryRow(ctx, query, roomID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RolePlayer, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get room role: %w", err)
	}

	return models.ParseRole(role), nil
}

// Grant gives a user a staff role in a room, replacing any previous grant
func (r *RoomStaffRepository) Grant(ctx context.Context, roomID, userID string, role models.Role) error {
	if !role.IsStaff() {
		return fmt.Errorf("role %q is not a staff role", role)
	}

	query := `
		INSERT INTO room_staff (room_id, user_id, role, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (room_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`

	if _, err := r.db.Exec(ctx, query, roomID, userID, string(role)); err != nil {
		return fmt.Errorf("failed to grant room role: %w", err)
	}

	return nil
}

// Revoke removes a user's staff grant in a room
func (r *RoomStaffRepository) Revoke(ctx context.Context, roomID, userID string) error {
	query := `DELETE FROM room_staff WHERE room_id = $1 AND user_id = $2`

	if _, err := r.db.Exec(ctx, query, roomID, userID); err != nil {
		return fmt.Errorf("failed to revoke room role: %w", err)
	}

	return nil
}

// ListByRoom returns every staff grant of a room
func (r *RoomStaffRepository) ListByRoom(ctx context.Context, roomID string) ([]*models.RoomStaff, error) {
	query := `
		SELECT room_id, user_id, role, created_at
		FROM room_staff
		WHERE room_id = $1
		ORDER BY user_id
	`

	rows, err := r.db.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room staff: %w", err)
	}
	defer rows.Close()

	staff := make([]*models.RoomStaff, 0)
	for rows.Next() {
		var s models.RoomStaff
		var role string
		if err := rows.Scan(&s.RoomID, &s.UserID, &role, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room staff: %w", err)
		}
		s.Role = models.ParseRole(role)
		staff = append(staff, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate room staff: %w", err)
	}

	return staff, nil
}
