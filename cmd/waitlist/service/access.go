package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hellocng/deepstack-sub002/cmd/waitlist/models"
	"github.com/hellocng/deepstack-sub002/common/cache"
	"github.com/hellocng/deepstack-sub002/common/logger"
)

// StaffStore persists per-room staff grants
type StaffStore interface {
	Role(ctx context.Context, roomID, userID string) (models.Role, error)
	Grant(ctx context.Context, roomID, userID string, role models.Role) error
	Revoke(ctx context.Context, roomID, userID string) error
	ListByRoom(ctx context.Context, roomID string) ([]*models.RoomStaff, error)
}

// AccessService resolves room roles, caching lookups when a cache is configured
type AccessService struct {
	store StaffStore
	cache cache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewAccessService creates an access service. A nil cache disables caching.
func NewAccessService(store StaffStore, c cache.Cache, ttl time.Duration, log *logger.Logger) *AccessService {
	return &AccessService{
		store: store,
		cache: c,
		ttl:   ttl,
		log:   log,
	}
}

func roleCacheKey(roomID, userID string) string {
	return fmt.Sprintf("room_role:%s:%s", roomID, userID)
}

// Role returns the user's role in the room
func (s *AccessService) Role(ctx context.Context, roomID, userID string) (models.Role, error) {
	key := roleCacheKey(roomID, userID)

	if s.cache != nil {
		if v, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			return models.Role(v), nil
		}
	}

	role, err := s.store.Role(ctx, roomID, userID)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, []byte(role), s.ttl); err != nil {
			s.log.Warn("failed to cache room role", "room_id", roomID, "user_id", userID, "error", err)
		}
	}

	return role, nil
}

// Grant gives a user a staff role and drops the cached role
func (s *AccessService) Grant(ctx context.Context, roomID, userID string, role models.Role) error {
	if blank(roomID, userID) || !role.IsStaff() {
		return fmt.Errorf("%w: room, user and a staff role are required", ErrInvalidInput)
	}

	if err := s.store.Grant(ctx, roomID, userID, role); err != nil {
		return err
	}
	s.forget(ctx, roomID, userID)

	s.log.Info("granted room role", "room_id", roomID, "user_id", userID, "role", role)
	return nil
}

// Revoke removes a user's staff grant and drops the cached role
func (s *AccessService) Revoke(ctx context.Context, roomID, userID string) error {
	if err := s.store.Revoke(ctx, roomID, userID); err != nil {
		return err
	}
	s.forget(ctx, roomID, userID)

	s.log.Info("revoked room role", "room_id", roomID, "user_id", userID)
	return nil
}

// ListStaff returns the room's staff grants
func (s *AccessService) ListStaff(ctx context.Context, roomID string) ([]*models.RoomStaff, error) {
	return s.store.ListByRoom(ctx, roomID)
}

func (s *AccessService) forget(ctx context.Context, roomID, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, roleCacheKey(roomID, userID)); err != nil {
		s.log.Warn("failed to drop cached room role", "room_id", roomID, "user_id", userID, "error", err)
	}
}
