package service

import (
	"context"
	"testing"
	"time"

	"github.com/hellocng/deepstack-sub002/cmd/waitlist/models"
	"github.com/hellocng/deepstack-sub002/cmd/waitlist/repository"
	"github.com/hellocng/deepstack-sub002/common/cache"
	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStaff struct {
	*repository.MemoryRoomStaff
	lookups int
}

func (c *countingStaff) Role(ctx context.Context, roomID, userID string) (models.Role, error) {
	c.lookups++
	return c.MemoryRoomStaff.Role(ctx, roomID, userID)
}

func TestAccessServiceCachesRoles(t *testing.T) {
	ctx := context.Background()
	store := &countingStaff{MemoryRoomStaff: repository.NewMemoryRoomStaff()}
	c := cache.NewMemoryCache(logger.Discard())
	defer c.Close()

	access := NewAccessService(store, c, time.Minute, logger.Discard())
	require.NoError(t, access.Grant(ctx, "aria", "u1", models.RoleFloor))

	for i := 0; i < 3; i++ {
		role, err := access.Role(ctx, "aria", "u1")
		require.NoError(t, err)
		assert.Equal(t, models.RoleFloor, role)
	}
	assert.Equal(t, 1, store.lookups)

	// Revoking drops the cached grant
	require.NoError(t, access.Revoke(ctx, "aria", "u1"))
	role, err := access.Role(ctx, "aria", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RolePlayer, role)
	assert.Equal(t, 2, store.lookups)

	// Grants do not leak across rooms
	role, err = access.Role(ctx, "wynn", "u1")
	require.NoError(t, err)
	assert.False(t, role.IsStaff())
}

func TestAccessServiceWithoutCache(t *testing.T) {
	ctx := context.Background()
	store := &countingStaff{MemoryRoomStaff: repository.NewMemoryRoomStaff()}
	access := NewAccessService(store, nil, time.Minute, logger.Discard())

	_, err := access.Role(ctx, "aria", "u1")
	require.NoError(t, err)
	_, err = access.Role(ctx, "aria", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.lookups)

	assert.ErrorIs(t, access.Grant(ctx, "aria", "u1", models.RolePlayer), ErrInvalidInput)
}
