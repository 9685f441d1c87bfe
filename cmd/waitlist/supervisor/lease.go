package supervisor

import (
	"context"
	"time"

	"github.com/google/uuid"
	rediscommon "github.com/hellocng/deepstack-sub002/common/redis"
)

// LeaseKey is the Redis key holding the sweep leader lease
const LeaseKey = "waitlist:sweep:lease"

// Lease elects one sweeper among replicas for a pass
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLease is a SETNX lease owned by a per-process token
type RedisLease struct {
	redis *rediscommon.Client
	key   string
	token string
	ttl   time.Duration
}

// NewRedisLease creates a lease on LeaseKey
func NewRedisLease(redis *rediscommon.Client, ttl time.Duration) *RedisLease {
	return &RedisLease{
		redis: redis,
		key:   LeaseKey,
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

// Acquire takes the lease if nobody holds it
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	return l.redis.SetNX(ctx, l.key, l.token, l.ttl)
}

// Release gives the lease back if this process still holds it
func (l *RedisLease) Release(ctx context.Context) error {
	_, err := l.redis.DeleteIfValue(ctx, l.key, l.token)
	return err
}
