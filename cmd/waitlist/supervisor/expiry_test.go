package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hellocng/deepstack-sub002/cmd/waitlist/service"
	"github.com/hellocng/deepstack-sub002/common/config"
	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/hellocng/deepstack-sub002/common/notifier"
	"github.com/hellocng/deepstack-sub002/common/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLease struct {
	mu       sync.Mutex
	held     bool
	err      error
	acquired int
	released int
}

func (l *fakeLease) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *fakeLease) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

type sweepFixture struct {
	store   *repository.MemoryEntryStore
	svc     *service.WaitlistService
	sweeper *ExpirySweeper
}

func newSweepFixture(t *testing.T, entries ...*models.WaitlistEntry) *sweepFixture {
	t.Helper()

	store := repository.NewMemoryEntryStore()
	store.Seed(entries...)

	svc := service.NewWaitlistService(store, notifier.Nop{}, logger.Discard(), service.Options{
		MaxAttempts: 3,
		Clock:       func() time.Time { return sweepNow },
	})

	policy, err := NewExpiryPolicy(config.DefaultSweepPolicy, 10*time.Minute)
	require.NoError(t, err)

	sweeper := NewExpirySweeper(store, svc, policy, logger.Discard())
	sweeper.now = func() time.Time { return sweepNow }

	return &sweepFixture{store: store, svc: svc, sweeper: sweeper}
}

func seeded(positions ...*models.WaitlistEntry) []*models.WaitlistEntry {
	for i, e := range positions {
		e.Position = i
		e.Version = 1
	}
	return positions
}

func TestSweepCancelsStaleEntries(t *testing.T) {
	waiting := notifiedEntry("w", 0)
	waiting.Status = models.StatusWaiting
	waiting.NotifiedAt = nil

	f := newSweepFixture(t, seeded(
		notifiedEntry("stale", time.Hour),
		waiting,
		notifiedEntry("fresh", time.Minute),
	)...)

	n, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := f.svc.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stale.Status)
	require.NotNil(t, stale.CancelledBy)
	assert.Equal(t, SweepActor, *stale.CancelledBy)

	active, err := f.svc.ListPartition(context.Background(), "bellagio", "nlh-2-5")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "w", active[0].ID)
	assert.Equal(t, 0, active[0].Position)
	assert.Equal(t, "fresh", active[1].ID)
	assert.Equal(t, 1, active[1].Position)

	// Nothing left to expire
	n, err = f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepRespectsBatchSize(t *testing.T) {
	f := newSweepFixture(t, seeded(
		notifiedEntry("a", 3*time.Hour),
		notifiedEntry("b", 2*time.Hour),
		notifiedEntry("c", time.Hour),
	)...)
	f.sweeper.WithBatchSize(2)

	n, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepPagesPastEntriesThePolicyKeeps(t *testing.T) {
	calledIn := func(id string, ago time.Duration) *models.WaitlistEntry {
		e := notifiedEntry(id, ago)
		at := e.NotifiedAt.Add(-time.Minute)
		e.CalledInAt = &at
		return e
	}

	// The three oldest notified entries were called in and get double the TTL
	f := newSweepFixture(t, seeded(
		calledIn("c1", 9*time.Minute),
		calledIn("c2", 8*time.Minute),
		calledIn("c3", 7*time.Minute),
		notifiedEntry("walk-up", 6*time.Minute),
	)...)
	policy, err := NewExpiryPolicy(`entry.calledIn ? ageSeconds >= ttlSeconds * 2 : ageSeconds >= ttlSeconds`, 5*time.Minute)
	require.NoError(t, err)
	f.sweeper.policy = policy
	f.sweeper.WithBatchSize(2)

	n, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	walkUp, err := f.svc.Get(context.Background(), "walk-up")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, walkUp.Status)

	for _, id := range []string{"c1", "c2", "c3"} {
		e, err := f.svc.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusNotified, e.Status)
	}
}

func TestSweepSkipsWithoutLease(t *testing.T) {
	f := newSweepFixture(t, seeded(notifiedEntry("stale", time.Hour))...)

	lease := &fakeLease{held: true}
	f.sweeper.WithLease(lease)

	n, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, lease.released)

	lease.held = false
	n, err = f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, lease.acquired)
	assert.Equal(t, 1, lease.released)
}

func TestSweepLeaseError(t *testing.T) {
	f := newSweepFixture(t, seeded(notifiedEntry("stale", time.Hour))...)
	f.sweeper.WithLease(&fakeLease{err: errors.New("redis down")})

	_, err := f.sweeper.Sweep(context.Background())
	assert.ErrorContains(t, err, "redis down")
}

type racingCanceller struct {
	err error
}

func (c racingCanceller) Cancel(context.Context, string, string) (*models.WaitlistEntry, error) {
	return nil, c.err
}

func TestSweepToleratesEntriesThatMovedOn(t *testing.T) {
	f := newSweepFixture(t, seeded(notifiedEntry("stale", time.Hour))...)
	f.sweeper.waitlist = racingCanceller{err: &service.IllegalTransitionError{
		From: models.StatusSeated,
		To:   models.StatusCancelled,
	}}

	n, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweeperStopsWithContext(t *testing.T) {
	f := newSweepFixture(t, seeded(notifiedEntry("stale", time.Hour))...)
	f.sweeper.WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sweeper.Start(ctx) }()

	assert.Eventually(t, func() bool {
		e, err := f.svc.Get(context.Background(), "stale")
		return err == nil && e.Status == models.StatusCancelled
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
