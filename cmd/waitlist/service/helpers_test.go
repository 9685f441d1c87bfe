package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/hellocng/deepstack-sub002/common/repository"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu        sync.Mutex
	published []models.Partition
}

func (n *recordingNotifier) Publish(_ context.Context, p models.Partition) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, p)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.published)
}

// stepClock advances one second per reading so join order is strict
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)}
}

type fixture struct {
	svc      *WaitlistService
	store    *repository.MemoryEntryStore
	notifier *recordingNotifier
	clock    *stepClock
}

func newFixture(t testing.TB) *fixture {
	t.Helper()

	store := repository.NewMemoryEntryStore()
	rec := &recordingNotifier{}
	clock := newClock()

	return &fixture{
		svc:      newService(store, rec, clock),
		store:    store,
		notifier: rec,
		clock:    clock,
	}
}

func newService(store repository.EntryStore, n *recordingNotifier, clock *stepClock) *WaitlistService {
	return NewWaitlistService(store, n, logger.Discard(), Options{
		MaxAttempts:  5,
		StoreRetries: 1,
		Clock:        clock.Now,
	})
}

// join adds players p1..pn to the partition and returns their entry ids in order
func (f *fixture) join(t testing.TB, roomID, gameID string, n int) []string {
	t.Helper()

	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		entry, err := f.svc.Join(context.Background(), roomID, gameID, fmt.Sprintf("p%d", i))
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}
	return ids
}

// order returns the active entry ids of the partition in queue order
func (f *fixture) order(t *testing.T, roomID, gameID string) []string {
	t.Helper()

	queue, err := f.svc.ListPartition(context.Background(), roomID, gameID)
	require.NoError(t, err)

	ids := make([]string, 0, len(queue))
	for _, e := range queue {
		ids = append(ids, e.ID)
	}
	return ids
}

// requireContiguous checks active positions are exactly 0..n-1
func requireContiguous(t *testing.T, store repository.EntryReader, p models.Partition) {
	t.Helper()

	queue, err := store.ListActiveByPartition(context.Background(), p)
	require.NoError(t, err)
	repository.SortQueue(queue)

	for i, e := range queue {
		require.Equalf(t, i, e.Position, "entry %s in %s", e.ID, p.Key())
	}
}

// hookStore runs a callback once at a chosen point inside the next transaction
type hookStore struct {
	*repository.MemoryEntryStore

	mu          sync.Mutex
	beforeList  func()
	afterUpdate func()
}

func (s *hookStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.EntryTx) error) error {
	return s.MemoryEntryStore.InTx(ctx, func(ctx context.Context, tx repository.EntryTx) error {
		return fn(ctx, &hookTx{EntryTx: tx, store: s})
	})
}

func (s *hookStore) take(hook *func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := *hook
	*hook = nil
	return h
}

type hookTx struct {
	repository.EntryTx
	store *hookStore
}

func (t *hookTx) ListActiveByPartition(ctx context.Context, p models.Partition) ([]*models.WaitlistEntry, error) {
	if h := t.store.take(&t.store.beforeList); h != nil {
		h()
	}
	return t.EntryTx.ListActiveByPartition(ctx, p)
}

func (t *hookTx) ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, u models.EntryUpdate) (bool, error) {
	ok, err := t.EntryTx.ConditionalUpdate(ctx, id, expectedVersion, u)
	if h := t.store.take(&t.store.afterUpdate); h != nil {
		h()
	}
	return ok, err
}

// conflictStore fails every transaction with a version conflict
type conflictStore struct {
	*repository.MemoryEntryStore

	mu    sync.Mutex
	calls int
}

func (s *conflictStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.EntryTx) error) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return fmt.Errorf("%w: simulated", repository.ErrVersionConflict)
}
