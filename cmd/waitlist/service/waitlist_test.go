package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/hellocng/deepstack-sub002/common/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	room = "bellagio"
	game = "nlh-2-5"
)

var partition = models.Partition{RoomID: room, GameID: game}

func TestJoinAppendsToTail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := f.join(t, room, game, 3)

	for i, id := range ids {
		entry, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i, entry.Position)
		assert.Equal(t, models.StatusWaiting, entry.Status)
		assert.Equal(t, int64(1), entry.Version)
	}
	assert.Equal(t, 3, f.notifier.count())

	// Other games in the same room are separate queues
	other, err := f.svc.Join(ctx, room, "plo-5-10", "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Position)
}

func TestJoinRejectsDuplicatePlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, room, game, 1)

	_, err := f.svc.Join(ctx, room, game, "p1")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, 1, f.notifier.count())

	// Leaving the queue allows a fresh join
	queue := f.order(t, room, game)
	_, err = f.svc.Cancel(ctx, queue[0], "p1")
	require.NoError(t, err)

	entry, err := f.svc.Join(ctx, room, game, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Position)
}

func TestJoinValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Join(context.Background(), room, " ", "p1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Colons would make two partitions share a channel
	_, err = f.svc.Join(context.Background(), "aria:high", "limit", "p1")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Join(context.Background(), "aria", "high:limit", "p1")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.ListPartition(context.Background(), "aria", "high:limit")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Zero(t, f.notifier.count())
}

func TestScenarioMoveCancelSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := f.join(t, room, game, 3)
	e1, e2, e3 := ids[0], ids[1], ids[2]

	moved, err := f.svc.MoveDown(ctx, e1)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{e2, e1, e3}, f.order(t, room, game))

	_, err = f.svc.Cancel(ctx, e3, "floor-1")
	require.NoError(t, err)
	assert.Equal(t, []string{e2, e1}, f.order(t, room, game))
	requireContiguous(t, f.store, partition)

	_, err = f.svc.Seat(ctx, e1)
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, models.StatusWaiting, illegal.From)
	assert.Equal(t, models.StatusSeated, illegal.To)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	entry, err := f.svc.Get(ctx, e1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, entry.Status)
	assert.Equal(t, 1, entry.Position)
}

func TestMoveDownThenUpRestoresOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := f.join(t, room, game, 4)
	before := f.order(t, room, game)
	require.Equal(t, ids, before)

	for _, id := range ids[:3] {
		moved, err := f.svc.MoveDown(ctx, id)
		require.NoError(t, err)
		require.True(t, moved)

		moved, err = f.svc.MoveUp(ctx, id)
		require.NoError(t, err)
		require.True(t, moved)

		assert.Equal(t, before, f.order(t, room, game))
	}
}

func TestMoveAtBoundaryIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := f.join(t, room, game, 2)
	published := f.notifier.count()

	moved, err := f.svc.MoveUp(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = f.svc.MoveDown(ctx, ids[1])
	require.NoError(t, err)
	assert.False(t, moved)

	assert.Equal(t, ids, f.order(t, room, game))
	assert.Equal(t, published, f.notifier.count())

	entry, err := f.svc.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Version)
}

func TestMoveOnlyTouchesTheTwoEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := f.join(t, room, game, 5)

	moved, err := f.svc.MoveUp(ctx, ids[3])
	require.NoError(t, err)
	require.True(t, moved)

	for _, i := range []int{0, 1, 4} {
		entry, err := f.svc.Get(ctx, ids[i])
		require.NoError(t, err)
		assert.Equal(t, int64(1), entry.Version, "entry %d should be untouched", i)
	}
	assert.Equal(t, []string{ids[0], ids[1], ids[3], ids[2], ids[4]}, f.order(t, room, game))
}

func TestMoveErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := f.join(t, room, game, 2)
	_, err := f.svc.Cancel(ctx, ids[0], "p1")
	require.NoError(t, err)

	_, err = f.svc.MoveDown(ctx, ids[0])
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = f.svc.MoveUp(ctx, "2b0c1d7e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.MoveUp(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCancelCompactsPreservingOrder(t *testing.T) {
	const n = 6

	for k := 0; k < n; k++ {
		f := newFixture(t)
		ctx := context.Background()

		ids := f.join(t, room, game, n)

		cancelled, err := f.svc.Cancel(ctx, ids[k], "floor-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, cancelled.Status)
		require.NotNil(t, cancelled.CancelledAt)
		require.NotNil(t, cancelled.CancelledBy)
		assert.Equal(t, "floor-1", *cancelled.CancelledBy)
		assert.Nil(t, cancelled.SeatedAt)

		want := append(append([]string{}, ids[:k]...), ids[k+1:]...)
		assert.Equal(t, want, f.order(t, room, game), "cancel at %d", k)
		requireContiguous(t, f.store, partition)

		// Position is frozen once terminal
		stored, err := f.svc.Get(ctx, ids[k])
		require.NoError(t, err)
		assert.Equal(t, k, stored.Position)
	}
}

func TestLifecycleToSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := f.join(t, room, game, 3)

	entry, err := f.svc.CallIn(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalledIn, entry.Status)
	assert.NotNil(t, entry.CalledInAt)
	assert.Equal(t, 1, entry.Position)

	entry, err = f.svc.Notify(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotified, entry.Status)
	assert.NotNil(t, entry.NotifiedAt)
	assert.Equal(t, 1, entry.Position)

	entry, err = f.svc.Seat(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.StatusSeated, entry.Status)
	assert.NotNil(t, entry.SeatedAt)
	assert.Nil(t, entry.CancelledAt)

	assert.Equal(t, []string{ids[0], ids[2]}, f.order(t, room, game))
	requireContiguous(t, f.store, partition)

	// Seated is terminal
	_, err = f.svc.Cancel(ctx, ids[1], "floor-1")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestNotifyStraightFromWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := f.join(t, room, game, 1)

	entry, err := f.svc.Notify(ctx, ids[0])
	require.NoError(t, err)
	assert.Nil(t, entry.CalledInAt)
	assert.NotNil(t, entry.NotifiedAt)

	_, err = f.svc.CallIn(ctx, ids[0])
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRandomOperationsKeepPositionsContiguous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	ids := f.join(t, room, game, 12)

	for step := 0; step < 300; step++ {
		id := ids[rng.IntN(len(ids))]

		var err error
		switch rng.IntN(6) {
		case 0:
			_, err = f.svc.MoveUp(ctx, id)
		case 1:
			_, err = f.svc.MoveDown(ctx, id)
		case 2:
			_, err = f.svc.Cancel(ctx, id, "floor-1")
		case 3:
			_, err = f.svc.Notify(ctx, id)
		case 4:
			_, err = f.svc.Seat(ctx, id)
		case 5:
			var entry *models.WaitlistEntry
			entry, err = f.svc.Join(ctx, room, game, "late-"+id)
			if err == nil {
				ids = append(ids, entry.ID)
			}
		}

		if err != nil && !errors.Is(err, ErrIllegalTransition) && !errors.Is(err, ErrNotActive) && !errors.Is(err, ErrAlreadyQueued) {
			t.Fatalf("step %d: unexpected error: %v", step, err)
		}

		requireContiguous(t, f.store, partition)
	}
}

func TestConcurrentMoveDownLoserSeesConflict(t *testing.T) {
	store := repository.NewMemoryEntryStore()
	clock := newClock()
	hooked := &hookStore{MemoryEntryStore: store}

	winner := newService(store, &recordingNotifier{}, clock)
	loser := newService(hooked, &recordingNotifier{}, clock)

	ctx := context.Background()
	var ids []string
	for _, player := range []string{"p1", "p2", "p3"} {
		entry, err := winner.Join(ctx, room, game, player)
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}

	var winnerMoved bool
	var winnerErr error
	hooked.beforeList = func() {
		winnerMoved, winnerErr = winner.MoveDown(ctx, ids[0])
	}

	moved, err := loser.MoveDown(ctx, ids[0])

	require.NoError(t, winnerErr)
	assert.True(t, winnerMoved)
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, moved)

	queue, err := store.ListActiveByPartition(ctx, partition)
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, []string{ids[1], ids[0], ids[2]}, []string{queue[0].ID, queue[1].ID, queue[2].ID})
}

func TestMoveRetriesAfterConcurrentChangeThatKeepsPlace(t *testing.T) {
	tests := []struct {
		name   string
		change func(t *testing.T, svc *WaitlistService, ids []string)
		want   func(ids []string) []string
		status models.EntryStatus
	}{
		{
			name: "cancel above compacts the target",
			change: func(t *testing.T, svc *WaitlistService, ids []string) {
				_, err := svc.Cancel(context.Background(), ids[0], "p1")
				require.NoError(t, err)
			},
			want:   func(ids []string) []string { return []string{ids[2], ids[1], ids[3]} },
			status: models.StatusWaiting,
		},
		{
			name: "call in stamps the target",
			change: func(t *testing.T, svc *WaitlistService, ids []string) {
				_, err := svc.CallIn(context.Background(), ids[1])
				require.NoError(t, err)
			},
			want:   func(ids []string) []string { return []string{ids[0], ids[2], ids[1], ids[3]} },
			status: models.StatusCalledIn,
		},
		{
			name: "player joins behind",
			change: func(t *testing.T, svc *WaitlistService, ids []string) {
				_, err := svc.Join(context.Background(), room, game, "p5")
				require.NoError(t, err)
			},
			want: func(ids []string) []string { return []string{ids[0], ids[2], ids[1], ids[3]} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			ids := f.join(t, room, game, 4)

			hooked := &hookStore{MemoryEntryStore: f.store}
			mover := newService(hooked, &recordingNotifier{}, f.clock)
			hooked.beforeList = func() { tt.change(t, f.svc, ids) }

			moved, err := mover.MoveDown(ctx, ids[1])
			require.NoError(t, err)
			assert.True(t, moved)

			order := f.order(t, room, game)
			want := tt.want(ids)
			assert.Equal(t, want, order[:len(want)])
			requireContiguous(t, f.store, partition)

			if tt.status != "" {
				entry, err := f.svc.Get(ctx, ids[1])
				require.NoError(t, err)
				assert.Equal(t, tt.status, entry.Status)
			}
		})
	}
}

func TestMoveConflictsWhenNeighbourMovedPastTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.join(t, room, game, 4)

	hooked := &hookStore{MemoryEntryStore: f.store}
	moverNotifier := &recordingNotifier{}
	mover := newService(hooked, moverNotifier, f.clock)

	// p3 jumps ahead of p2 while p2 is being moved down
	hooked.beforeList = func() {
		moved, err := f.svc.MoveUp(ctx, ids[2])
		require.NoError(t, err)
		require.True(t, moved)
	}

	moved, err := mover.MoveDown(ctx, ids[1])
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, moved)
	assert.Zero(t, moverNotifier.count())
	assert.Equal(t, []string{ids[0], ids[2], ids[1], ids[3]}, f.order(t, room, game))
}

func TestPlaceChanged(t *testing.T) {
	queue := func(ids ...string) []*models.WaitlistEntry {
		out := make([]*models.WaitlistEntry, 0, len(ids))
		for i, id := range ids {
			out = append(out, &models.WaitlistEntry{ID: id, Position: i})
		}
		return out
	}

	tests := []struct {
		name   string
		before []*models.WaitlistEntry
		after  []*models.WaitlistEntry
		want   bool
	}{
		{"unchanged", queue("a", "t", "b"), queue("a", "t", "b"), false},
		{"entry ahead left", queue("a", "t", "b"), queue("t", "b"), false},
		{"entry joined behind", queue("a", "t"), queue("a", "t", "c"), false},
		{"others swapped behind", queue("t", "a", "b"), queue("t", "b", "a"), false},
		{"target moved down", queue("a", "t", "b"), queue("a", "b", "t"), true},
		{"target moved up", queue("a", "t", "b"), queue("t", "a", "b"), true},
		{"left and swapped", queue("a", "t", "b", "c"), queue("b", "t", "c"), true},
		{"target gone", queue("a", "t"), queue("a"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, placeChanged(tt.before, tt.after, "t"))
		})
	}
}

func TestConcurrentMoveDownCommitRace(t *testing.T) {
	store := repository.NewMemoryEntryStore()
	clock := newClock()
	hooked := &hookStore{MemoryEntryStore: store}

	winner := newService(store, &recordingNotifier{}, clock)
	loserNotifier := &recordingNotifier{}
	loser := newService(hooked, loserNotifier, clock)

	ctx := context.Background()
	var ids []string
	for _, player := range []string{"p1", "p2", "p3"} {
		entry, err := winner.Join(ctx, room, game, player)
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}

	// The winner commits after the loser already wrote its swap
	hooked.afterUpdate = func() {
		_, err := winner.MoveDown(ctx, ids[0])
		require.NoError(t, err)
	}

	_, err := loser.MoveDown(ctx, ids[0])
	assert.ErrorIs(t, err, ErrConflict)
	assert.Zero(t, loserNotifier.count())

	entry, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)
	requireContiguous(t, store, partition)
}

func TestParallelMoveDownNeverDoubleSwaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := f.join(t, room, game, 6)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	swaps := 0

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			moved, err := f.svc.MoveDown(ctx, ids[0])
			if err != nil {
				assert.ErrorIs(t, err, ErrConflict)
				return
			}
			if moved {
				mu.Lock()
				swaps++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	entry, err := f.svc.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, swaps, entry.Position)
	requireContiguous(t, f.store, partition)
}

func TestMutationsPublishOncePerCommit(t *testing.T) {
	other := models.Partition{RoomID: room, GameID: "plo-5-10"}
	const missing = "2b0c1d7e-0000-4000-8000-000000000000"

	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture, ids []string)
		op      func(ctx context.Context, f *fixture, ids []string) error
		wantErr error
		want    []models.Partition
	}{
		{
			name: "cancel",
			op: func(ctx context.Context, f *fixture, ids []string) error {
				_, err := f.svc.Cancel(ctx, ids[0], "p1")
				return err
			},
			want: []models.Partition{other},
		},
		{
			name: "call in",
			op: func(ctx context.Context, f *fixture, ids []string) error {
				_, err := f.svc.CallIn(ctx, ids[1])
				return err
			},
			want: []models.Partition{other},
		},
		{
			name: "notify",
			op: func(ctx context.Context, f *fixture, ids []string) error {
				_, err := f.svc.Notify(ctx, ids[1])
				return err
			},
			want: []models.Partition{other},
		},
		{
			name: "seat",
			setup: func(t *testing.T, f *fixture, ids []string) {
				_, err := f.svc.Notify(context.Background(), ids[0])
				require.NoError(t, err)
			},
			op: func(ctx context.Context, f *fixture, ids []string) error {
				_, err := f.svc.Seat(ctx, ids[0])
				return err
			},
			want: []models.Partition{other},
		},
		{
			name: "move down",
			op: func(ctx context.Context, f *fixture, ids []string) error {
				moved, err := f.svc.MoveDown(ctx, ids[0])
				if err == nil && !moved {
					return errors.New("entry did not move")
				}
				return err
			},
			want: []models.Partition{other},
		},
		{
			name: "move up at head",
			op: func(ctx context.Context, f *fixture, ids []string) error {
				_, err := f.svc.MoveUp(ctx, ids[0])
				return err
			},
		},
		{
			name: "seat while waiting",
			op: func(ctx context.Context, f *fixture, ids []string) error {
				_, err := f.svc.Seat(ctx, ids[0])
				return err
			},
			wantErr: ErrIllegalTransition,
		},
		{
			name: "call in after cancel",
			setup: func(t *testing.T, f *fixture, ids []string) {
				_, err := f.svc.Cancel(context.Background(), ids[2], "p3")
				require.NoError(t, err)
			},
			op: func(ctx context.Context, f *fixture, ids []string) error {
				_, err := f.svc.CallIn(ctx, ids[2])
				return err
			},
			wantErr: ErrIllegalTransition,
		},
		{
			name: "move cancelled entry",
			setup: func(t *testing.T, f *fixture, ids []string) {
				_, err := f.svc.Cancel(context.Background(), ids[2], "p3")
				require.NoError(t, err)
			},
			op: func(ctx context.Context, f *fixture, ids []string) error {
				_, err := f.svc.MoveDown(ctx, ids[2])
				return err
			},
			wantErr: ErrNotActive,
		},
		{
			name: "cancel missing entry",
			op: func(ctx context.Context, f *fixture, ids []string) error {
				_, err := f.svc.Cancel(ctx, missing, "floor-1")
				return err
			},
			wantErr: ErrNotFound,
		},
		{
			name: "move missing entry",
			op: func(ctx context.Context, f *fixture, ids []string) error {
				_, err := f.svc.MoveDown(ctx, missing)
				return err
			},
			wantErr: ErrNotFound,
		},
		{
			name: "duplicate join",
			op: func(ctx context.Context, f *fixture, ids []string) error {
				_, err := f.svc.Join(ctx, other.RoomID, other.GameID, "p2")
				return err
			},
			wantErr: ErrAlreadyQueued,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.join(t, room, game, 3)
			ids := f.join(t, other.RoomID, other.GameID, 3)
			if tt.setup != nil {
				tt.setup(t, f, ids)
			}

			before := f.notifier.count()
			err := tt.op(context.Background(), f, ids)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			f.notifier.mu.Lock()
			published := append([]models.Partition(nil), f.notifier.published[before:]...)
			f.notifier.mu.Unlock()

			if tt.want == nil {
				assert.Empty(t, published)
			} else {
				assert.Equal(t, tt.want, published)
			}
		})
	}
}

func TestConflictRetryBudget(t *testing.T) {
	store := &conflictStore{MemoryEntryStore: repository.NewMemoryEntryStore()}
	rec := &recordingNotifier{}
	svc := newService(store, rec, newClock())

	_, err := svc.Join(context.Background(), room, game, "p1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrStoreFailure)
	assert.Equal(t, 5, store.calls)
	assert.Zero(t, rec.count())
}

func TestStoreFailureIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outage := errors.New("connection reset by peer")

	f.store.FailTransactions(outage, 1)
	entry, err := f.svc.Join(ctx, room, game, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Position)

	f.store.FailTransactions(outage, 2)
	_, err = f.svc.Join(ctx, room, game, "p2")
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.ErrorIs(t, err, outage)
	assert.NotErrorIs(t, err, ErrConflict)

	assert.Equal(t, []string{entry.ID}, f.order(t, room, game))
	assert.Equal(t, 1, f.notifier.count())
}

func TestHistoryReplaysToCurrentState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := f.join(t, room, game, 3)
	_, err := f.svc.MoveDown(ctx, ids[0])
	require.NoError(t, err)
	_, err = f.svc.Notify(ctx, ids[0])
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, ids[1], "floor-1")
	require.NoError(t, err)

	steps, err := f.svc.History(ctx, ids[0])
	require.NoError(t, err)

	actions := make([]models.EntryAction, 0, len(steps))
	for i, step := range steps {
		assert.Equal(t, i+1, step.Event.Seq)
		actions = append(actions, step.Event.Action)
	}
	assert.Equal(t, []models.EntryAction{
		models.ActionJoined,
		models.ActionMovedDown,
		models.ActionNotified,
		models.ActionRepositioned,
	}, actions)

	current, err := f.svc.Get(ctx, ids[0])
	require.NoError(t, err)

	last := steps[len(steps)-1].Entry
	assert.Equal(t, current.ID, last.ID)
	assert.Equal(t, current.Position, last.Position)
	assert.Equal(t, current.Status, last.Status)
	assert.Equal(t, current.Version, last.Version)
	require.NotNil(t, last.NotifiedAt)
	assert.True(t, current.NotifiedAt.Equal(*last.NotifiedAt))

	// The joined snapshot is the entry as inserted
	assert.Equal(t, 0, steps[0].Entry.Position)
	assert.Equal(t, models.StatusWaiting, steps[0].Entry.Status)

	_, err = f.svc.History(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelRecordsActor(t *testing.T) {
	f := newFixture(t)
	ctx := WithActor(context.Background(), "dealer-7")

	ids := f.join(t, room, game, 2)
	_, err := f.svc.MoveDown(ctx, ids[0])
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, ids[0], "p1")
	require.NoError(t, err)

	steps, err := f.svc.History(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, steps, 3)

	require.NotNil(t, steps[0].Event.Actor)
	assert.Equal(t, "p1", *steps[0].Event.Actor)
	require.NotNil(t, steps[1].Event.Actor)
	assert.Equal(t, "dealer-7", *steps[1].Event.Actor)
	require.NotNil(t, steps[2].Event.Actor)
	assert.Equal(t, "p1", *steps[2].Event.Actor)
	assert.Equal(t, "p1", *steps[2].Entry.CancelledBy)
}
