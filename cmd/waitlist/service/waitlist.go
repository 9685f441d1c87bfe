package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hellocng/deepstack-sub002/common/config"
	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/hellocng/deepstack-sub002/common/notifier"
	"github.com/hellocng/deepstack-sub002/common/repository"
)

// Options tunes the retry loop around each transaction
type Options struct {
	// MaxAttempts bounds the transactions tried when writers keep conflicting
	MaxAttempts int

	// RetryBackoff is the base delay between conflicting attempts; jitter is added
	RetryBackoff time.Duration

	// StoreRetries is how many times a failing store is retried before ErrStoreFailure
	StoreRetries int

	// Clock defaults to time.Now
	Clock func() time.Time
}

// OptionsFromConfig maps the waitlist config section onto service options
func OptionsFromConfig(cfg config.WaitlistConfig) Options {
	return Options{
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		StoreRetries: cfg.StoreRetries,
	}
}

type actorKey struct{}

// WithActor attaches the acting user to ctx for history attribution
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the acting user, or "" when none was attached
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// WaitlistService runs waitlist operations as single transactions against the
// entry store and signals the notifier after each commit
type WaitlistService struct {
	store     repository.EntryStore
	notifier  notifier.Notifier
	positions *PositionEngine
	guard     *TransitionGuard
	log       *logger.Logger
	opts      Options
}

// NewWaitlistService creates a new waitlist service
func NewWaitlistService(store repository.EntryStore, n notifier.Notifier, log *logger.Logger, opts Options) *WaitlistService {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.StoreRetries < 0 {
		opts.StoreRetries = 0
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	positions := NewPositionEngine()

	return &WaitlistService{
		store:     store,
		notifier:  n,
		positions: positions,
		guard:     NewTransitionGuard(positions),
		log:       log,
		opts:      opts,
	}
}

// Join appends a new waiting entry at the tail of the partition
func (s *WaitlistService) Join(ctx context.Context, roomID, gameID, playerID string) (*models.WaitlistEntry, error) {
	if blank(roomID, gameID, playerID) {
		return nil, fmt.Errorf("%w: room, game and player are required", ErrInvalidInput)
	}

	p := models.Partition{RoomID: roomID, GameID: gameID}
	if !p.Valid() {
		return nil, fmt.Errorf("%w: room and game ids may not contain %q", ErrInvalidInput, models.KeySeparator)
	}

	actor := ActorFromContext(ctx)
	if actor == "" {
		actor = playerID
	}

	changes, err := s.mutate(ctx, "join", actor, func(ctx context.Context, tx repository.EntryTx, now time.Time) ([]Change, error) {
		queue, err := tx.ListActiveByPartition(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to list partition: %w", err)
		}

		for _, e := range queue {
			if e.PlayerID == playerID {
				return nil, fmt.Errorf("%w: entry %s", ErrAlreadyQueued, e.ID)
			}
		}

		created, err := tx.Insert(ctx, &models.WaitlistEntry{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			GameID:    gameID,
			PlayerID:  playerID,
			Position:  len(queue),
			Status:    models.StatusWaiting,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to insert entry: %w", err)
		}

		return []Change{{After: created, Action: models.ActionJoined}}, nil
	})
	if err != nil {
		return nil, err
	}

	entry := changes[0].After
	s.log.WithPartition(roomID, gameID).Info("player joined waitlist",
		"entry_id", entry.ID,
		"player_id", playerID,
		"position", entry.Position,
	)

	return entry, nil
}

// MoveUp swaps the entry with its predecessor; false means it was already first
func (s *WaitlistService) MoveUp(ctx context.Context, id string) (bool, error) {
	return s.move(ctx, "move_up", id, s.positions.MoveUp)
}

// MoveDown swaps the entry with its successor; false means it was already last
func (s *WaitlistService) MoveDown(ctx context.Context, id string) (bool, error) {
	return s.move(ctx, "move_down", id, s.positions.MoveDown)
}

type moveFunc func(ctx context.Context, tx repository.EntryTx, target *models.WaitlistEntry, now time.Time) (bool, []Change, error)

func (s *WaitlistService) move(ctx context.Context, op, id string, fn moveFunc) (bool, error) {
	if blank(id) {
		return false, fmt.Errorf("%w: entry id is required", ErrInvalidInput)
	}

	// The queue the move was requested against. A retry that finds the target
	// at a new version reports a conflict only if a move changed its place.
	before, err := s.queueOf(ctx, op, id)
	if err != nil {
		return false, err
	}

	var moved bool
	_, err = s.mutate(ctx, op, ActorFromContext(ctx), func(ctx context.Context, tx repository.EntryTx, now time.Time) ([]Change, error) {
		target, err := getEntry(ctx, tx, id)
		if err != nil {
			return nil, err
		}

		if before != nil && target.Status.IsActive() && target.Version != before.target.Version {
			queue, err := tx.ListActiveByPartition(ctx, target.Partition())
			if err != nil {
				return nil, fmt.Errorf("failed to list partition: %w", err)
			}
			repository.SortQueue(queue)

			if placeChanged(before.queue, queue, id) {
				return nil, fmt.Errorf("%w: entry %s was moved while %s was retried", ErrConflict, id, op)
			}
		}

		ok, changes, err := fn(ctx, tx, target, now)
		if err != nil {
			return nil, err
		}
		moved = ok
		return changes, nil
	})
	if err != nil {
		return false, err
	}

	s.log.WithEntryID(id).Info("waitlist move", "op", op, "moved", moved)

	return moved, nil
}

type queueSnapshot struct {
	target *models.WaitlistEntry
	queue  []*models.WaitlistEntry
}

// queueOf reads the target's partition in one statement so the target and
// its neighbours come from the same snapshot. It returns nil for an entry
// that is no longer queued.
func (s *WaitlistService) queueOf(ctx context.Context, op, id string) (*queueSnapshot, error) {
	entry, err := getEntry(ctx, s.store, id)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
	}
	if !entry.Status.IsActive() {
		return nil, nil
	}

	queue, err := s.store.ListActiveByPartition(ctx, entry.Partition())
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
	}
	repository.SortQueue(queue)

	idx := indexOf(queue, id)
	if idx < 0 {
		return nil, nil
	}
	return &queueSnapshot{target: queue[idx], queue: queue}, nil
}

// placeChanged reports whether id sits behind a different number of the
// entries queued in both before and after. Entries that joined or left in
// between do not count, so compaction and status stamps leave it unchanged.
func placeChanged(before, after []*models.WaitlistEntry, id string) bool {
	if indexOf(after, id) < 0 {
		return false
	}
	return aheadOf(before, after, id) != aheadOf(after, before, id)
}

// aheadOf counts the entries of queue in front of id that other also holds
func aheadOf(queue, other []*models.WaitlistEntry, id string) int {
	n := 0
	for _, e := range queue {
		if e.ID == id {
			break
		}
		if indexOf(other, e.ID) >= 0 {
			n++
		}
	}
	return n
}

// Cancel moves the entry to cancelled on behalf of actor and closes the gap it leaves
func (s *WaitlistService) Cancel(ctx context.Context, id, actor string) (*models.WaitlistEntry, error) {
	if blank(id, actor) {
		return nil, fmt.Errorf("%w: entry id and actor are required", ErrInvalidInput)
	}

	return s.transition(ctx, "cancel", id, actor, func(ctx context.Context, tx repository.EntryTx, now time.Time) ([]Change, error) {
		return s.guard.Cancel(ctx, tx, id, actor, now)
	})
}

// CallIn marks a waiting entry as called in
func (s *WaitlistService) CallIn(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	return s.transition(ctx, "call_in", id, ActorFromContext(ctx), func(ctx context.Context, tx repository.EntryTx, now time.Time) ([]Change, error) {
		return s.guard.MarkCalledIn(ctx, tx, id, now)
	})
}

// Notify marks a waiting or called-in entry as notified
func (s *WaitlistService) Notify(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	return s.transition(ctx, "notify", id, ActorFromContext(ctx), func(ctx context.Context, tx repository.EntryTx, now time.Time) ([]Change, error) {
		return s.guard.MarkNotified(ctx, tx, id, now)
	})
}

// Seat marks a notified entry as seated and closes the gap it leaves
func (s *WaitlistService) Seat(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	return s.transition(ctx, "seat", id, ActorFromContext(ctx), func(ctx context.Context, tx repository.EntryTx, now time.Time) ([]Change, error) {
		return s.guard.Seat(ctx, tx, id, now)
	})
}

type txFunc func(ctx context.Context, tx repository.EntryTx, now time.Time) ([]Change, error)

func (s *WaitlistService) transition(ctx context.Context, op, id, actor string, fn txFunc) (*models.WaitlistEntry, error) {
	if blank(id) {
		return nil, fmt.Errorf("%w: entry id is required", ErrInvalidInput)
	}

	changes, err := s.mutate(ctx, op, actor, fn)
	if err != nil {
		return nil, err
	}

	entry := changes[0].After
	s.log.WithEntryID(id).Info("waitlist transition",
		"op", op,
		"status", entry.Status,
		"repositioned", len(changes)-1,
		"actor", actor,
	)

	return entry, nil
}

// Get returns an entry by id
func (s *WaitlistService) Get(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	entry, err := s.store.Get(ctx, id)
	if errors.Is(err, repository.ErrEntryNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return entry, nil
}

// ListPartition returns the active entries of a room's game in queue order
func (s *WaitlistService) ListPartition(ctx context.Context, roomID, gameID string) ([]*models.WaitlistEntry, error) {
	if blank(roomID, gameID) {
		return nil, fmt.Errorf("%w: room and game are required", ErrInvalidInput)
	}

	p := models.Partition{RoomID: roomID, GameID: gameID}
	if !p.Valid() {
		return nil, fmt.Errorf("%w: room and game ids may not contain %q", ErrInvalidInput, models.KeySeparator)
	}

	queue, err := s.store.ListActiveByPartition(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	repository.SortQueue(queue)

	return queue, nil
}

// History returns every recorded mutation of an entry with the snapshot after each one
func (s *WaitlistService) History(ctx context.Context, id string) ([]HistoryStep, error) {
	events, err := s.store.ListEvents(ctx, id)
	if errors.Is(err, repository.ErrEntryNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	return Replay(events)
}

// mutate runs fn in a retried transaction, records a history event per change
// and publishes the partition once the transaction committed with changes
func (s *WaitlistService) mutate(ctx context.Context, op, actor string, fn txFunc) ([]Change, error) {
	var changes []Change

	err := s.inTx(ctx, op, func(ctx context.Context, tx repository.EntryTx) error {
		now := s.opts.Clock().UTC().Truncate(time.Microsecond)

		c, err := fn(ctx, tx, now)
		if err != nil {
			return err
		}

		for _, change := range c {
			event, err := newEvent(change, actor, now)
			if err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, event); err != nil {
				return fmt.Errorf("failed to record history: %w", err)
			}
		}

		changes = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(changes) > 0 {
		s.notifier.Publish(ctx, changes[0].After.Partition())
	}

	return changes, nil
}

// inTx retries version conflicts up to MaxAttempts and other store errors
// StoreRetries times. Domain errors return at once.
func (s *WaitlistService) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx repository.EntryTx) error) error {
	conflicts, failures := 0, 0

	for {
		err := s.store.InTx(ctx, fn)
		switch {
		case err == nil:
			return nil

		case errors.Is(err, repository.ErrDuplicateActive):
			return fmt.Errorf("%s: %w", op, ErrAlreadyQueued)

		case isFinal(err):
			return err

		case errors.Is(err, repository.ErrVersionConflict):
			conflicts++
			if conflicts >= s.opts.MaxAttempts {
				s.log.Warn("giving up after repeated conflicts", "op", op, "attempts", conflicts, "error", err)
				return fmt.Errorf("%s: %w", op, ErrConflict)
			}
			s.log.Debug("retrying after version conflict", "op", op, "attempt", conflicts, "error", err)

		default:
			failures++
			if failures > s.opts.StoreRetries {
				s.log.Error("waitlist store failure", "op", op, "error", err)
				return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
			}
			s.log.Warn("retrying after store failure", "op", op, "error", err)
		}

		if err := s.backoff(ctx, conflicts+failures); err != nil {
			return err
		}
	}
}

func (s *WaitlistService) backoff(ctx context.Context, attempt int) error {
	if s.opts.RetryBackoff <= 0 {
		return ctx.Err()
	}

	delay := time.Duration(attempt)*s.opts.RetryBackoff + rand.N(s.opts.RetryBackoff)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
