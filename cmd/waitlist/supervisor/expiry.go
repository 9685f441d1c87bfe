package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hellocng/deepstack-sub002/cmd/waitlist/service"
	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/hellocng/deepstack-sub002/common/repository"
	"github.com/hellocng/deepstack-sub002/common/telemetry"
)

// SweepActor is recorded as the canceller of expired entries
const SweepActor = "system:sweep"

// EntryLister pages through entries by status
type EntryLister interface {
	ListByStatus(ctx context.Context, status models.EntryStatus, after *repository.StatusCursor, limit int) ([]*models.WaitlistEntry, error)
}

// Canceller cancels entries through the regular waitlist path
type Canceller interface {
	Cancel(ctx context.Context, id, actor string) (*models.WaitlistEntry, error)
}

// ExpirySweeper cancels notified entries whose player never showed up
type ExpirySweeper struct {
	entries   EntryLister
	waitlist  Canceller
	policy    *ExpiryPolicy
	lease     Lease
	log       *logger.Logger
	telemetry *telemetry.Telemetry

	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewExpirySweeper creates a sweeper. Without a lease every replica sweeps.
func NewExpirySweeper(entries EntryLister, waitlist Canceller, policy *ExpiryPolicy, log *logger.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		entries:   entries,
		waitlist:  waitlist,
		policy:    policy,
		log:       log,
		interval:  30 * time.Second,
		batchSize: 100,
		now:       time.Now,
	}
}

// WithInterval sets the time between passes
func (s *ExpirySweeper) WithInterval(interval time.Duration) *ExpirySweeper {
	s.interval = interval
	return s
}

// WithBatchSize sets the page size and the most entries cancelled per pass
func (s *ExpirySweeper) WithBatchSize(n int) *ExpirySweeper {
	s.batchSize = n
	return s
}

// WithLease makes passes conditional on holding lease
func (s *ExpirySweeper) WithLease(lease Lease) *ExpirySweeper {
	s.lease = lease
	return s
}

// WithTelemetry records pass durations and expiries
func (s *ExpirySweeper) WithTelemetry(t *telemetry.Telemetry) *ExpirySweeper {
	s.telemetry = t
	return s
}

// Start runs a pass every interval until ctx is cancelled
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.log.Info("expiry sweeper starting",
		"interval", s.interval,
		"batch_size", s.batchSize,
		"policy", s.policy.Expression())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass and returns how many entries it cancelled
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	if s.lease != nil {
		held, err := s.lease.Acquire(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to acquire sweep lease: %w", err)
		}
		if !held {
			s.log.Debug("sweep lease held elsewhere, skipping pass")
			return 0, nil
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("failed to release sweep lease", "error", err)
			}
		}()
	}

	start := time.Now()
	defer s.telemetry.RecordDuration("waitlist.sweep", start)

	now := s.now()
	expired := 0

	// Page past entries the policy keeps until batchSize are cancelled
	// or the notified entries run out
	var cursor *repository.StatusCursor
	for expired < s.batchSize {
		page, err := s.entries.ListByStatus(ctx, models.StatusNotified, cursor, s.batchSize)
		if err != nil {
			return expired, fmt.Errorf("failed to list notified entries: %w", err)
		}
		if len(page) == 0 {
			break
		}

		expired += s.expire(ctx, page, now, s.batchSize-expired)
		if len(page) < s.batchSize {
			break
		}
		cursor = repository.CursorAt(page[len(page)-1])
	}

	if expired > 0 {
		s.telemetry.RecordEvent("waitlist.sweep.expired", map[string]any{"count": expired})
	}

	return expired, nil
}

// expire cancels up to budget entries of page that match the policy
func (s *ExpirySweeper) expire(ctx context.Context, page []*models.WaitlistEntry, now time.Time, budget int) int {
	expired := 0
	for _, entry := range page {
		if expired >= budget {
			break
		}
		log := s.log.WithEntryID(entry.ID)

		match, err := s.policy.Expired(entry, now)
		if err != nil {
			log.Error("failed to evaluate expiry policy", "error", err)
			continue
		}
		if !match {
			continue
		}

		_, err = s.waitlist.Cancel(ctx, entry.ID, SweepActor)
		switch {
		case err == nil:
			expired++
			log.Info("cancelled stale notified entry",
				"room_id", entry.RoomID,
				"game_id", entry.GameID,
				"notified_at", entry.NotifiedAt)
		case errors.Is(err, service.ErrIllegalTransition), errors.Is(err, service.ErrNotFound):
			// Seated or cancelled since it was listed
			log.Debug("entry moved on before the sweep", "error", err)
		default:
			log.Warn("failed to cancel stale entry", "error", err)
		}
	}
	return expired
}
