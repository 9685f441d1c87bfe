package container

import (
	"fmt"

	"github.com/hellocng/deepstack-sub002/cmd/waitlist/repository"
	"github.com/hellocng/deepstack-sub002/cmd/waitlist/service"
	"github.com/hellocng/deepstack-sub002/cmd/waitlist/supervisor"
	"github.com/hellocng/deepstack-sub002/common/bootstrap"
	"github.com/hellocng/deepstack-sub002/common/notifier"
	"github.com/hellocng/deepstack-sub002/common/ratelimit"
	commonrepo "github.com/hellocng/deepstack-sub002/common/repository"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Repositories
	EntryStore commonrepo.EntryStore
	StaffStore service.StaffStore

	// Services
	Notifier        notifier.Notifier
	WaitlistService *service.WaitlistService
	AccessService   *service.AccessService

	// Optional, nil when Redis or the feature is disabled
	RateLimiter *ratelimit.RateLimiter
	Sweeper     *supervisor.ExpirySweeper
	Auditor     *supervisor.PartitionAuditor
}

// NewContainer initializes all services over the Postgres repositories
func NewContainer(components *bootstrap.Components) (*Container, error) {
	if components.DB == nil {
		return nil, fmt.Errorf("waitlist requires a database")
	}

	return Build(
		components,
		commonrepo.NewEntryRepository(components.DB),
		repository.NewRoomStaffRepository(components.DB),
	)
}

// Build wires services over the given stores
func Build(components *bootstrap.Components, store commonrepo.EntryStore, staff service.StaffStore) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Change notifications: Redis for the fanout service, the queue for the auditor
	var notifiers notifier.Multi
	if components.Redis != nil {
		notifiers = append(notifiers, notifier.NewRedisNotifier(components.Redis, log, cfg.Waitlist.PublishTimeout))
	}
	if components.Queue != nil {
		notifiers = append(notifiers, notifier.NewQueueNotifier(components.Queue, log))
	}

	waitlistService := service.NewWaitlistService(store, notifiers, log, service.OptionsFromConfig(cfg.Waitlist))
	accessService := service.NewAccessService(staff, components.Cache, cfg.Cache.RoomAccessTTL, log)

	c := &Container{
		Components:      components,
		EntryStore:      store,
		StaffStore:      staff,
		Notifier:        notifiers,
		WaitlistService: waitlistService,
		AccessService:   accessService,
	}

	if components.Redis != nil && cfg.RateLimit.Enabled {
		c.RateLimiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
	}

	if cfg.Sweep.Enabled {
		policy, err := supervisor.NewExpiryPolicy(cfg.Sweep.Policy, cfg.Sweep.NotifiedTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid sweep policy: %w", err)
		}

		c.Sweeper = supervisor.NewExpirySweeper(store, waitlistService, policy, log).
			WithInterval(cfg.Sweep.Interval).
			WithBatchSize(cfg.Sweep.BatchSize).
			WithTelemetry(components.Telemetry)
		if components.Redis != nil {
			c.Sweeper.WithLease(supervisor.NewRedisLease(components.Redis, cfg.Sweep.LeaseTTL))
		}
	}

	if components.Queue != nil {
		c.Auditor = supervisor.NewPartitionAuditor(components.Queue, store, log, components.Telemetry)
	}

	return c, nil
}
