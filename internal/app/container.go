// Package app assembles the engine's collaborators from configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/auth"
	"github.com/routedesk/routing-engine/internal/calendar"
	"github.com/routedesk/routing-engine/internal/config"
	"github.com/routedesk/routing-engine/internal/events"
	"github.com/routedesk/routing-engine/internal/notify"
	"github.com/routedesk/routing-engine/internal/observability"
	"github.com/routedesk/routing-engine/internal/persistence"
	"github.com/routedesk/routing-engine/internal/repository"
	"github.com/routedesk/routing-engine/internal/repository/memory"
	"github.com/routedesk/routing-engine/internal/service"
	"github.com/routedesk/routing-engine/internal/worker"
)

// Repositories groups the storage views used by the services.
type Repositories struct {
	Queues   repository.QueueRepository
	Agents   repository.AgentRepository
	Tickets  repository.TicketRepository
	Logs     repository.DistributionLogRepository
	Policies repository.SlaPolicyRepository
	Events   repository.SlaEventRepository
	Statuses repository.StatusRepository
	Tenants  repository.TenantRepository
	Cursors  repository.CursorStore
}

// Container holds the wired engine.
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Postgres      *persistence.Postgres
	Redis         *persistence.Redis
	Repos         Repositories
	Dispatcher    events.Dispatcher
	Publisher     notify.Publisher
	Recorder      *service.Recorder
	Cache         *service.ConfigCache
	Distributor   *service.Distributor
	SlaTracker    *service.SlaTracker
	Tickets       *service.TicketService
	ConfigService *service.ConfigService
	Notifications *service.NotificationService
	Sweeper       *worker.Sweeper
	Tokens        *auth.TokenManager
}

// Options tweak the assembly.
type Options struct {
	// SkipMigrations disables migrations even when configured.
	SkipMigrations bool
}

// Build connects the backing stores and wires every service.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c.Postgres = pg
	if pg.Enabled() && cfg.Postgres.RunMigrations && !opts.SkipMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	c.Redis = persistence.NewRedis(ctx, cfg.Redis, logger)
	c.Repos = newRepositories(pg, c.Redis)

	var defaultSchedule *calendar.Schedule
	if cfg.Engine.DefaultCalendarFile != "" {
		s, err := calendar.LoadScheduleFile(cfg.Engine.DefaultCalendarFile)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("load default calendar: %w", err)
		}
		defaultSchedule = &s
	}

	if len(cfg.Kafka.Brokers) > 0 {
		c.Publisher = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		c.Publisher = notify.NewLogPublisher(logger)
	}

	c.Dispatcher = events.NewInMemoryDispatcher()
	c.Cache = service.NewConfigCache(service.ConfigCacheDependencies{
		QueueRepo:  c.Repos.Queues,
		AgentRepo:  c.Repos.Agents,
		PolicyRepo: c.Repos.Policies,
		StatusRepo: c.Repos.Statuses,
		Metrics:    c.Metrics,
		Size:       cfg.Engine.CacheSize,
		ConfigTTL:  cfg.Engine.ConfigCacheTTL,
		SkillsTTL:  cfg.Engine.SkillsCacheTTL,
	})
	c.Recorder = service.NewRecorder(service.RecorderDependencies{
		LogRepo:     c.Repos.Logs,
		EventRepo:   c.Repos.Events,
		Logger:      logger,
		Metrics:     c.Metrics,
		MaxAttempts: cfg.Engine.RetryMaxAttempts,
		BufferSize:  cfg.Engine.RetryBufferSize,
	})
	directory := service.NewAgentDirectory(service.AgentDirectoryDependencies{
		AgentRepo: c.Repos.Agents,
		Cache:     c.Cache,
		Logger:    logger,
	})
	c.Distributor = service.NewDistributor(service.DistributorDependencies{
		Cache:     c.Cache,
		Directory: directory,
		Cursors:   c.Repos.Cursors,
		Recorder:  c.Recorder,
		Logger:    logger,
		Metrics:   c.Metrics,
	})
	c.SlaTracker = service.NewSlaTracker(service.SlaTrackerDependencies{
		Cache:           c.Cache,
		TicketRepo:      c.Repos.Tickets,
		EventRepo:       c.Repos.Events,
		Recorder:        c.Recorder,
		Dispatcher:      c.Dispatcher,
		DefaultSchedule: defaultSchedule,
		BatchSize:       cfg.Engine.SweepBatchSize,
		Logger:          logger,
		Metrics:         c.Metrics,
	})
	c.Tickets = service.NewTicketService(service.TicketDependencies{
		TicketRepo:  c.Repos.Tickets,
		QueueRepo:   c.Repos.Queues,
		LogRepo:     c.Repos.Logs,
		Cache:       c.Cache,
		Directory:   directory,
		Distributor: c.Distributor,
		SlaTracker:  c.SlaTracker,
		Dispatcher:  c.Dispatcher,
		Logger:      logger,
		Metrics:     c.Metrics,
	})
	c.ConfigService = service.NewConfigService(service.ConfigDependencies{
		QueueRepo:  c.Repos.Queues,
		AgentRepo:  c.Repos.Agents,
		PolicyRepo: c.Repos.Policies,
		StatusRepo: c.Repos.Statuses,
		Cache:      c.Cache,
		Logger:     logger,
	})
	c.Notifications = service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: c.Dispatcher,
		Publisher:  c.Publisher,
		Logger:     logger,
		Metrics:    c.Metrics,
		Config:     cfg.Notification,
	})

	var locker worker.Locker = worker.NewLocalLocker()
	if c.Redis.Enabled() {
		locker = worker.NewRedisLocker(c.Redis.Client)
	}
	c.Sweeper = worker.NewSweeper(worker.SweeperDependencies{
		TenantRepo:    c.Repos.Tenants,
		AgentRepo:     c.Repos.Agents,
		TicketService: c.Tickets,
		SlaTracker:    c.SlaTracker,
		Locker:        locker,
		Config:        cfg.Engine,
		Logger:        logger,
		Metrics:       c.Metrics,
	})
	c.Tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0)
	return c, nil
}

func newRepositories(pg *persistence.Postgres, rdb *persistence.Redis) Repositories {
	var repos Repositories
	if pg.Enabled() {
		pool := pg.PoolHandle()
		repos = Repositories{
			Queues:   repository.NewQueueRepository(pool),
			Agents:   repository.NewAgentRepository(pool),
			Tickets:  repository.NewTicketRepository(pool),
			Logs:     repository.NewDistributionLogRepository(pool),
			Policies: repository.NewSlaPolicyRepository(pool),
			Events:   repository.NewSlaEventRepository(pool),
			Statuses: repository.NewStatusRepository(pool),
			Tenants:  repository.NewTenantRepository(pool),
		}
	} else {
		store := memory.NewStore()
		repos = Repositories{
			Queues:   store.Queues(),
			Agents:   store.Agents(),
			Tickets:  store.Tickets(),
			Logs:     store.DistributionLog(),
			Policies: store.SlaPolicies(),
			Events:   store.SlaEvents(),
			Statuses: store.Statuses(),
			Tenants:  store.Tenants(),
			Cursors:  store.Cursors(),
		}
	}
	if rdb.Enabled() {
		repos.Cursors = repository.NewRedisCursorStore(rdb.Client)
	} else if repos.Cursors == nil {
		repos.Cursors = memory.NewStore().Cursors()
	}
	return repos
}

// Close releases the backing stores and the notification publisher.
func (c *Container) Close() {
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			c.Logger.Warn("close notification publisher", zap.Error(err))
		}
	}
	c.Redis.Close()
	c.Postgres.Close()
}
