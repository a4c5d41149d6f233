package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/routedesk/routing-engine/internal/config"
	"github.com/routedesk/routing-engine/internal/observability"
	"github.com/routedesk/routing-engine/internal/repository"
	"github.com/routedesk/routing-engine/internal/service"
)

// TenantSweep is the outcome of one tenant's sweep.
type TenantSweep struct {
	TenantID string
	Skipped  bool
	Scanned  int
	Emitted  int
	Timeouts int
	Drift    []service.LoadDrift
	Err      error
}

// Sweeper periodically runs the SLA sweep, queue timeouts and load reconciliation for
// every tenant. Tenants are processed independently, each under its own deadline.
type Sweeper struct {
	tenants repository.TenantRepository
	agents  repository.AgentRepository
	tickets *service.TicketService
	sla     *service.SlaTracker
	locker  Locker
	cfg     config.EngineConfig
	clock   service.Clock
	logger  *zap.Logger
	metrics *observability.Metrics
}

// SweeperDependencies bundles collaborators.
type SweeperDependencies struct {
	TenantRepo    repository.TenantRepository
	AgentRepo     repository.AgentRepository
	TicketService *service.TicketService
	SlaTracker    *service.SlaTracker
	Locker        Locker
	Config        config.EngineConfig
	Clock         service.Clock
	Logger        *zap.Logger
	Metrics       *observability.Metrics
}

// NewSweeper constructs the sweeper.
func NewSweeper(deps SweeperDependencies) *Sweeper {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	clock := deps.Clock
	if clock == nil {
		clock = service.SystemClock{}
	}
	cfg := deps.Config
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 1
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 500
	}
	if cfg.SweepLeaseTTL <= 0 {
		cfg.SweepLeaseTTL = 90 * time.Second
	}
	return &Sweeper{
		tenants: deps.TenantRepo,
		agents:  deps.AgentRepo,
		tickets: deps.TicketService,
		sla:     deps.SlaTracker,
		locker:  locker,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		metrics: deps.Metrics,
	}
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps all tenants once. A failing tenant is logged and does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) []TenantSweep {
	started := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(started)) }()

	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		s.metrics.RecordSweepError("list_tenants")
		s.logger.Error("sweep: list tenants", zap.Error(err))
		return nil
	}

	var (
		mu      sync.Mutex
		results = make([]TenantSweep, 0, len(tenants))
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.SweepConcurrency)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			res := s.sweepTenant(ctx, tenantID)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Sweeper) sweepTenant(parent context.Context, tenantID string) TenantSweep {
	res := TenantSweep{TenantID: tenantID}
	ctx := parent
	if s.cfg.SweepTenantTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.cfg.SweepTenantTimeout)
		defer cancel()
	}

	release, ok, err := s.locker.TryLock(ctx, sweepLockKey(tenantID), s.cfg.SweepLeaseTTL)
	if err != nil {
		s.metrics.RecordSweepError("lock")
		s.logger.Warn("sweep: acquire lease", zap.String("tenant_id", tenantID), zap.Error(err))
		res.Err = err
		return res
	}
	if !ok {
		res.Skipped = true
		return res
	}
	defer release(context.WithoutCancel(ctx))

	logger := s.logger.With(zap.String("tenant_id", tenantID))

	sla, err := s.sla.Sweep(ctx, tenantID, s.clock.Now())
	res.Scanned, res.Emitted = sla.Scanned, sla.Emitted
	if err != nil {
		s.metrics.RecordSweepError("sla")
		logger.Warn("sweep: sla clocks", zap.Error(err))
		res.Err = err
	}

	res.Timeouts, err = s.tickets.ProcessTimeouts(ctx, tenantID, s.cfg.SweepBatchSize)
	if err != nil {
		s.metrics.RecordSweepError("timeouts")
		logger.Warn("sweep: queue timeouts", zap.Error(err))
		res.Err = err
	}

	agents, err := s.agents.List(ctx, tenantID)
	if err == nil {
		res.Drift, err = s.tickets.ReconcileLoad(ctx, tenantID, agents)
	}
	if err != nil {
		s.metrics.RecordSweepError("reconcile")
		logger.Warn("sweep: load reconciliation", zap.Error(err))
		res.Err = err
	}
	for _, d := range res.Drift {
		logger.Warn("agent load drift",
			zap.String("agent_id", d.AgentID),
			zap.Int("counter", d.Counter),
			zap.Int("open_tickets", d.OpenTickets))
	}

	logger.Debug("tenant swept",
		zap.Int("scanned", res.Scanned),
		zap.Int("emitted", res.Emitted),
		zap.Int("timeouts", res.Timeouts))
	return res
}
