package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/config"
	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/events"
	"github.com/routedesk/routing-engine/internal/notify"
	"github.com/routedesk/routing-engine/internal/repository/memory"
	"github.com/routedesk/routing-engine/internal/service"
)

const tenant = "acme"

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type capturePublisher struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (p *capturePublisher) Publish(_ context.Context, notifications ...notify.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, notifications...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) Sent() []notify.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Notification(nil), p.sent...)
}

type stack struct {
	store         *memory.Store
	clock         *fixedClock
	recorder      *service.Recorder
	tickets       *service.TicketService
	config        *service.ConfigService
	sla           *service.SlaTracker
	notifications *service.NotificationService
	publisher     *capturePublisher
}

func newStack(t *testing.T) *stack {
	t.Helper()
	store := memory.NewStore()
	clock := &fixedClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	dispatcher := events.NewInMemoryDispatcher()
	publisher := &capturePublisher{}

	cache := service.NewConfigCache(service.ConfigCacheDependencies{
		QueueRepo:  store.Queues(),
		AgentRepo:  store.Agents(),
		PolicyRepo: store.SlaPolicies(),
		StatusRepo: store.Statuses(),
	})
	recorder := service.NewRecorder(service.RecorderDependencies{
		LogRepo:   store.DistributionLog(),
		EventRepo: store.SlaEvents(),
	})
	directory := service.NewAgentDirectory(service.AgentDirectoryDependencies{AgentRepo: store.Agents(), Cache: cache})
	dist := service.NewDistributor(service.DistributorDependencies{
		Cache:     cache,
		Directory: directory,
		Cursors:   store.Cursors(),
		Recorder:  recorder,
		Clock:     clock,
	})
	sla := service.NewSlaTracker(service.SlaTrackerDependencies{
		Cache:      cache,
		TicketRepo: store.Tickets(),
		EventRepo:  store.SlaEvents(),
		Recorder:   recorder,
		Dispatcher: dispatcher,
		Clock:      clock,
	})
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  store.Tickets(),
		QueueRepo:   store.Queues(),
		LogRepo:     store.DistributionLog(),
		Cache:       cache,
		Directory:   directory,
		Distributor: dist,
		SlaTracker:  sla,
		Dispatcher:  dispatcher,
		Clock:       clock,
	})
	cfg := service.NewConfigService(service.ConfigDependencies{
		QueueRepo:  store.Queues(),
		AgentRepo:  store.Agents(),
		PolicyRepo: store.SlaPolicies(),
		StatusRepo: store.Statuses(),
		Cache:      cache,
	})
	notifications := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		Publisher:  publisher,
	})
	return &stack{
		store:         store,
		clock:         clock,
		recorder:      recorder,
		tickets:       tickets,
		config:        cfg,
		sla:           sla,
		notifications: notifications,
		publisher:     publisher,
	}
}

// seed creates a queue with a single one-slot agent and a 60/240 minute policy, then
// opens two tickets: the first is assigned, the second waits in the queue.
func (s *stack) seed(t *testing.T) (assigned, waiting *domain.Ticket) {
	t.Helper()
	ctx := context.Background()
	q, err := s.config.CreateQueue(ctx, tenant, service.QueueInput{Name: "support", TimeoutMinutes: 5})
	require.NoError(t, err)
	_, err = s.config.CreateAgent(ctx, tenant, service.AgentInput{ID: "a1", Name: "a1", MaxCapacity: 1, Status: domain.AgentStatusAvailable})
	require.NoError(t, err)
	_, err = s.config.UpsertMember(ctx, tenant, q.ID, "a1", service.MemberInput{})
	require.NoError(t, err)
	_, err = s.config.CreatePolicy(ctx, tenant, service.PolicyInput{
		Priority:              domain.TicketPriorityNormal,
		ResponseTimeMinutes:   60,
		ResolutionTimeMinutes: 240,
		AlertThresholdPercent: 80,
		NotifySystem:          true,
	})
	require.NoError(t, err)

	actor := events.Actor{Type: events.ActorSystem, Subject: "test"}
	assigned, err = s.tickets.CreateTicket(ctx, tenant, actor, service.TicketCreateInput{QueueID: q.ID})
	require.NoError(t, err)
	require.NotNil(t, assigned.AssignedAgentID)
	s.clock.Set(s.clock.Now().Add(time.Second))
	waiting, err = s.tickets.CreateTicket(ctx, tenant, actor, service.TicketCreateInput{QueueID: q.ID})
	require.NoError(t, err)
	require.Nil(t, waiting.AssignedAgentID)
	return assigned, waiting
}

func (s *stack) sweeper(locker Locker) *Sweeper {
	return NewSweeper(SweeperDependencies{
		TenantRepo:    s.store.Tenants(),
		AgentRepo:     s.store.Agents(),
		TicketService: s.tickets,
		SlaTracker:    s.sla,
		Locker:        locker,
		Config:        config.EngineConfig{SweepConcurrency: 2, SweepTenantTimeout: time.Second},
		Clock:         s.clock,
	})
}

func TestLocalLockerLease(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	release, ok, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = l.TryLock(ctx, "other", time.Minute)
	assert.True(t, ok)

	release(ctx)
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestLocalLockerExpiredLease(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	stale, ok, _ := l.TryLock(ctx, "k", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	require.True(t, ok)

	// an expired holder must not drop the new lease
	stale(ctx)
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.False(t, ok)
}

func TestSweeperRunOnce(t *testing.T) {
	s := newStack(t)
	s.notifications.RegisterHandlers()
	_, waiting := s.seed(t)

	s.clock.Set(time.Date(2026, 10, 19, 9, 50, 0, 0, time.UTC))
	results := s.sweeper(nil).RunOnce(context.Background())
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, tenant, res.TenantID)
	assert.False(t, res.Skipped)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, res.Emitted)
	assert.Equal(t, 1, res.Timeouts)
	assert.Empty(t, res.Drift)

	got, err := s.tickets.GetTicket(context.Background(), tenant, waiting.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TimeoutAt)
	assert.True(t, got.TimeoutAt.After(s.clock.Now()))

	assert.Equal(t, 1, s.notifications.Pending())
	s.notifications.Drain(context.Background())
	sent := s.publisher.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.SlaAlertNearBreach, sent[0].EventType)
	assert.Equal(t, []string{"system"}, sent[0].Channels)

	// the alert is recorded once per clock
	results = s.sweeper(nil).RunOnce(context.Background())
	require.Len(t, results, 1)
	assert.Zero(t, results[0].Emitted)
}

func TestSweeperReportsDrift(t *testing.T) {
	s := newStack(t)
	s.seed(t)
	ctx := context.Background()

	// bump the counter past the single open ticket
	_, ok, err := s.store.Agents().TryIncrementLoad(ctx, tenant, "a1", 5)
	require.NoError(t, err)
	require.True(t, ok)

	results := s.sweeper(nil).RunOnce(ctx)
	require.Len(t, results, 1)
	require.Len(t, results[0].Drift, 1)
	assert.Equal(t, "a1", results[0].Drift[0].AgentID)
	assert.Equal(t, 2, results[0].Drift[0].Counter)
	assert.Equal(t, 1, results[0].Drift[0].OpenTickets)
}

func TestSweeperSkipsLeasedTenant(t *testing.T) {
	s := newStack(t)
	s.seed(t)
	ctx := context.Background()

	locker := NewLocalLocker()
	release, ok, err := locker.TryLock(ctx, sweepLockKey(tenant), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	results := s.sweeper(locker).RunOnce(ctx)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.Zero(t, results[0].Scanned)

	release(ctx)
	results = s.sweeper(locker).RunOnce(ctx)
	require.Len(t, results, 1)
	assert.False(t, results[0].Skipped)
	assert.Equal(t, 1, results[0].Scanned)
}

func TestNotificationWorkerDelivers(t *testing.T) {
	s := newStack(t)
	s.seed(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := StartNotificationWorker(ctx, s.notifications)

	s.clock.Set(time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC))
	_, err := s.sla.Sweep(context.Background(), tenant, s.clock.Now())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(s.publisher.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.SlaResponseBreach, s.publisher.Sent()[0].EventType)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notification worker did not stop")
	}
}

func TestNotificationWorkerWithoutService(t *testing.T) {
	done := StartNotificationWorker(context.Background(), nil)
	_, open := <-done
	assert.False(t, open)
}

func TestRetryWorkerFlushes(t *testing.T) {
	s := newStack(t)
	s.store.FailAppends.Store(true)
	s.seed(t)
	require.NotZero(t, s.recorder.Pending())
	s.store.FailAppends.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRetryWorker(ctx, s.recorder, 5*time.Millisecond, zap.NewNop())

	assert.Eventually(t, func() bool { return s.recorder.Pending() == 0 }, time.Second, 5*time.Millisecond)
}
