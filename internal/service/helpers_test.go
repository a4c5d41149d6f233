package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/events"
	"github.com/routedesk/routing-engine/internal/repository/memory"
	apperrors "github.com/routedesk/routing-engine/pkg/util/errorutil"
)

const tenant = "acme"

var agentActor = events.Actor{Type: events.ActorAgent, Subject: "tester"}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type engine struct {
	store      *memory.Store
	clock      *testClock
	dispatcher events.Dispatcher
	cache      *ConfigCache
	recorder   *Recorder
	directory  *AgentDirectory
	dist       *Distributor
	sla        *SlaTracker
	tickets    *TicketService
	config     *ConfigService
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := memory.NewStore()
	clock := newTestClock()
	e := &engine{store: store, clock: clock, dispatcher: events.NewInMemoryDispatcher()}

	e.cache = NewConfigCache(ConfigCacheDependencies{
		QueueRepo:  store.Queues(),
		AgentRepo:  store.Agents(),
		PolicyRepo: store.SlaPolicies(),
		StatusRepo: store.Statuses(),
	})
	e.recorder = NewRecorder(RecorderDependencies{
		LogRepo:   store.DistributionLog(),
		EventRepo: store.SlaEvents(),
	})
	e.directory = NewAgentDirectory(AgentDirectoryDependencies{AgentRepo: store.Agents(), Cache: e.cache})
	e.dist = NewDistributor(DistributorDependencies{
		Cache:     e.cache,
		Directory: e.directory,
		Cursors:   store.Cursors(),
		Recorder:  e.recorder,
		Clock:     clock,
	})
	e.sla = NewSlaTracker(SlaTrackerDependencies{
		Cache:      e.cache,
		TicketRepo: store.Tickets(),
		EventRepo:  store.SlaEvents(),
		Recorder:   e.recorder,
		Dispatcher: e.dispatcher,
		Clock:      clock,
	})
	e.tickets = NewTicketService(TicketDependencies{
		TicketRepo:  store.Tickets(),
		QueueRepo:   store.Queues(),
		LogRepo:     store.DistributionLog(),
		Cache:       e.cache,
		Directory:   e.directory,
		Distributor: e.dist,
		SlaTracker:  e.sla,
		Dispatcher:  e.dispatcher,
		Clock:       clock,
	})
	e.config = NewConfigService(ConfigDependencies{
		QueueRepo:  store.Queues(),
		AgentRepo:  store.Agents(),
		PolicyRepo: store.SlaPolicies(),
		StatusRepo: store.Statuses(),
		Cache:      e.cache,
	})
	return e
}

func (e *engine) queue(t *testing.T, input QueueInput) *domain.Queue {
	t.Helper()
	if input.Name == "" {
		input.Name = "support"
	}
	q, err := e.config.CreateQueue(context.Background(), tenant, input)
	require.NoError(t, err)
	return q
}

// agent registers an available agent and adds it to each queue in order.
func (e *engine) agent(t *testing.T, id string, capacity int, queues ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.config.CreateAgent(ctx, tenant, AgentInput{ID: id, Name: id, MaxCapacity: capacity, Status: domain.AgentStatusAvailable})
	require.NoError(t, err)
	for _, q := range queues {
		_, err := e.config.UpsertMember(ctx, tenant, q, id, MemberInput{})
		require.NoError(t, err)
	}
}

func (e *engine) member(t *testing.T, queueID, agentID string, input MemberInput) {
	t.Helper()
	_, err := e.config.UpsertMember(context.Background(), tenant, queueID, agentID, input)
	require.NoError(t, err)
}

func (e *engine) policy(t *testing.T, input PolicyInput) *domain.SlaPolicy {
	t.Helper()
	if input.Priority == "" {
		input.Priority = domain.TicketPriorityNormal
	}
	p, err := e.config.CreatePolicy(context.Background(), tenant, input)
	require.NoError(t, err)
	return p
}

func (e *engine) create(t *testing.T, queueID string) *domain.Ticket {
	t.Helper()
	ticket, err := e.tickets.CreateTicket(context.Background(), tenant, agentActor, TicketCreateInput{QueueID: queueID})
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	return ticket
}

func (e *engine) load(t *testing.T, agentID string) int {
	t.Helper()
	a, err := e.store.Agents().GetByID(context.Background(), tenant, agentID)
	require.NoError(t, err)
	return a.ActiveTicketCount
}

func (e *engine) slaEvents(t *testing.T, ticketID string) map[domain.SlaClock][]domain.SlaEventType {
	t.Helper()
	list, err := e.store.SlaEvents().ListByTicket(context.Background(), tenant, ticketID)
	require.NoError(t, err)
	out := map[domain.SlaClock][]domain.SlaEventType{}
	for _, ev := range list {
		out[ev.Clock] = append(out[ev.Clock], ev.EventType)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func errCode(err error) string {
	if err == nil {
		return ""
	}
	return apperrors.ToDomainError(err).Code
}
