package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/repository/memory"
)

func newTestRecorder(store *memory.Store, maxAttempts int) *Recorder {
	return NewRecorder(RecorderDependencies{
		LogRepo:     store.DistributionLog(),
		EventRepo:   store.SlaEvents(),
		MaxAttempts: maxAttempts,
	})
}

func breachEvent(ticketID string) domain.SlaEvent {
	return domain.SlaEvent{
		ID:        "ev-" + ticketID,
		TenantID:  tenant,
		TicketID:  ticketID,
		Clock:     domain.ClockResponse,
		EventType: domain.SlaResponseBreach,
		CreatedAt: time.Now(),
	}
}

func TestRecorderNotifiesOnlyFreshEvents(t *testing.T) {
	store := memory.NewStore()
	r := newTestRecorder(store, 3)
	ctx := context.Background()

	calls := 0
	onInsert := func(context.Context, domain.SlaEvent) { calls++ }
	r.AppendEvent(ctx, breachEvent("t1"), onInsert)
	r.AppendEvent(ctx, breachEvent("t1"), onInsert)

	assert.Equal(t, 1, calls)
	list, err := store.SlaEvents().ListByTicket(ctx, tenant, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRecorderBuffersFailedWrites(t *testing.T) {
	store := memory.NewStore()
	r := newTestRecorder(store, 3)
	ctx := context.Background()

	store.FailAppends.Store(true)
	calls := 0
	r.AppendEvent(ctx, breachEvent("t1"), func(context.Context, domain.SlaEvent) { calls++ })
	r.AppendLog(ctx, domain.DistributionLogEntry{ID: "log-1", TenantID: tenant, TicketID: "t1", AgentID: "a1"})
	assert.Equal(t, 2, r.Pending())
	assert.Zero(t, calls)

	assert.Zero(t, r.Flush(ctx))
	assert.Equal(t, 2, r.Pending())

	store.FailAppends.Store(false)
	assert.Equal(t, 2, r.Flush(ctx))
	assert.Zero(t, r.Pending())
	assert.Equal(t, 1, calls)

	entries, err := store.DistributionLog().ListByTicket(ctx, tenant, "t1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecorderDropsAfterMaxAttempts(t *testing.T) {
	store := memory.NewStore()
	r := newTestRecorder(store, 2)
	ctx := context.Background()

	store.FailAppends.Store(true)
	r.AppendEvent(ctx, breachEvent("t1"), nil)
	assert.Equal(t, 1, r.Pending())

	r.Flush(ctx)
	assert.Zero(t, r.Pending())
}

func TestAuditOutageDoesNotBlockAssignment(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{})
	e.agent(t, "a1", 3, q.ID)
	e.store.FailAppends.Store(true)

	ticket := e.create(t, q.ID)
	require.NotNil(t, ticket.AssignedAgentID)
	// the log entry and the missing_policy event
	assert.Equal(t, 2, e.recorder.Pending())

	e.store.FailAppends.Store(false)
	assert.Equal(t, 2, e.recorder.Flush(context.Background()))
	entries, err := e.tickets.DistributionLog(context.Background(), tenant, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
