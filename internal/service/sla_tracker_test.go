package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routedesk/routing-engine/internal/calendar"
	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/events"
)

func slaEngine(t *testing.T) (*engine, *domain.Queue, *domain.SlaPolicy) {
	t.Helper()
	e := newEngine(t)
	q := e.queue(t, QueueInput{})
	e.agent(t, "a1", 10, q.ID)
	p := e.policy(t, PolicyInput{
		Name:                  "normal",
		ResponseTimeMinutes:   60,
		ResolutionTimeMinutes: 240,
		AlertThresholdPercent: 80,
		NotifySystem:          true,
	})
	return e, q, p
}

func respond(t *testing.T, e *engine, ticket *domain.Ticket) *domain.Ticket {
	t.Helper()
	out, err := e.tickets.Transition(context.Background(), tenant, ticket.ID, agentActor, TransitionInput{Action: ActionFirstResponse})
	require.NoError(t, err)
	return out
}

func eventOf(t *testing.T, e *engine, ticketID string, clock domain.SlaClock, eventType domain.SlaEventType) domain.SlaEvent {
	t.Helper()
	list, err := e.store.SlaEvents().ListByTicket(context.Background(), tenant, ticketID)
	require.NoError(t, err)
	for _, ev := range list {
		if ev.Clock == clock && ev.EventType == eventType {
			return ev
		}
	}
	t.Fatalf("no %s/%s event for ticket %s", clock, eventType, ticketID)
	return domain.SlaEvent{}
}

func TestClocksStartAtAssignment(t *testing.T) {
	e, q, p := slaEngine(t)
	ticket := e.create(t, q.ID)

	require.NotNil(t, ticket.SLA.PolicyID)
	assert.Equal(t, p.ID, *ticket.SLA.PolicyID)
	require.NotNil(t, ticket.SLA.ResponseDueAt)
	assert.Equal(t, ticket.CreatedAt.Add(time.Hour), *ticket.SLA.ResponseDueAt)
	assert.Equal(t, ticket.CreatedAt.Add(4*time.Hour), *ticket.SLA.ResolutionDueAt)

	got := e.slaEvents(t, ticket.ID)
	assert.Equal(t, []domain.SlaEventType{domain.SlaClockStarted}, got[domain.ClockResponse])
	assert.Equal(t, []domain.SlaEventType{domain.SlaClockStarted}, got[domain.ClockResolution])
}

func TestQueuedTicketHasNoClocks(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{})
	e.policy(t, PolicyInput{ResponseTimeMinutes: 10, ResolutionTimeMinutes: 20})

	ticket := e.create(t, q.ID)
	assert.Nil(t, ticket.SLA.StartedAt)
	assert.Empty(t, e.slaEvents(t, ticket.ID))
}

func TestFirstResponseBreachAndMet(t *testing.T) {
	e, q, _ := slaEngine(t)
	late := e.create(t, q.ID)
	early := e.create(t, q.ID)

	e.clock.Set(early.CreatedAt.Add(20 * time.Minute))
	respond(t, e, early)
	met := eventOf(t, e, early.ID, domain.ClockResponse, domain.SlaResponseMet)
	assert.Equal(t, 20.0, met.ElapsedMinutes)
	assert.Equal(t, 33.33, met.PercentUsed)
	assert.Equal(t, 60, met.LimitMinutes)

	e.clock.Set(late.CreatedAt.Add(90 * time.Minute))
	respond(t, e, late)
	breach := eventOf(t, e, late.ID, domain.ClockResponse, domain.SlaResponseBreach)
	assert.Equal(t, 90.0, breach.ElapsedMinutes)
	assert.Equal(t, 150.0, breach.PercentUsed)
}

func TestFirstResponseIsRecordedOnce(t *testing.T) {
	e, q, _ := slaEngine(t)
	ticket := e.create(t, q.ID)

	e.clock.Advance(5 * time.Minute)
	first := respond(t, e, ticket)
	require.NotNil(t, first.FirstResponseAt)
	at := *first.FirstResponseAt

	e.clock.Advance(2 * time.Hour)
	second := respond(t, e, ticket)
	assert.Equal(t, at, *second.FirstResponseAt)
	assert.Equal(t,
		[]domain.SlaEventType{domain.SlaClockStarted, domain.SlaResponseMet},
		e.slaEvents(t, ticket.ID)[domain.ClockResponse])
}

func TestResolvedWithoutResponse(t *testing.T) {
	e, q, _ := slaEngine(t)
	quick := e.create(t, q.ID)
	slow := e.create(t, q.ID)
	ctx := context.Background()

	e.clock.Set(quick.CreatedAt.Add(30 * time.Minute))
	_, err := e.tickets.Transition(ctx, tenant, quick.ID, agentActor, TransitionInput{Action: ActionClose})
	require.NoError(t, err)
	assert.Contains(t, e.slaEvents(t, quick.ID)[domain.ClockResponse], domain.SlaResponseUnrecorded)
	assert.Contains(t, e.slaEvents(t, quick.ID)[domain.ClockResolution], domain.SlaResolutionMet)

	e.clock.Set(slow.CreatedAt.Add(5 * time.Hour))
	_, err = e.tickets.Transition(ctx, tenant, slow.ID, agentActor, TransitionInput{Action: ActionClose})
	require.NoError(t, err)
	breach := eventOf(t, e, slow.ID, domain.ClockResponse, domain.SlaResponseBreach)
	assert.Equal(t, "resolved without a response after the response window", breach.Detail)
	assert.Contains(t, e.slaEvents(t, slow.ID)[domain.ClockResolution], domain.SlaResolutionBreach)
}

func TestMissingPolicyIsRecorded(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{})
	e.agent(t, "a1", 3, q.ID)

	ticket := e.create(t, q.ID)
	require.NotNil(t, ticket.AssignedAgentID)
	assert.NotNil(t, ticket.SLA.StartedAt)
	assert.Nil(t, ticket.SLA.PolicyID)
	assert.Equal(t, []domain.SlaEventType{domain.SlaMissingPolicy}, e.slaEvents(t, ticket.ID)[domain.ClockNone])

	snap, err := e.sla.Snapshot(context.Background(), tenant, ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.Response)
	assert.Nil(t, snap.Resolution)
}

func TestChannelPolicyPreferredOverWildcard(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{})
	e.agent(t, "a1", 3, q.ID)
	wildcard := e.policy(t, PolicyInput{ResponseTimeMinutes: 60, ResolutionTimeMinutes: 120})
	chat := e.policy(t, PolicyInput{Channel: ptr("chat"), ResponseTimeMinutes: 5, ResolutionTimeMinutes: 30})

	ctx := context.Background()
	viaChat, err := e.tickets.CreateTicket(ctx, tenant, agentActor, TicketCreateInput{QueueID: q.ID, Channel: "chat"})
	require.NoError(t, err)
	viaMail, err := e.tickets.CreateTicket(ctx, tenant, agentActor, TicketCreateInput{QueueID: q.ID, Channel: "email"})
	require.NoError(t, err)

	assert.Equal(t, chat.ID, *viaChat.SLA.PolicyID)
	assert.Equal(t, wildcard.ID, *viaMail.SLA.PolicyID)
}

func TestMalformedScheduleRecordsClockError(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	q := e.queue(t, QueueInput{})
	e.agent(t, "a1", 3, q.ID)
	require.NoError(t, e.store.SlaPolicies().Create(ctx, &domain.SlaPolicy{
		ID:                    "broken",
		TenantID:              tenant,
		Priority:              domain.TicketPriorityNormal,
		ResponseTimeMinutes:   10,
		ResolutionTimeMinutes: 20,
		Active:                true,
		BusinessHours: &calendar.Schedule{Week: []calendar.Day{
			{Day: "someday", Windows: []calendar.Window{{Start: "09:00", End: "17:00"}}},
		}},
	}))

	ticket := e.create(t, q.ID)
	require.NotNil(t, ticket.AssignedAgentID)
	assert.Nil(t, ticket.SLA.ResponseDueAt)
	assert.Equal(t, []domain.SlaEventType{domain.SlaClockError}, e.slaEvents(t, ticket.ID)[domain.ClockNone])
}

func TestBusinessHoursPauseTheClock(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{})
	e.agent(t, "a1", 3, q.ID)
	schedule := &calendar.Schedule{TimeZone: "UTC"}
	for _, d := range []string{"monday", "tuesday", "wednesday", "thursday", "friday"} {
		schedule.Week = append(schedule.Week, calendar.Day{Day: d, Windows: []calendar.Window{{Start: "09:00", End: "18:00"}}})
	}
	e.policy(t, PolicyInput{ResponseTimeMinutes: 120, ResolutionTimeMinutes: 600, BusinessHours: schedule})

	// Friday 17:00
	e.clock.Set(time.Date(2026, 10, 23, 17, 0, 0, 0, time.UTC))
	ticket := e.create(t, q.ID)
	require.NotNil(t, ticket.SLA.ResponseDueAt)
	assert.Equal(t, time.Date(2026, 10, 26, 10, 0, 0, 0, time.UTC), *ticket.SLA.ResponseDueAt)

	// Monday 09:30 is 90 business minutes in.
	e.clock.Set(time.Date(2026, 10, 26, 9, 30, 0, 0, time.UTC))
	respond(t, e, ticket)
	met := eventOf(t, e, ticket.ID, domain.ClockResponse, domain.SlaResponseMet)
	assert.Equal(t, 90.0, met.ElapsedMinutes)
}

func TestSweepAlertsOnceThenBreaches(t *testing.T) {
	e, q, _ := slaEngine(t)
	ctx := context.Background()
	ticket := e.create(t, q.ID)

	var (
		mu        sync.Mutex
		published []domain.SlaEventType
	)
	e.dispatcher.Subscribe(events.EventSlaRecorded, func(_ context.Context, ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, ev.Payload.(events.SlaRecordedPayload).Event.EventType)
		return nil
	})

	at := ticket.CreatedAt.Add(50 * time.Minute)
	res, err := e.sla.Sweep(ctx, tenant, at)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Emitted: 1}, res)

	res, err = e.sla.Sweep(ctx, tenant, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Emitted)

	at = ticket.CreatedAt.Add(61 * time.Minute)
	res, err = e.sla.Sweep(ctx, tenant, at)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Emitted)

	res, err = e.sla.Sweep(ctx, tenant, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Emitted)

	assert.Equal(t, []domain.SlaEventType{
		domain.SlaClockStarted, domain.SlaAlertNearBreach, domain.SlaResponseBreach,
	}, e.slaEvents(t, ticket.ID)[domain.ClockResponse])
	assert.Equal(t, []domain.SlaEventType{domain.SlaAlertNearBreach, domain.SlaResponseBreach}, published)
}

func TestSweepSkipsFinishedTickets(t *testing.T) {
	e, q, _ := slaEngine(t)
	ticket := e.create(t, q.ID)
	_, err := e.tickets.Transition(context.Background(), tenant, ticket.ID, agentActor, TransitionInput{Action: ActionCancel})
	require.NoError(t, err)

	res, err := e.sla.Sweep(context.Background(), tenant, ticket.CreatedAt.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}

func TestSnapshot(t *testing.T) {
	e, q, _ := slaEngine(t)
	ctx := context.Background()
	ticket := e.create(t, q.ID)

	e.clock.Set(ticket.CreatedAt.Add(50 * time.Minute))
	snap, err := e.sla.Snapshot(ctx, tenant, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.Response)
	assert.Equal(t, ClockAtRisk, snap.Response.Status)
	assert.Equal(t, 83.33, snap.Response.PercentUsed)
	assert.Equal(t, 10.0, snap.Response.RemainingMinutes)
	assert.Equal(t, ClockWithin, snap.Resolution.Status)

	respond(t, e, ticket)
	_, err = e.tickets.Transition(ctx, tenant, ticket.ID, agentActor, TransitionInput{Action: ActionCancel})
	require.NoError(t, err)

	e.clock.Advance(10 * time.Hour)
	snap, err = e.sla.Snapshot(ctx, tenant, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ClockMet, snap.Response.Status)
	assert.Equal(t, ClockStopped, snap.Resolution.Status)
	assert.Equal(t, 50.0, snap.Resolution.ElapsedMinutes)
}

func TestSnapshotUnknownTicket(t *testing.T) {
	e := newEngine(t)
	_, err := e.sla.Snapshot(context.Background(), tenant, "nope")
	assert.Equal(t, "NOT_FOUND", errCode(err))
}

func TestComplianceReport(t *testing.T) {
	e, q, _ := slaEngine(t)
	ctx := context.Background()
	good := e.create(t, q.ID)
	bad := e.create(t, q.ID)

	e.clock.Set(good.CreatedAt.Add(20 * time.Minute))
	respond(t, e, good)
	e.clock.Set(bad.CreatedAt.Add(90 * time.Minute))
	respond(t, e, bad)
	e.clock.Set(good.CreatedAt.Add(100 * time.Minute))
	_, err := e.tickets.Transition(ctx, tenant, good.ID, agentActor, TransitionInput{Action: ActionClose})
	require.NoError(t, err)

	report, err := e.sla.Report(ctx, tenant, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Response.Met)
	assert.Equal(t, 1, report.Response.Breached)
	assert.Equal(t, 50.0, report.Response.CompliancePercent)
	assert.Equal(t, 20.0, report.Response.AvgElapsedMetMinutes)
	assert.Equal(t, 90.0, report.Response.AvgElapsedBreachedMinutes)
	assert.Equal(t, 1, report.Resolution.Met)
	assert.Equal(t, 100.0, report.Resolution.CompliancePercent)
	assert.Zero(t, report.Unrecorded)
}

func TestReportWithoutEvents(t *testing.T) {
	e := newEngine(t)
	report, err := e.sla.Report(context.Background(), tenant, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Response.CompliancePercent)
	assert.Zero(t, report.Resolution.Met)
}

func TestMinuteSweepsAlertOnce(t *testing.T) {
	e, q, _ := slaEngine(t)
	ctx := context.Background()
	ticket := e.create(t, q.ID)

	// the 80% threshold of the 60 minute response clock falls at minute 48
	emitted := 0
	for m := 38; m <= 58; m++ {
		res, err := e.sla.Sweep(ctx, tenant, ticket.CreatedAt.Add(time.Duration(m)*time.Minute))
		require.NoError(t, err)
		emitted += res.Emitted
	}
	assert.Equal(t, 1, emitted)

	list, err := e.store.SlaEvents().ListByTicket(ctx, tenant, ticket.ID)
	require.NoError(t, err)
	alerts := 0
	for _, ev := range list {
		if ev.EventType == domain.SlaAlertNearBreach {
			alerts++
			assert.Equal(t, domain.ClockResponse, ev.Clock)
			assert.InDelta(t, 48, ev.ElapsedMinutes, 0.01)
		}
	}
	assert.Equal(t, 1, alerts)
}
