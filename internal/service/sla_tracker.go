package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/calendar"
	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/events"
	"github.com/routedesk/routing-engine/internal/observability"
	"github.com/routedesk/routing-engine/internal/repository"
	apperrors "github.com/routedesk/routing-engine/pkg/util/errorutil"
)

// Snapshot statuses of one SLA clock.
const (
	ClockWithin     = "within"
	ClockAtRisk     = "at_risk"
	ClockBreached   = "breached"
	ClockMet        = "met"
	ClockUnrecorded = "unrecorded"
	ClockStopped    = "stopped"
)

// ClockSnapshot is the live view of one SLA clock.
type ClockSnapshot struct {
	Clock            domain.SlaClock
	Status           string
	ElapsedMinutes   float64
	LimitMinutes     int
	PercentUsed      float64
	RemainingMinutes float64
	DueAt            *time.Time
}

// SlaSnapshot is the SLA state of a ticket at a point in time.
type SlaSnapshot struct {
	TicketID   string
	PolicyID   *string
	AsOf       time.Time
	Response   *ClockSnapshot
	Resolution *ClockSnapshot
}

// ClockCompliance aggregates closing events of one clock.
type ClockCompliance struct {
	Met                       int
	Breached                  int
	NearBreach                int
	CompliancePercent         float64
	AvgElapsedMetMinutes      float64
	AvgElapsedBreachedMinutes float64
}

// ComplianceReport summarizes SLA events in a window.
type ComplianceReport struct {
	TenantID   string
	From       *time.Time
	To         *time.Time
	Response   ClockCompliance
	Resolution ClockCompliance
	Unrecorded int
	Diagnostic int
}

// SweepResult counts what one tenant sweep did.
type SweepResult struct {
	Scanned int
	Emitted int
}

// SlaTracker resolves policies, computes business-time deadlines and records SLA events.
// It never changes ticket status or agent load.
type SlaTracker struct {
	cache           *ConfigCache
	tickets         repository.TicketRepository
	events          repository.SlaEventRepository
	recorder        *Recorder
	dispatcher      events.Dispatcher
	defaultSchedule *calendar.Schedule
	batchSize       int
	clock           Clock
	logger          *zap.Logger
	metrics         *observability.Metrics
}

// SlaTrackerDependencies bundles collaborators.
type SlaTrackerDependencies struct {
	Cache           *ConfigCache
	TicketRepo      repository.TicketRepository
	EventRepo       repository.SlaEventRepository
	Recorder        *Recorder
	Dispatcher      events.Dispatcher
	DefaultSchedule *calendar.Schedule
	BatchSize       int
	Clock           Clock
	Logger          *zap.Logger
	Metrics         *observability.Metrics
}

// NewSlaTracker constructs the tracker.
func NewSlaTracker(deps SlaTrackerDependencies) *SlaTracker {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = 500
	}
	return &SlaTracker{
		cache:           deps.Cache,
		tickets:         deps.TicketRepo,
		events:          deps.EventRepo,
		recorder:        deps.Recorder,
		dispatcher:      deps.Dispatcher,
		defaultSchedule: deps.DefaultSchedule,
		batchSize:       batch,
		clock:           clockOrSystem(deps.Clock),
		logger:          logger,
		metrics:         deps.Metrics,
	}
}

// ResolvePolicy returns the policy for the ticket's priority and channel, or nil when none applies.
func (s *SlaTracker) ResolvePolicy(ctx context.Context, ticket domain.Ticket) (*domain.SlaPolicy, error) {
	return s.cache.Policy(ctx, ticket.TenantID, ticket.Priority, ticket.Channel)
}

func (s *SlaTracker) calendarFor(policy *domain.SlaPolicy) (*calendar.Calendar, error) {
	if policy.BusinessHours != nil && !policy.BusinessHours.IsZero() {
		return calendar.New(*policy.BusinessHours)
	}
	if s.defaultSchedule != nil {
		return calendar.New(*s.defaultSchedule)
	}
	return calendar.AlwaysOn(), nil
}

// ClockStart holds the audit events of a clock start until the ticket row carrying the
// deadlines is stored.
type ClockStart struct {
	ticket  domain.Ticket
	policy  *domain.SlaPolicy
	pending []domain.SlaEvent
}

// StartClocks attaches the SLA policy and deadlines to the ticket. The caller persists the
// ticket and then passes the result to RecordStart. A ticket whose clocks already started
// is left untouched.
func (s *SlaTracker) StartClocks(ctx context.Context, ticket *domain.Ticket) ClockStart {
	if ticket.SLA.StartedAt != nil {
		return ClockStart{}
	}
	now := s.clock.Now()

	policy, err := s.ResolvePolicy(ctx, *ticket)
	if err != nil {
		s.logger.Warn("resolve sla policy",
			zap.String("tenant_id", ticket.TenantID),
			zap.String("ticket_id", ticket.ID),
			zap.Error(err))
		return ClockStart{}
	}
	ticket.SLA.StartedAt = &now

	if policy == nil {
		return ClockStart{ticket: *ticket, pending: []domain.SlaEvent{
			s.event(*ticket, nil, domain.ClockNone, domain.SlaMissingPolicy,
				0, 0, "no active policy for priority "+string(ticket.Priority)+" and channel "+ticket.Channel),
		}}
	}

	policyID := policy.ID
	ticket.SLA.PolicyID = &policyID

	cal, err := s.calendarFor(policy)
	var responseDue, resolutionDue time.Time
	if err == nil {
		responseDue, err = cal.Add(ticket.CreatedAt, minutes(policy.ResponseTimeMinutes))
	}
	if err == nil {
		resolutionDue, err = cal.Add(ticket.CreatedAt, minutes(policy.ResolutionTimeMinutes))
	}
	if err != nil {
		s.logger.Warn("sla clock computation failed",
			zap.String("tenant_id", ticket.TenantID),
			zap.String("ticket_id", ticket.ID),
			zap.String("policy_id", policy.ID),
			zap.Error(err))
		return ClockStart{ticket: *ticket, policy: policy, pending: []domain.SlaEvent{
			s.event(*ticket, policy, domain.ClockNone, domain.SlaClockError, 0, 0, err.Error()),
		}}
	}

	ticket.SLA.ResponseDueAt = &responseDue
	ticket.SLA.ResolutionDueAt = &resolutionDue
	return ClockStart{ticket: *ticket, policy: policy, pending: []domain.SlaEvent{
		s.event(*ticket, policy, domain.ClockResponse, domain.SlaClockStarted,
			0, policy.ResponseTimeMinutes, "due "+responseDue.Format(time.RFC3339)),
		s.event(*ticket, policy, domain.ClockResolution, domain.SlaClockStarted,
			0, policy.ResolutionTimeMinutes, "due "+resolutionDue.Format(time.RFC3339)),
	}}
}

// RecordStart appends the events of a stored clock start.
func (s *SlaTracker) RecordStart(ctx context.Context, start ClockStart) {
	for _, e := range start.pending {
		s.emit(ctx, start.ticket, start.policy, e)
	}
}

// OnFirstResponse closes the response clock. A ticket that already responded is a no-op.
func (s *SlaTracker) OnFirstResponse(ctx context.Context, ticket domain.Ticket, at time.Time) {
	if ticket.FirstResponseAt != nil || ticket.SLA.ResponseDueAt == nil {
		return
	}
	policy, cal, ok := s.policyAndCalendar(ctx, ticket)
	if !ok {
		return
	}
	elapsed := elapsedMinutes(cal, ticket.CreatedAt, at)
	eventType := domain.SlaResponseMet
	if elapsed > float64(policy.ResponseTimeMinutes) {
		eventType = domain.SlaResponseBreach
	}
	s.emit(ctx, ticket, policy, s.event(ticket, policy, domain.ClockResponse, eventType,
		elapsed, policy.ResponseTimeMinutes, ""))
}

// OnResolved closes the resolution clock and, when no response was ever recorded, the
// response clock with a breach if it was overdue or response_unrecorded otherwise.
func (s *SlaTracker) OnResolved(ctx context.Context, ticket domain.Ticket, at time.Time) {
	if ticket.SLA.ResolutionDueAt == nil {
		return
	}
	policy, cal, ok := s.policyAndCalendar(ctx, ticket)
	if !ok {
		return
	}

	elapsed := elapsedMinutes(cal, ticket.CreatedAt, at)
	eventType := domain.SlaResolutionMet
	if elapsed > float64(policy.ResolutionTimeMinutes) {
		eventType = domain.SlaResolutionBreach
	}
	s.emit(ctx, ticket, policy, s.event(ticket, policy, domain.ClockResolution, eventType,
		elapsed, policy.ResolutionTimeMinutes, ""))

	if ticket.FirstResponseAt == nil && ticket.SLA.ResponseDueAt != nil {
		eventType = domain.SlaResponseUnrecorded
		detail := "resolved before any response was recorded"
		if elapsed > float64(policy.ResponseTimeMinutes) {
			eventType = domain.SlaResponseBreach
			detail = "resolved without a response after the response window"
		}
		s.emit(ctx, ticket, policy, s.event(ticket, policy, domain.ClockResponse, eventType,
			elapsed, policy.ResponseTimeMinutes, detail))
	}
}

func (s *SlaTracker) policyAndCalendar(ctx context.Context, ticket domain.Ticket) (*domain.SlaPolicy, *calendar.Calendar, bool) {
	if ticket.SLA.PolicyID == nil {
		return nil, nil, false
	}
	policy, err := s.cache.PolicyByID(ctx, ticket.TenantID, *ticket.SLA.PolicyID)
	if err != nil {
		s.logger.Warn("load sla policy",
			zap.String("tenant_id", ticket.TenantID),
			zap.String("ticket_id", ticket.ID),
			zap.String("policy_id", *ticket.SLA.PolicyID),
			zap.Error(err))
		return nil, nil, false
	}
	cal, err := s.calendarFor(policy)
	if err != nil {
		s.emit(ctx, ticket, policy, s.event(ticket, policy, domain.ClockNone, domain.SlaClockError, 0, 0, err.Error()))
		return nil, nil, false
	}
	return policy, cal, true
}

// Sweep scans the tenant's tickets with open clocks and records near-breach and breach
// events at most once per ticket and clock.
func (s *SlaTracker) Sweep(ctx context.Context, tenantID string, now time.Time) (SweepResult, error) {
	var result SweepResult
	calendars := map[string]*calendar.Calendar{}

	for offset := 0; ; offset += s.batchSize {
		tickets, err := s.tickets.ListWithOpenClocks(ctx, tenantID, s.batchSize, offset)
		if err != nil {
			return result, err
		}
		if len(tickets) == 0 {
			return result, nil
		}

		ids := make([]string, len(tickets))
		for i, t := range tickets {
			ids[i] = t.ID
		}
		recorded, err := s.events.ListByTickets(ctx, tenantID, ids)
		if err != nil {
			return result, err
		}

		for _, ticket := range tickets {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Scanned++
			result.Emitted += s.sweepTicket(ctx, ticket, recorded[ticket.ID], calendars, now)
		}
		if len(tickets) < s.batchSize {
			return result, nil
		}
	}
}

func (s *SlaTracker) sweepTicket(ctx context.Context, ticket domain.Ticket, recorded []domain.SlaEvent, calendars map[string]*calendar.Calendar, now time.Time) int {
	policy, err := s.cache.PolicyByID(ctx, ticket.TenantID, *ticket.SLA.PolicyID)
	if err != nil {
		s.logger.Warn("sweep: load sla policy",
			zap.String("tenant_id", ticket.TenantID),
			zap.String("ticket_id", ticket.ID),
			zap.Error(err))
		return 0
	}
	cal, ok := calendars[policy.ID]
	if !ok {
		cal, err = s.calendarFor(policy)
		if err != nil {
			return 0
		}
		calendars[policy.ID] = cal
	}

	seen := make(map[domain.SlaClock]map[domain.SlaEventType]bool, 2)
	for _, e := range recorded {
		if seen[e.Clock] == nil {
			seen[e.Clock] = map[domain.SlaEventType]bool{}
		}
		seen[e.Clock][e.EventType] = true
	}
	closed := func(clock domain.SlaClock) bool {
		for t := range seen[clock] {
			if t.Closes() {
				return true
			}
		}
		return false
	}

	type openClock struct {
		clock  domain.SlaClock
		limit  int
		breach domain.SlaEventType
	}
	var clocks []openClock
	if ticket.FirstResponseAt == nil && ticket.SLA.ResponseDueAt != nil {
		clocks = append(clocks, openClock{domain.ClockResponse, policy.ResponseTimeMinutes, domain.SlaResponseBreach})
	}
	if ticket.SLA.ResolutionDueAt != nil {
		clocks = append(clocks, openClock{domain.ClockResolution, policy.ResolutionTimeMinutes, domain.SlaResolutionBreach})
	}

	emitted := 0
	elapsed := elapsedMinutes(cal, ticket.CreatedAt, now)
	for _, oc := range clocks {
		if closed(oc.clock) || oc.limit <= 0 {
			continue
		}
		pct := percentUsed(elapsed, oc.limit)
		switch {
		case elapsed > float64(oc.limit):
			s.emit(ctx, ticket, policy, s.event(ticket, policy, oc.clock, oc.breach, elapsed, oc.limit, "detected by sweep"))
			emitted++
		case policy.AlertThresholdPercent > 0 && pct >= float64(policy.AlertThresholdPercent) && !seen[oc.clock][domain.SlaAlertNearBreach]:
			s.emit(ctx, ticket, policy, s.event(ticket, policy, oc.clock, domain.SlaAlertNearBreach, elapsed, oc.limit, ""))
			emitted++
		}
	}
	return emitted
}

// Snapshot reports the state of both clocks of a ticket as of now.
func (s *SlaTracker) Snapshot(ctx context.Context, tenantID, ticketID string) (*SlaSnapshot, error) {
	ticket, err := s.tickets.GetByID(ctx, tenantID, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	now := s.clock.Now()
	snap := &SlaSnapshot{TicketID: ticket.ID, PolicyID: ticket.SLA.PolicyID, AsOf: now}
	if ticket.SLA.PolicyID == nil || ticket.SLA.ResolutionDueAt == nil {
		return snap, nil
	}

	policy, err := s.cache.PolicyByID(ctx, tenantID, *ticket.SLA.PolicyID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	cal, err := s.calendarFor(policy)
	if err != nil {
		return snap, nil
	}

	snap.Response = clockSnapshot(cal, policy, domain.ClockResponse, ticket.CreatedAt,
		ticket.SLA.ResponseDueAt, policy.ResponseTimeMinutes, ticket.FirstResponseAt, ticket, now)
	snap.Resolution = clockSnapshot(cal, policy, domain.ClockResolution, ticket.CreatedAt,
		ticket.SLA.ResolutionDueAt, policy.ResolutionTimeMinutes, ticket.ResolvedAt, ticket, now)
	return snap, nil
}

func clockSnapshot(cal *calendar.Calendar, policy *domain.SlaPolicy, clock domain.SlaClock, from time.Time, due *time.Time, limit int, stoppedAt *time.Time, ticket *domain.Ticket, now time.Time) *ClockSnapshot {
	snap := &ClockSnapshot{Clock: clock, LimitMinutes: limit, DueAt: due}

	end := now
	switch {
	case stoppedAt != nil:
		end = *stoppedAt
	case ticket.ResolvedAt != nil:
		end = *ticket.ResolvedAt
	case ticket.CancelledAt != nil:
		end = *ticket.CancelledAt
	}
	snap.ElapsedMinutes = elapsedMinutes(cal, from, end)
	snap.PercentUsed = percentUsed(snap.ElapsedMinutes, limit)
	snap.RemainingMinutes = math.Max(0, round2(float64(limit)-snap.ElapsedMinutes))
	breached := snap.ElapsedMinutes > float64(limit)

	switch {
	case stoppedAt != nil && breached:
		snap.Status = ClockBreached
	case stoppedAt != nil:
		snap.Status = ClockMet
	case ticket.StatusClass == domain.StatusClassCancelled:
		snap.Status = ClockStopped
	case ticket.ResolvedAt != nil && breached:
		snap.Status = ClockBreached
	case ticket.ResolvedAt != nil:
		snap.Status = ClockUnrecorded
	case breached:
		snap.Status = ClockBreached
	case policy.AlertThresholdPercent > 0 && snap.PercentUsed >= float64(policy.AlertThresholdPercent):
		snap.Status = ClockAtRisk
	default:
		snap.Status = ClockWithin
	}
	return snap
}

// Events lists the SLA events of one ticket.
func (s *SlaTracker) Events(ctx context.Context, tenantID, ticketID string) ([]domain.SlaEvent, error) {
	if _, err := s.tickets.GetByID(ctx, tenantID, ticketID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	list, err := s.events.ListByTicket(ctx, tenantID, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return list, nil
}

// ListEvents pages the tenant's SLA event stream, newest first.
func (s *SlaTracker) ListEvents(ctx context.Context, filter repository.SlaEventFilter) ([]domain.SlaEvent, error) {
	list, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return list, nil
}

// Report aggregates the tenant's closing and alert events between from and to.
func (s *SlaTracker) Report(ctx context.Context, tenantID string, from, to *time.Time) (*ComplianceReport, error) {
	report := &ComplianceReport{TenantID: tenantID, From: from, To: to}
	var respMet, respBreach, resMet, resBreach []float64

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		batch, err := s.events.List(ctx, repository.SlaEventFilter{
			TenantID: tenantID,
			From:     from,
			To:       to,
			Limit:    pageSize,
			Offset:   offset,
		})
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		for _, e := range batch {
			switch e.EventType {
			case domain.SlaResponseMet:
				respMet = append(respMet, e.ElapsedMinutes)
			case domain.SlaResponseBreach:
				respBreach = append(respBreach, e.ElapsedMinutes)
			case domain.SlaResolutionMet:
				resMet = append(resMet, e.ElapsedMinutes)
			case domain.SlaResolutionBreach:
				resBreach = append(resBreach, e.ElapsedMinutes)
			case domain.SlaAlertNearBreach:
				if e.Clock == domain.ClockResponse {
					report.Response.NearBreach++
				} else {
					report.Resolution.NearBreach++
				}
			case domain.SlaResponseUnrecorded:
				report.Unrecorded++
			case domain.SlaMissingPolicy, domain.SlaClockError:
				report.Diagnostic++
			}
		}
		if len(batch) < pageSize {
			break
		}
	}

	report.Response = compliance(report.Response.NearBreach, respMet, respBreach)
	report.Resolution = compliance(report.Resolution.NearBreach, resMet, resBreach)
	return report, nil
}

func compliance(nearBreach int, met, breached []float64) ClockCompliance {
	c := ClockCompliance{
		Met:                       len(met),
		Breached:                  len(breached),
		NearBreach:                nearBreach,
		AvgElapsedMetMinutes:      average(met),
		AvgElapsedBreachedMinutes: average(breached),
	}
	if total := c.Met + c.Breached; total > 0 {
		c.CompliancePercent = round2(float64(c.Met) / float64(total) * 100)
	}
	return c
}

func (s *SlaTracker) event(ticket domain.Ticket, policy *domain.SlaPolicy, clock domain.SlaClock, eventType domain.SlaEventType, elapsed float64, limit int, detail string) domain.SlaEvent {
	e := domain.SlaEvent{
		ID:             uuid.NewString(),
		TenantID:       ticket.TenantID,
		TicketID:       ticket.ID,
		Clock:          clock,
		EventType:      eventType,
		ElapsedMinutes: elapsed,
		LimitMinutes:   limit,
		PercentUsed:    percentUsed(elapsed, limit),
		Detail:         detail,
		CreatedAt:      s.clock.Now(),
	}
	if policy != nil {
		id := policy.ID
		e.PolicyID = &id
	}
	return e
}

func (s *SlaTracker) emit(ctx context.Context, ticket domain.Ticket, policy *domain.SlaPolicy, e domain.SlaEvent) {
	var notifyEmail, notifySystem bool
	if policy != nil {
		notifyEmail, notifySystem = policy.NotifyEmail, policy.NotifySystem
	}
	s.recorder.AppendEvent(ctx, e, func(ctx context.Context, inserted domain.SlaEvent) {
		if s.dispatcher == nil {
			return
		}
		err := s.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventSlaRecorded,
			TenantID:  ticket.TenantID,
			TicketID:  ticket.ID,
			Actor:     events.SystemActor,
			Timestamp: inserted.CreatedAt,
			Payload: events.SlaRecordedPayload{
				Event:        inserted,
				NotifyEmail:  notifyEmail,
				NotifySystem: notifySystem,
			},
		})
		if err != nil {
			s.logger.Warn("publish sla event",
				zap.String("tenant_id", ticket.TenantID),
				zap.String("ticket_id", ticket.ID),
				zap.String("event_type", string(inserted.EventType)),
				zap.Error(err))
		}
	})
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

func elapsedMinutes(cal *calendar.Calendar, from, to time.Time) float64 {
	return round2(cal.Elapsed(from, to).Minutes())
}

func percentUsed(elapsed float64, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return round2(elapsed / float64(limit) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return round2(sum / float64(len(values)))
}
