package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/events"
	"github.com/routedesk/routing-engine/internal/observability"
	"github.com/routedesk/routing-engine/internal/repository"
	apperrors "github.com/routedesk/routing-engine/pkg/util/errorutil"
)

// TransitionAction names a ticket lifecycle step.
type TransitionAction string

const (
	ActionFirstResponse TransitionAction = "first_response"
	ActionAwait         TransitionAction = "await"
	ActionResume        TransitionAction = "resume"
	ActionClose         TransitionAction = "close"
	ActionCancel        TransitionAction = "cancel"
)

// TicketService is the ticket state machine. It owns ticket rows and drives the
// distributor, the agent directory and the SLA tracker from each transition.
type TicketService struct {
	tickets     repository.TicketRepository
	queues      repository.QueueRepository
	logs        repository.DistributionLogRepository
	cache       *ConfigCache
	directory   *AgentDirectory
	distributor *Distributor
	sla         *SlaTracker
	dispatcher  events.Dispatcher
	clock       Clock
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	QueueRepo   repository.QueueRepository
	LogRepo     repository.DistributionLogRepository
	Cache       *ConfigCache
	Directory   *AgentDirectory
	Distributor *Distributor
	SlaTracker  *SlaTracker
	Dispatcher  events.Dispatcher
	Clock       Clock
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// TicketCreateInput describes an intake payload.
type TicketCreateInput struct {
	QueueID       string
	Priority      domain.TicketPriority
	Channel       string
	RequiredSkill *domain.SkillRequirement
}

// TransitionInput requests a lifecycle step, optionally landing on a tenant status label.
type TransitionInput struct {
	Action TransitionAction
	Status string
}

// TicketListFilter narrows ticket listings.
type TicketListFilter struct {
	QueueID       *string
	AgentID       *string
	StatusClasses []domain.StatusClass
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	Limit         int
	Offset        int
}

// LoadDrift reports an agent whose load counter disagrees with its open tickets.
type LoadDrift struct {
	AgentID     string
	Counter     int
	OpenTickets int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:     deps.TicketRepo,
		queues:      deps.QueueRepo,
		logs:        deps.LogRepo,
		cache:       deps.Cache,
		directory:   deps.Directory,
		distributor: deps.Distributor,
		sla:         deps.SlaTracker,
		dispatcher:  deps.Dispatcher,
		clock:       clockOrSystem(deps.Clock),
		logger:      logger,
		metrics:     deps.Metrics,
	}
}

// CreateTicket stores a new ticket in the queued state and runs the distributor for it.
// The returned ticket is either assigned or queued with a reason.
func (s *TicketService) CreateTicket(ctx context.Context, tenantID string, actor events.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, apperrors.NewTenantRequired()
	}
	input.QueueID = strings.TrimSpace(input.QueueID)
	if input.QueueID == "" {
		return nil, apperrors.NewValidationError("queue_id is required", nil)
	}
	if input.Priority == "" {
		input.Priority = domain.TicketPriorityNormal
	}
	if !input.Priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": input.Priority})
	}
	if req := input.RequiredSkill; req != nil {
		req.Skill = strings.TrimSpace(req.Skill)
		if req.Skill == "" {
			input.RequiredSkill = nil
		} else if req.MinLevel < 0 {
			return nil, apperrors.NewValidationError("min_level must not be negative", map[string]any{"min_level": req.MinLevel})
		}
	}

	if _, _, err := s.cache.Queue(ctx, tenantID, input.QueueID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("queue", map[string]any{"queue_id": input.QueueID})
		}
		return nil, apperrors.MapError(err)
	}
	set, err := s.cache.StatusSet(ctx, tenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	now := s.clock.Now()
	ticket := &domain.Ticket{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		QueueID:       input.QueueID,
		Status:        set.Default(domain.StatusClassQueued),
		StatusClass:   domain.StatusClassQueued,
		Priority:      input.Priority,
		Channel:       strings.TrimSpace(input.Channel),
		RequiredSkill: input.RequiredSkill,
		CreatedAt:     now,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TenantID: tenantID,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload: events.TicketCreatedPayload{
			QueueID:  ticket.QueueID,
			Priority: ticket.Priority,
			Channel:  ticket.Channel,
		},
	})

	if err := s.dispatch(ctx, ticket, set, actor, AssignOptions{}); err != nil {
		return nil, err
	}
	return ticket, nil
}

// dispatch runs the distributor and persists its decision on the ticket. When another
// path stored the ticket first the decision is dropped and the ticket is reloaded, so
// the caller sees whatever the winner decided.
func (s *TicketService) dispatch(ctx context.Context, ticket *domain.Ticket, set domain.StatusSet, actor events.Actor, opts AssignOptions) error {
	decision, err := s.distributor.Assign(ctx, *ticket, opts)
	if err != nil {
		return err
	}
	if decision.Assigned {
		err = s.applyAssignment(ctx, ticket, set, actor, decision, opts)
	} else {
		err = s.applyQueued(ctx, ticket, set, actor, decision)
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		s.logger.Debug("ticket stored by a concurrent dispatch",
			zap.String("tenant_id", ticket.TenantID),
			zap.String("ticket_id", ticket.ID),
			zap.Bool("assigned", decision.Assigned))
		current, err := s.GetTicket(ctx, ticket.TenantID, ticket.ID)
		if err != nil {
			return err
		}
		*ticket = *current
		return nil
	}
	if err != nil {
		return apperrors.MapError(err)
	}
	return nil
}

// applyAssignment stores an assigned decision. The version check on the ticket row decides
// between concurrent dispatches; only the winner confirms the decision and starts clocks.
// A loser gets the repository error back with its slot already released.
func (s *TicketService) applyAssignment(ctx context.Context, ticket *domain.Ticket, set domain.StatusSet, actor events.Actor, decision Decision, opts AssignOptions) error {
	oldStatus := ticket.Status
	agentID := decision.AgentID
	if ticket.StatusClass != domain.StatusClassOpen && ticket.StatusClass != domain.StatusClassWaiting {
		ticket.Status = set.Default(domain.StatusClassOpen)
		ticket.StatusClass = domain.StatusClassOpen
	}
	ticket.AssignedAgentID = &agentID
	ticket.QueueID = decision.QueueID
	ticket.QueuedReason = nil
	ticket.TimeoutAt = nil
	ticket.AssignCount++
	start := s.sla.StartClocks(ctx, ticket)

	if err := s.tickets.Update(ctx, ticket); err != nil {
		s.directory.Release(ctx, ticket.TenantID, agentID)
		return err
	}
	s.distributor.Confirm(ctx, ticket.TenantID, decision)
	s.sla.RecordStart(ctx, start)

	payload := events.TicketAssignedPayload{
		AgentID:        agentID,
		QueueID:        decision.QueueID,
		Algorithm:      decision.Algorithm,
		IsReassignment: opts.Reassignment || ticket.AssignCount > 1,
	}
	if opts.ReassignReason != "" {
		reason := string(opts.ReassignReason)
		payload.ReassignmentReason = &reason
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketAssigned,
		TenantID: ticket.TenantID,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload:  payload,
	})
	if oldStatus != ticket.Status {
		s.publishStatusChange(ctx, ticket, actor, oldStatus)
	}
	return nil
}

func (s *TicketService) applyQueued(ctx context.Context, ticket *domain.Ticket, set domain.StatusSet, actor events.Actor, decision Decision) error {
	oldStatus := ticket.Status
	if ticket.StatusClass != domain.StatusClassQueued {
		ticket.Status = set.Default(domain.StatusClassQueued)
		ticket.StatusClass = domain.StatusClassQueued
	}
	reason := decision.Reason
	ticket.AssignedAgentID = nil
	ticket.QueuedReason = &reason
	ticket.TimeoutAt = nil
	if reason != ReasonManualDistribution {
		if queue, _, err := s.cache.Queue(ctx, ticket.TenantID, ticket.QueueID); err == nil && queue.TimeoutMinutes > 0 {
			timeoutAt := s.clock.Now().Add(queue.Config().Timeout)
			ticket.TimeoutAt = &timeoutAt
		}
	}

	if err := s.tickets.Update(ctx, ticket); err != nil {
		return err
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketQueued,
		TenantID: ticket.TenantID,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload:  events.TicketQueuedPayload{QueueID: ticket.QueueID, Reason: reason},
	})
	if oldStatus != ticket.Status {
		s.publishStatusChange(ctx, ticket, actor, oldStatus)
	}
	return nil
}

// GetTicket loads a ticket of the tenant.
func (s *TicketService) GetTicket(ctx context.Context, tenantID, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, tenantID, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

// ListTickets lists the tenant's tickets, newest first.
func (s *TicketService) ListTickets(ctx context.Context, tenantID string, filter TicketListFilter) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		TenantID:      tenantID,
		QueueID:       filter.QueueID,
		AgentID:       filter.AgentID,
		StatusClasses: filter.StatusClasses,
		CreatedFrom:   filter.CreatedFrom,
		CreatedTo:     filter.CreatedTo,
		Limit:         filter.Limit,
		Offset:        filter.Offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// Transition applies a lifecycle action to the ticket.
func (s *TicketService) Transition(ctx context.Context, tenantID, ticketID string, actor events.Actor, input TransitionInput) (*domain.Ticket, error) {
	ticket, err := s.GetTicket(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.IsTerminal() {
		return nil, apperrors.NewConflict("ticket already finished", map[string]any{"status": ticket.Status})
	}
	set, err := s.cache.StatusSet(ctx, tenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	switch input.Action {
	case ActionFirstResponse:
		return s.firstResponse(ctx, ticket, set, actor, input.Status)
	case ActionAwait:
		return s.moveBetweenOpen(ctx, ticket, set, actor, input.Status, domain.StatusClassOpen, domain.StatusClassWaiting)
	case ActionResume:
		return s.moveBetweenOpen(ctx, ticket, set, actor, input.Status, domain.StatusClassWaiting, domain.StatusClassOpen)
	case ActionClose:
		return s.close(ctx, ticket, set, actor, input.Status)
	case ActionCancel:
		return s.cancel(ctx, ticket, set, actor, input.Status)
	}
	return nil, apperrors.NewValidationError("unknown transition action", map[string]any{"action": input.Action})
}

func (s *TicketService) firstResponse(ctx context.Context, ticket *domain.Ticket, set domain.StatusSet, actor events.Actor, label string) (*domain.Ticket, error) {
	if !ticket.HoldsSlot() {
		return nil, apperrors.NewConflict("ticket is not being handled by an agent", map[string]any{"status": ticket.Status})
	}
	oldStatus := ticket.Status
	if strings.TrimSpace(label) != "" {
		name, class, ok := resolveAny(set, label, domain.StatusClassOpen, domain.StatusClassWaiting)
		if !ok {
			return nil, invalidLabel(label)
		}
		ticket.Status, ticket.StatusClass = name, class
	}
	if ticket.FirstResponseAt != nil && oldStatus == ticket.Status {
		return ticket, nil
	}

	before := *ticket
	now := s.clock.Now()
	if ticket.FirstResponseAt == nil {
		ticket.FirstResponseAt = &now
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, s.mapUpdateError(err, ticket.ID)
	}
	s.sla.OnFirstResponse(ctx, before, now)
	if oldStatus != ticket.Status {
		s.publishStatusChange(ctx, ticket, actor, oldStatus)
	}
	return ticket, nil
}

func (s *TicketService) moveBetweenOpen(ctx context.Context, ticket *domain.Ticket, set domain.StatusSet, actor events.Actor, label string, from, to domain.StatusClass) (*domain.Ticket, error) {
	if ticket.StatusClass != from {
		return nil, apperrors.NewConflict("invalid status transition",
			map[string]any{"status": ticket.Status, "expected_class": from})
	}
	name, ok := set.Resolve(label, to)
	if !ok {
		return nil, invalidLabel(label)
	}
	oldStatus := ticket.Status
	ticket.Status, ticket.StatusClass = name, to
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, s.mapUpdateError(err, ticket.ID)
	}
	s.publishStatusChange(ctx, ticket, actor, oldStatus)
	return ticket, nil
}

func (s *TicketService) close(ctx context.Context, ticket *domain.Ticket, set domain.StatusSet, actor events.Actor, label string) (*domain.Ticket, error) {
	if !ticket.HoldsSlot() {
		return nil, apperrors.NewConflict("only tickets being handled can be closed", map[string]any{"status": ticket.Status})
	}
	name, ok := set.Resolve(label, domain.StatusClassClosed)
	if !ok {
		return nil, invalidLabel(label)
	}
	agentID := *ticket.AssignedAgentID
	oldStatus := ticket.Status
	now := s.clock.Now()
	ticket.Status, ticket.StatusClass = name, domain.StatusClassClosed
	ticket.ResolvedAt = &now
	ticket.TimeoutAt = nil
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, s.mapUpdateError(err, ticket.ID)
	}

	s.sla.OnResolved(ctx, *ticket, now)
	s.directory.Release(ctx, ticket.TenantID, agentID)
	s.publishStatusChange(ctx, ticket, actor, oldStatus)
	s.Nudge(ctx, ticket.TenantID, agentID)
	return ticket, nil
}

func (s *TicketService) cancel(ctx context.Context, ticket *domain.Ticket, set domain.StatusSet, actor events.Actor, label string) (*domain.Ticket, error) {
	name, ok := set.Resolve(label, domain.StatusClassCancelled)
	if !ok {
		return nil, invalidLabel(label)
	}
	held := ticket.HoldsSlot()
	var agentID string
	if held {
		agentID = *ticket.AssignedAgentID
	}
	oldStatus := ticket.Status
	now := s.clock.Now()
	ticket.Status, ticket.StatusClass = name, domain.StatusClassCancelled
	ticket.CancelledAt = &now
	ticket.TimeoutAt = nil
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, s.mapUpdateError(err, ticket.ID)
	}

	s.publishStatusChange(ctx, ticket, actor, oldStatus)
	if held {
		s.directory.Release(ctx, ticket.TenantID, agentID)
		s.Nudge(ctx, ticket.TenantID, agentID)
	}
	return ticket, nil
}

// ReassignTicket moves a ticket to a chosen member of its queue.
func (s *TicketService) ReassignTicket(ctx context.Context, tenantID, ticketID, agentID string, actor events.Actor) (*domain.Ticket, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, apperrors.NewValidationError("agent_id is required", nil)
	}
	ticket, err := s.GetTicket(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.IsTerminal() {
		return nil, apperrors.NewConflict("ticket already finished", map[string]any{"status": ticket.Status})
	}
	set, err := s.cache.StatusSet(ctx, tenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	var previous string
	if ticket.HoldsSlot() {
		previous = *ticket.AssignedAgentID
	}
	decision, err := s.distributor.ReassignTo(ctx, *ticket, agentID)
	if err != nil {
		return nil, err
	}
	opts := AssignOptions{Reassignment: true, ReassignReason: domain.ReassignManual}
	if err := s.applyAssignment(ctx, ticket, set, actor, decision, opts); err != nil {
		return nil, s.mapUpdateError(err, ticket.ID)
	}
	if previous != "" {
		s.directory.Release(ctx, tenantID, previous)
		s.Nudge(ctx, tenantID, previous)
	}
	s.metrics.RecordReassignment(string(domain.ReassignManual))
	return ticket, nil
}

// HandleTimeout re-runs the distributor for a ticket still queued past its timeout.
// Tickets that left the queue meanwhile are returned unchanged.
func (s *TicketService) HandleTimeout(ctx context.Context, tenantID, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.GetTicket(ctx, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if ticket.StatusClass != domain.StatusClassQueued || ticket.TimeoutAt == nil || ticket.TimeoutAt.After(now) {
		return ticket, nil
	}
	set, err := s.cache.StatusSet(ctx, tenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	opts := AssignOptions{Reassignment: true, ReassignReason: domain.ReassignQueueTimeout}
	if err := s.dispatch(ctx, ticket, set, events.SystemActor, opts); err != nil {
		return nil, err
	}
	s.metrics.RecordReassignment(string(domain.ReassignQueueTimeout))
	return ticket, nil
}

// SetAgentStatus records a presence change. Going OFFLINE or AWAY reassigns the agent's
// open tickets; becoming AVAILABLE offers the agent the oldest queued work of its queues.
func (s *TicketService) SetAgentStatus(ctx context.Context, tenantID, agentID string, status domain.AgentStatus, actor events.Actor) (*domain.Agent, error) {
	previous, err := s.directory.SetStatus(ctx, tenantID, agentID, status)
	if err != nil {
		return nil, err
	}
	s.logger.Info("agent status changed",
		zap.String("tenant_id", tenantID),
		zap.String("agent_id", agentID),
		zap.String("from", string(previous)),
		zap.String("to", string(status)))

	switch status {
	case domain.AgentStatusOffline, domain.AgentStatusAway:
		reason := domain.ReassignAgentOffline
		if status == domain.AgentStatusAway {
			reason = domain.ReassignAgentAway
		}
		s.reassignAgentTickets(ctx, tenantID, agentID, reason)
	case domain.AgentStatusAvailable:
		if previous != domain.AgentStatusAvailable {
			s.nudgeEachQueue(ctx, tenantID, agentID)
		}
	}
	return s.directory.Get(ctx, tenantID, agentID)
}

func (s *TicketService) reassignAgentTickets(ctx context.Context, tenantID, agentID string, reason domain.ReassignmentReason) {
	tickets, err := s.tickets.ListOpenByAgent(ctx, tenantID, agentID)
	if err != nil {
		s.logger.Error("list agent tickets for reassignment",
			zap.String("tenant_id", tenantID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		return
	}
	for i := range tickets {
		if err := s.reassignAway(ctx, &tickets[i], reason); err != nil {
			s.logger.Warn("reassign ticket",
				zap.String("tenant_id", tenantID),
				zap.String("ticket_id", tickets[i].ID),
				zap.String("reason", string(reason)),
				zap.Error(err))
		}
	}
}

// reassignAway frees the ticket from its agent and runs the distributor again. Putting
// the ticket back in the queue first makes the version check decide who releases the slot.
func (s *TicketService) reassignAway(ctx context.Context, ticket *domain.Ticket, reason domain.ReassignmentReason) error {
	if !ticket.HoldsSlot() {
		return nil
	}
	set, err := s.cache.StatusSet(ctx, ticket.TenantID)
	if err != nil {
		return err
	}
	previous := *ticket.AssignedAgentID
	oldStatus := ticket.Status
	why := string(reason)
	ticket.AssignedAgentID = nil
	ticket.Status = set.Default(domain.StatusClassQueued)
	ticket.StatusClass = domain.StatusClassQueued
	ticket.QueuedReason = &why
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return err
	}
	s.directory.Release(ctx, ticket.TenantID, previous)
	s.publishStatusChange(ctx, ticket, events.SystemActor, oldStatus)
	s.metrics.RecordReassignment(why)

	return s.dispatch(ctx, ticket, set, events.SystemActor, AssignOptions{Reassignment: true, ReassignReason: reason})
}

// Nudge offers the oldest queued ticket across the agent's auto-distributed queues to the
// distributor after the agent freed a slot.
func (s *TicketService) Nudge(ctx context.Context, tenantID, agentID string) {
	queueIDs := s.autoQueuesOf(ctx, tenantID, agentID)
	if len(queueIDs) == 0 {
		return
	}
	s.nudge(ctx, tenantID, queueIDs)
}

func (s *TicketService) nudgeEachQueue(ctx context.Context, tenantID, agentID string) {
	for _, queueID := range s.autoQueuesOf(ctx, tenantID, agentID) {
		s.nudge(ctx, tenantID, []string{queueID})
	}
}

func (s *TicketService) nudge(ctx context.Context, tenantID string, queueIDs []string) {
	ticket, err := s.tickets.OldestQueued(ctx, tenantID, queueIDs)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("find queued ticket", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		return
	}
	set, err := s.cache.StatusSet(ctx, tenantID)
	if err != nil {
		return
	}
	if err := s.dispatch(ctx, ticket, set, events.SystemActor, AssignOptions{}); err != nil {
		s.logger.Warn("nudge queued ticket",
			zap.String("tenant_id", tenantID),
			zap.String("ticket_id", ticket.ID),
			zap.Error(err))
	}
}

func (s *TicketService) autoQueuesOf(ctx context.Context, tenantID, agentID string) []string {
	ids, err := s.queues.ListQueueIDsForAgent(ctx, tenantID, agentID)
	if err != nil {
		s.logger.Warn("list agent queues", zap.String("agent_id", agentID), zap.Error(err))
		return nil
	}
	auto := ids[:0]
	for _, id := range ids {
		queue, _, err := s.cache.Queue(ctx, tenantID, id)
		if err != nil {
			continue
		}
		if queue.Active && queue.AutoDistribution {
			auto = append(auto, id)
		}
	}
	return auto
}

// ProcessTimeouts re-runs the distributor for every ticket of the tenant whose queue timeout elapsed.
func (s *TicketService) ProcessTimeouts(ctx context.Context, tenantID string, limit int) (int, error) {
	due, err := s.tickets.ListTimedOut(ctx, tenantID, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if _, err := s.HandleTimeout(ctx, tenantID, t.ID); err != nil {
			s.logger.Warn("queue timeout", zap.String("tenant_id", tenantID), zap.String("ticket_id", t.ID), zap.Error(err))
			continue
		}
		processed++
	}
	return processed, nil
}

// ReconcileLoad compares each agent's load counter with its open tickets. It only reports.
func (s *TicketService) ReconcileLoad(ctx context.Context, tenantID string, agents []domain.Agent) ([]LoadDrift, error) {
	counts, err := s.tickets.CountOpenByAgent(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var drift []LoadDrift
	for _, a := range agents {
		open := counts[a.ID]
		s.metrics.SetLoadDrift(tenantID, a.ID, a.ActiveTicketCount-open)
		if a.ActiveTicketCount != open {
			drift = append(drift, LoadDrift{AgentID: a.ID, Counter: a.ActiveTicketCount, OpenTickets: open})
		}
	}
	return drift, nil
}

// DistributionLog lists the assignment audit of one ticket.
func (s *TicketService) DistributionLog(ctx context.Context, tenantID, ticketID string) ([]domain.DistributionLogEntry, error) {
	if _, err := s.GetTicket(ctx, tenantID, ticketID); err != nil {
		return nil, err
	}
	entries, err := s.logs.ListByTicket(ctx, tenantID, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// ListDistributionLog pages the tenant's assignment audit, newest first.
func (s *TicketService) ListDistributionLog(ctx context.Context, filter repository.DistributionLogFilter) ([]domain.DistributionLogEntry, error) {
	entries, err := s.logs.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

func (s *TicketService) mapUpdateError(err error, ticketID string) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return apperrors.NewConflict("ticket was modified concurrently", map[string]any{"ticket_id": ticketID})
	}
	return apperrors.MapError(err)
}

func (s *TicketService) publishStatusChange(ctx context.Context, ticket *domain.Ticket, actor events.Actor, oldStatus string) {
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TenantID: ticket.TenantID,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: ticket.Status,
			NewClass:  ticket.StatusClass,
		},
	})
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func resolveAny(set domain.StatusSet, label string, classes ...domain.StatusClass) (string, domain.StatusClass, bool) {
	for _, class := range classes {
		if name, ok := set.Resolve(label, class); ok {
			return name, class, true
		}
	}
	return "", "", false
}

func invalidLabel(label string) error {
	return apperrors.NewValidationError("status label not allowed for this transition", map[string]any{"status": label})
}
