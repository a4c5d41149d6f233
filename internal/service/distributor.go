package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/observability"
	"github.com/routedesk/routing-engine/internal/repository"
	apperrors "github.com/routedesk/routing-engine/pkg/util/errorutil"
)

// Reasons a ticket stays queued.
const (
	ReasonNoCapacity         = "no_capacity"
	ReasonNoSkillMatch       = "no_skill_match"
	ReasonAllOffline         = "all_offline"
	ReasonManualDistribution = "manual_distribution"
	ReasonQueueInactive      = "queue_inactive"
)

// ErrCapacityRace marks an assignment that lost the capacity-checked increment twice.
var ErrCapacityRace = errors.New("capacity race lost")

// Decision is the outcome of an assignment attempt: Assigned with an agent, or Queued with a reason.
type Decision struct {
	Assigned  bool
	AgentID   string
	QueueID   string
	Algorithm domain.RoutingAlgorithm
	Reason    string
	Load      int
	Hops      int
	Raced     bool

	// Pending audit entry and cursor move, written by Confirm once the ticket row is stored.
	entry   *domain.DistributionLogEntry
	rotates bool
}

// AssignOptions marks an attempt as a reassignment.
type AssignOptions struct {
	Reassignment   bool
	ReassignReason domain.ReassignmentReason
}

// Distributor selects an agent for a ticket under its queue's routing configuration.
type Distributor struct {
	cache     *ConfigCache
	directory *AgentDirectory
	cursors   repository.CursorStore
	recorder  *Recorder
	clock     Clock
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// DistributorDependencies bundles collaborators.
type DistributorDependencies struct {
	Cache     *ConfigCache
	Directory *AgentDirectory
	Cursors   repository.CursorStore
	Recorder  *Recorder
	Clock     Clock
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// NewDistributor constructs the distributor.
func NewDistributor(deps DistributorDependencies) *Distributor {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distributor{
		cache:     deps.Cache,
		directory: deps.Directory,
		cursors:   deps.Cursors,
		recorder:  deps.Recorder,
		clock:     clockOrSystem(deps.Clock),
		logger:    logger,
		metrics:   deps.Metrics,
	}
}

// Assign runs the routing algorithm for the ticket's queue, following overflow targets
// at most as many hops as the tenant has queues.
func (d *Distributor) Assign(ctx context.Context, ticket domain.Ticket, opts AssignOptions) (Decision, error) {
	started := time.Now()
	maxDepth, err := d.cache.QueueCount(ctx, ticket.TenantID)
	if err != nil {
		return Decision{}, apperrors.MapError(err)
	}

	decision, err := d.assignIn(ctx, ticket, ticket.QueueID, opts, 0, maxDepth)
	if err != nil {
		return Decision{}, err
	}

	outcome := "queued"
	if decision.Assigned {
		outcome = "assigned"
	}
	d.metrics.RecordDecision(outcome, string(decision.Algorithm), decision.Reason, time.Since(started))
	return decision, nil
}

func (d *Distributor) assignIn(ctx context.Context, ticket domain.Ticket, queueID string, opts AssignOptions, depth, maxDepth int) (Decision, error) {
	queue, members, err := d.cache.Queue(ctx, ticket.TenantID, queueID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if depth == 0 {
				return Decision{}, apperrors.NewNotFound("queue", map[string]any{"queue_id": queueID})
			}
			d.logger.Warn("overflow target missing",
				zap.String("tenant_id", ticket.TenantID),
				zap.String("queue_id", queueID))
			return Decision{QueueID: queueID, Reason: ReasonNoCapacity}, nil
		}
		return Decision{}, apperrors.MapError(err)
	}
	cfg := queue.Config()

	var decision Decision
	switch {
	case !cfg.Active:
		decision = queued(cfg, ReasonQueueInactive)
	case !cfg.AutoDistribution:
		// Manual queues only take tickets through an explicit reassignment.
		return queued(cfg, ReasonManualDistribution), nil
	default:
		decision, err = d.tryQueue(ctx, ticket, queue, members, opts, depth)
		if err != nil {
			return Decision{}, err
		}
	}
	if decision.Assigned {
		return decision, nil
	}

	if cfg.CanOverflow() && depth+1 < maxDepth {
		next, err := d.assignIn(ctx, ticket, cfg.OverflowQueueID, opts, depth+1, maxDepth)
		if err != nil {
			return Decision{}, err
		}
		if next.Assigned {
			d.metrics.RecordOverflow("assigned")
			return next, nil
		}
		d.metrics.RecordOverflow("exhausted")
	}
	decision.Hops = depth
	return decision, nil
}

func queued(cfg domain.QueueConfig, reason string) Decision {
	return Decision{QueueID: cfg.QueueID, Algorithm: cfg.Algorithm, Reason: reason}
}

func (d *Distributor) tryQueue(ctx context.Context, ticket domain.Ticket, queue domain.Queue, members []domain.QueueMember, opts AssignOptions, depth int) (Decision, error) {
	cfg := queue.Config()
	order := memberOrder(members)

	cursor, err := d.cursors.Get(ctx, ticket.TenantID, queue.ID)
	if err != nil {
		d.logger.Warn("read rotation cursor", zap.String("queue_id", queue.ID), zap.Error(err))
		cursor = ""
	}

	raced := false
	for attempt := 0; attempt < 2; attempt++ {
		candidates, err := d.directory.Candidates(ctx, ticket.TenantID, queue, members)
		if err != nil {
			return Decision{}, apperrors.MapError(err)
		}
		eligible, reason := FilterCandidates(cfg, ticket.RequiredSkill, candidates)
		if len(eligible) == 0 {
			decision := queued(cfg, reason)
			decision.Raced = raced
			return decision, nil
		}

		pick := RankCandidates(cfg.Algorithm, eligible, order, cursor)[0]
		load, ok, err := d.directory.TryAcquire(ctx, ticket.TenantID, pick.Agent.ID, pick.Capacity)
		if err != nil {
			return Decision{}, apperrors.MapError(err)
		}
		if ok {
			return d.commit(ticket, cfg, pick, load, opts, depth), nil
		}

		raced = true
		d.metrics.RecordCapacityRace()
		d.logger.Debug("capacity race lost",
			zap.String("tenant_id", ticket.TenantID),
			zap.String("ticket_id", ticket.ID),
			zap.String("agent_id", pick.Agent.ID),
			zap.Int("attempt", attempt+1))
	}

	d.logger.Info("assignment degraded to queue after capacity races",
		zap.String("tenant_id", ticket.TenantID),
		zap.String("ticket_id", ticket.ID),
		zap.Error(ErrCapacityRace))
	decision := queued(cfg, ReasonNoCapacity)
	decision.Raced = true
	return decision, nil
}

func (d *Distributor) commit(ticket domain.Ticket, cfg domain.QueueConfig, pick Candidate, load int, opts AssignOptions, depth int) Decision {
	reason := assignmentReason(cfg, pick, ticket.RequiredSkill)
	if depth > 0 {
		reason = fmt.Sprintf("overflow from queue %s: %s", ticket.QueueID, reason)
	}
	entry := d.logEntry(ticket, cfg.QueueID, pick.Agent.ID, cfg.Algorithm, reason, load-1, opts)

	return Decision{
		Assigned:  true,
		AgentID:   pick.Agent.ID,
		QueueID:   cfg.QueueID,
		Algorithm: cfg.Algorithm,
		Reason:    reason,
		Load:      load,
		Hops:      depth,
		entry:     &entry,
		rotates:   true,
	}
}

// Confirm finishes an assignment whose ticket row was stored: the queue's rotation cursor
// moves to the agent and the audit entry is appended. A decision that lost the ticket
// update must be abandoned instead, after its slot is released.
func (d *Distributor) Confirm(ctx context.Context, tenantID string, decision Decision) {
	if !decision.Assigned {
		return
	}
	if decision.rotates {
		if err := d.cursors.Set(ctx, tenantID, decision.QueueID, decision.AgentID); err != nil {
			d.logger.Warn("advance rotation cursor", zap.String("queue_id", decision.QueueID), zap.Error(err))
		}
	}
	if decision.entry != nil {
		d.recorder.AppendLog(ctx, *decision.entry)
	}
}

func (d *Distributor) logEntry(ticket domain.Ticket, queueID, agentID string, algorithm domain.RoutingAlgorithm, reason string, loadBefore int, opts AssignOptions) domain.DistributionLogEntry {
	entry := domain.DistributionLogEntry{
		ID:                    uuid.NewString(),
		TenantID:              ticket.TenantID,
		TicketID:              ticket.ID,
		AgentID:               agentID,
		QueueID:               queueID,
		Algorithm:             algorithm,
		Reason:                reason,
		AgentLoadAtAssignment: loadBefore,
		IsReassignment:        opts.Reassignment || ticket.AssignCount > 0,
		CreatedAt:             d.clock.Now(),
	}
	if opts.ReassignReason != "" {
		r := string(opts.ReassignReason)
		entry.ReassignmentReason = &r
		entry.IsReassignment = true
	}
	return entry
}

// ReassignTo moves a ticket to a specific agent of its queue. The new slot is acquired
// here; the caller releases the previous one once the ticket row is updated and then
// confirms the decision.
func (d *Distributor) ReassignTo(ctx context.Context, ticket domain.Ticket, agentID string) (Decision, error) {
	queue, members, err := d.cache.Queue(ctx, ticket.TenantID, ticket.QueueID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Decision{}, apperrors.NewNotFound("queue", map[string]any{"queue_id": ticket.QueueID})
		}
		return Decision{}, apperrors.MapError(err)
	}
	if ticket.AssignedAgentID != nil && *ticket.AssignedAgentID == agentID && ticket.HoldsSlot() {
		return Decision{}, apperrors.NewConflict("ticket already assigned to agent", map[string]any{"agent_id": agentID})
	}

	candidates, err := d.directory.Candidates(ctx, ticket.TenantID, queue, members)
	if err != nil {
		return Decision{}, apperrors.MapError(err)
	}
	var target *Candidate
	for i := range candidates {
		if candidates[i].Agent.ID == agentID {
			target = &candidates[i]
			break
		}
	}
	if target == nil {
		return Decision{}, apperrors.NewValidationError("agent is not an active member of the ticket queue",
			map[string]any{"agent_id": agentID, "queue_id": ticket.QueueID})
	}
	if !target.Agent.Status.AcceptsWork() {
		return Decision{}, apperrors.NewConflict("agent is not accepting work",
			map[string]any{"agent_id": agentID, "status": target.Agent.Status})
	}

	load, ok, err := d.directory.TryAcquire(ctx, ticket.TenantID, agentID, target.Capacity)
	if err != nil {
		return Decision{}, apperrors.MapError(err)
	}
	if !ok {
		d.metrics.RecordCapacityRace()
		return Decision{}, apperrors.NewConflict("agent at capacity",
			map[string]any{"agent_id": agentID, "capacity": target.Capacity})
	}

	opts := AssignOptions{Reassignment: true, ReassignReason: domain.ReassignManual}
	entry := d.logEntry(ticket, queue.ID, agentID, domain.AlgorithmManual, "manual reassignment", load-1, opts)
	d.metrics.RecordDecision("assigned", string(domain.AlgorithmManual), "manual", 0)
	return Decision{
		Assigned:  true,
		AgentID:   agentID,
		QueueID:   queue.ID,
		Algorithm: domain.AlgorithmManual,
		Reason:    "manual reassignment",
		Load:      load,
		entry:     &entry,
	}, nil
}

// FilterCandidates applies status, skill, capacity and online preference filters in that
// order. When nothing survives it returns the reason of the stage that emptied the set, so
// skilled agents who are all full report no_capacity rather than no_skill_match.
func FilterCandidates(cfg domain.QueueConfig, req *domain.SkillRequirement, candidates []Candidate) ([]Candidate, string) {
	if len(candidates) == 0 {
		return nil, ReasonNoCapacity
	}

	online := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Agent.Status.AcceptsWork() {
			online = append(online, c)
		}
	}
	if len(online) == 0 {
		return nil, ReasonAllOffline
	}

	skilled := online
	if cfg.ConsiderSkills && req != nil && req.Skill != "" {
		skilled = make([]Candidate, 0, len(online))
		for _, c := range online {
			if c.HasSkill(*req) {
				skilled = append(skilled, c)
			}
		}
		if len(skilled) == 0 {
			return nil, ReasonNoSkillMatch
		}
	}

	eligible := make([]Candidate, 0, len(skilled))
	for _, c := range skilled {
		if c.Agent.ActiveTicketCount < c.Capacity {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, ReasonNoCapacity
	}

	if cfg.PrioritizeOnline {
		available := make([]Candidate, 0, len(eligible))
		for _, c := range eligible {
			if c.Agent.Status == domain.AgentStatusAvailable {
				available = append(available, c)
			}
		}
		if len(available) > 0 {
			eligible = available
		}
	}
	return eligible, ""
}

// RankCandidates orders eligible candidates best-first. It is a pure function of the
// algorithm, the candidates, the stable member order and the rotation cursor.
func RankCandidates(algorithm domain.RoutingAlgorithm, candidates []Candidate, order []string, cursor string) []Candidate {
	ranked := append([]Candidate(nil), candidates...)
	rr := rotationDistance(order, cursor)

	byRotation := func(a, b Candidate) bool {
		da, db := rr(a.Agent.ID), rr(b.Agent.ID)
		if da != db {
			return da < db
		}
		return a.Agent.ID < b.Agent.ID
	}
	// a.load/a.cap vs b.load/b.cap without floating point; capacities are positive here.
	ratioCmp := func(a, b Candidate) int {
		l := a.Agent.ActiveTicketCount * b.Capacity
		r := b.Agent.ActiveTicketCount * a.Capacity
		switch {
		case l < r:
			return -1
		case l > r:
			return 1
		}
		return 0
	}

	var less func(a, b Candidate) bool
	switch algorithm {
	case domain.AlgorithmLeastLoad:
		less = func(a, b Candidate) bool {
			if c := ratioCmp(a, b); c != 0 {
				return c < 0
			}
			return byRotation(a, b)
		}
	case domain.AlgorithmPriority:
		less = func(a, b Candidate) bool {
			if a.Member.Priority != b.Member.Priority {
				return a.Member.Priority < b.Member.Priority
			}
			if c := ratioCmp(a, b); c != 0 {
				return c < 0
			}
			return byRotation(a, b)
		}
	default:
		less = byRotation
	}

	sort.SliceStable(ranked, func(i, j int) bool { return less(ranked[i], ranked[j]) })
	return ranked
}

// rotationDistance returns how many steps after the cursor an agent sits in the member
// order, wrapping around. The cursor itself is the farthest position.
func rotationDistance(order []string, cursor string) func(string) int {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	n := len(order)
	cur, hasCursor := pos[cursor]
	return func(agentID string) int {
		p, ok := pos[agentID]
		if !ok {
			return n
		}
		if !hasCursor {
			return p
		}
		return (p - cur - 1 + n) % n
	}
}

func memberOrder(members []domain.QueueMember) []string {
	order := make([]string, 0, len(members))
	for _, m := range members {
		if m.Active {
			order = append(order, m.AgentID)
		}
	}
	return order
}

func assignmentReason(cfg domain.QueueConfig, pick Candidate, req *domain.SkillRequirement) string {
	var reason string
	switch cfg.Algorithm {
	case domain.AlgorithmLeastLoad:
		reason = fmt.Sprintf("least loaded agent (%d/%d)", pick.Agent.ActiveTicketCount, pick.Capacity)
	case domain.AlgorithmPriority:
		reason = fmt.Sprintf("priority rank %d", pick.Member.Priority)
	default:
		reason = "round robin rotation"
	}
	if cfg.ConsiderSkills && req != nil && req.Skill != "" {
		reason += fmt.Sprintf(", skill %s>=%d", req.Skill, req.MinLevel)
	}
	return reason
}
