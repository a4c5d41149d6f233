package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/calendar"
	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/repository"
	apperrors "github.com/routedesk/routing-engine/pkg/util/errorutil"
)

// ConfigService validates and stores routing and SLA configuration. Every write
// invalidates the affected cache entries.
type ConfigService struct {
	queues   repository.QueueRepository
	agents   repository.AgentRepository
	policies repository.SlaPolicyRepository
	statuses repository.StatusRepository
	cache    *ConfigCache
	logger   *zap.Logger
}

// ConfigDependencies bundles repositories.
type ConfigDependencies struct {
	QueueRepo  repository.QueueRepository
	AgentRepo  repository.AgentRepository
	PolicyRepo repository.SlaPolicyRepository
	StatusRepo repository.StatusRepository
	Cache      *ConfigCache
	Logger     *zap.Logger
}

// QueueInput describes a queue write.
type QueueInput struct {
	Name                    string
	Algorithm               domain.RoutingAlgorithm
	Active                  *bool
	DefaultCapacityPerAgent int
	AutoDistribution        *bool
	ConsiderSkills          bool
	PrioritizeOnline        bool
	TimeoutMinutes          int
	AllowOverflow           bool
	OverflowQueueID         *string
}

// MemberInput describes a queue membership write.
type MemberInput struct {
	CapacityOverride *int
	Priority         int
	Active           *bool
}

// AgentInput describes an agent registration.
type AgentInput struct {
	ID          string
	Name        string
	MaxCapacity int
	Status      domain.AgentStatus
}

// SkillInput describes one agent skill.
type SkillInput struct {
	Skill  string
	Level  int
	Active *bool
}

// PolicyInput describes an SLA policy write.
type PolicyInput struct {
	Name                  string
	Priority              domain.TicketPriority
	Channel               *string
	ResponseTimeMinutes   int
	ResolutionTimeMinutes int
	BusinessHours         *calendar.Schedule
	AlertThresholdPercent int
	NotifyEmail           bool
	NotifySystem          bool
	Active                *bool
}

// NewConfigService constructs the service.
func NewConfigService(deps ConfigDependencies) *ConfigService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigService{
		queues:   deps.QueueRepo,
		agents:   deps.AgentRepo,
		policies: deps.PolicyRepo,
		statuses: deps.StatusRepo,
		cache:    deps.Cache,
		logger:   logger,
	}
}

// CreateQueue validates and stores a new queue.
func (s *ConfigService) CreateQueue(ctx context.Context, tenantID string, input QueueInput) (*domain.Queue, error) {
	queue := &domain.Queue{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		Active:           true,
		AutoDistribution: true,
	}
	applyQueueInput(queue, input)
	if err := s.validateQueue(ctx, queue); err != nil {
		return nil, err
	}
	if err := s.queues.Create(ctx, queue); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.cache.InvalidateQueues(tenantID)
	s.logger.Info("queue created", zap.String("tenant_id", tenantID), zap.String("queue_id", queue.ID))
	return queue, nil
}

// UpdateQueue replaces a queue's routing configuration.
func (s *ConfigService) UpdateQueue(ctx context.Context, tenantID, queueID string, input QueueInput) (*domain.Queue, error) {
	queue, err := s.GetQueue(ctx, tenantID, queueID)
	if err != nil {
		return nil, err
	}
	applyQueueInput(queue, input)
	if err := s.validateQueue(ctx, queue); err != nil {
		return nil, err
	}
	if err := s.queues.Update(ctx, queue); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.cache.InvalidateQueues(tenantID)
	return queue, nil
}

func applyQueueInput(queue *domain.Queue, input QueueInput) {
	queue.Name = strings.TrimSpace(input.Name)
	queue.Algorithm = input.Algorithm
	if queue.Algorithm == "" {
		queue.Algorithm = domain.AlgorithmRoundRobin
	}
	if input.Active != nil {
		queue.Active = *input.Active
	}
	if input.AutoDistribution != nil {
		queue.AutoDistribution = *input.AutoDistribution
	}
	queue.DefaultCapacityPerAgent = input.DefaultCapacityPerAgent
	queue.ConsiderSkills = input.ConsiderSkills
	queue.PrioritizeOnline = input.PrioritizeOnline
	queue.TimeoutMinutes = input.TimeoutMinutes
	queue.AllowOverflow = input.AllowOverflow
	queue.OverflowQueueID = nil
	if input.OverflowQueueID != nil {
		if id := strings.TrimSpace(*input.OverflowQueueID); id != "" {
			queue.OverflowQueueID = &id
		}
	}
}

func (s *ConfigService) validateQueue(ctx context.Context, queue *domain.Queue) error {
	if queue.Name == "" {
		return apperrors.NewValidationError("name is required", nil)
	}
	if !queue.Algorithm.Valid() {
		return apperrors.NewValidationError("invalid algorithm", map[string]any{"algorithm": queue.Algorithm})
	}
	if queue.DefaultCapacityPerAgent < 0 || queue.TimeoutMinutes < 0 {
		return apperrors.NewValidationError("capacity and timeout must not be negative", nil)
	}
	if queue.AllowOverflow && queue.OverflowQueueID == nil {
		return apperrors.NewConfigurationError("overflow enabled without an overflow queue", nil)
	}
	if queue.OverflowQueueID == nil {
		return nil
	}
	if *queue.OverflowQueueID == queue.ID {
		return apperrors.NewConfigurationError("a queue cannot overflow into itself", map[string]any{"queue_id": queue.ID})
	}

	all, err := s.queues.List(ctx, queue.TenantID)
	if err != nil {
		return apperrors.MapError(err)
	}
	next := make(map[string]string, len(all)+1)
	for _, q := range all {
		if q.OverflowQueueID != nil {
			next[q.ID] = *q.OverflowQueueID
		}
	}
	if _, ok := findQueue(all, *queue.OverflowQueueID); !ok {
		return apperrors.NewConfigurationError("overflow queue not found", map[string]any{"overflow_queue_id": *queue.OverflowQueueID})
	}
	next[queue.ID] = *queue.OverflowQueueID
	if chain, cyclic := overflowCycle(next, queue.ID); cyclic {
		return apperrors.NewConfigurationError("overflow chain forms a cycle", map[string]any{"chain": chain})
	}
	return nil
}

func findQueue(queues []domain.Queue, id string) (domain.Queue, bool) {
	for _, q := range queues {
		if q.ID == id {
			return q, true
		}
	}
	return domain.Queue{}, false
}

// overflowCycle follows overflow links from start and reports the chain walked when it
// returns to a queue already visited.
func overflowCycle(next map[string]string, start string) ([]string, bool) {
	seen := map[string]bool{start: true}
	chain := []string{start}
	for cur := start; ; {
		n, ok := next[cur]
		if !ok || n == "" {
			return chain, false
		}
		chain = append(chain, n)
		if seen[n] {
			return chain, true
		}
		seen[n] = true
		cur = n
	}
}

// GetQueue loads a queue.
func (s *ConfigService) GetQueue(ctx context.Context, tenantID, queueID string) (*domain.Queue, error) {
	queue, err := s.queues.GetByID(ctx, tenantID, queueID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("queue", map[string]any{"queue_id": queueID})
		}
		return nil, apperrors.MapError(err)
	}
	return queue, nil
}

// ListQueues lists the tenant's queues.
func (s *ConfigService) ListQueues(ctx context.Context, tenantID string) ([]domain.Queue, error) {
	queues, err := s.queues.List(ctx, tenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return queues, nil
}

// ListMembers lists a queue's memberships in rotation order.
func (s *ConfigService) ListMembers(ctx context.Context, tenantID, queueID string) ([]domain.QueueMember, error) {
	if _, err := s.GetQueue(ctx, tenantID, queueID); err != nil {
		return nil, err
	}
	members, err := s.queues.ListMembers(ctx, tenantID, queueID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return members, nil
}

// UpsertMember adds an agent to a queue or updates its membership.
func (s *ConfigService) UpsertMember(ctx context.Context, tenantID, queueID, agentID string, input MemberInput) (*domain.QueueMember, error) {
	if _, err := s.GetQueue(ctx, tenantID, queueID); err != nil {
		return nil, err
	}
	if _, err := s.GetAgent(ctx, tenantID, agentID); err != nil {
		return nil, err
	}
	if input.CapacityOverride != nil && *input.CapacityOverride < 0 {
		return nil, apperrors.NewValidationError("capacity_override must not be negative", nil)
	}
	member := &domain.QueueMember{
		TenantID:         tenantID,
		QueueID:          queueID,
		AgentID:          agentID,
		CapacityOverride: input.CapacityOverride,
		Priority:         input.Priority,
		Active:           true,
	}
	if input.Active != nil {
		member.Active = *input.Active
	}
	if err := s.queues.UpsertMember(ctx, member); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.cache.InvalidateQueues(tenantID)
	return member, nil
}

// RemoveMember deletes a membership.
func (s *ConfigService) RemoveMember(ctx context.Context, tenantID, queueID, agentID string) error {
	if err := s.queues.RemoveMember(ctx, tenantID, queueID, agentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("queue member", map[string]any{"queue_id": queueID, "agent_id": agentID})
		}
		return apperrors.MapError(err)
	}
	s.cache.InvalidateQueues(tenantID)
	return nil
}

// CreateAgent registers an agent.
func (s *ConfigService) CreateAgent(ctx context.Context, tenantID string, input AgentInput) (*domain.Agent, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewValidationError("name is required", nil)
	}
	if input.MaxCapacity < 0 {
		return nil, apperrors.NewValidationError("max_capacity must not be negative", nil)
	}
	status := input.Status
	if status == "" {
		status = domain.AgentStatusOffline
	}
	if !status.Valid() {
		return nil, apperrors.NewValidationError("invalid agent status", map[string]any{"status": status})
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}
	agent := &domain.Agent{
		ID:          id,
		TenantID:    tenantID,
		Name:        name,
		Status:      status,
		MaxCapacity: input.MaxCapacity,
	}
	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, apperrors.MapError(err)
	}
	return agent, nil
}

// GetAgent loads an agent.
func (s *ConfigService) GetAgent(ctx context.Context, tenantID, agentID string) (*domain.Agent, error) {
	agent, err := s.agents.GetByID(ctx, tenantID, agentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("agent", map[string]any{"agent_id": agentID})
		}
		return nil, apperrors.MapError(err)
	}
	return agent, nil
}

// ListAgents lists the tenant's agents.
func (s *ConfigService) ListAgents(ctx context.Context, tenantID string) ([]domain.Agent, error) {
	agents, err := s.agents.List(ctx, tenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return agents, nil
}

// UpdateAgentCapacity changes an agent's default capacity.
func (s *ConfigService) UpdateAgentCapacity(ctx context.Context, tenantID, agentID string, maxCapacity int) (*domain.Agent, error) {
	if maxCapacity < 0 {
		return nil, apperrors.NewValidationError("max_capacity must not be negative", nil)
	}
	if err := s.agents.UpdateCapacity(ctx, tenantID, agentID, maxCapacity); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("agent", map[string]any{"agent_id": agentID})
		}
		return nil, apperrors.MapError(err)
	}
	return s.GetAgent(ctx, tenantID, agentID)
}

// ReplaceSkills replaces the skill set of an agent.
func (s *ConfigService) ReplaceSkills(ctx context.Context, tenantID, agentID string, input []SkillInput) ([]domain.AgentSkill, error) {
	if _, err := s.GetAgent(ctx, tenantID, agentID); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	skills := make([]domain.AgentSkill, 0, len(input))
	for _, in := range input {
		name := strings.TrimSpace(in.Skill)
		if name == "" {
			return nil, apperrors.NewValidationError("skill name is required", nil)
		}
		if in.Level < 0 {
			return nil, apperrors.NewValidationError("skill level must not be negative", map[string]any{"skill": name})
		}
		if seen[name] {
			return nil, apperrors.NewValidationError("duplicate skill", map[string]any{"skill": name})
		}
		seen[name] = true
		active := true
		if in.Active != nil {
			active = *in.Active
		}
		skills = append(skills, domain.AgentSkill{TenantID: tenantID, AgentID: agentID, Skill: name, Level: in.Level, Active: active})
	}
	if err := s.agents.ReplaceSkills(ctx, tenantID, agentID, skills); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.cache.InvalidateSkills(tenantID, agentID)
	return skills, nil
}

// CreatePolicy validates and stores an SLA policy.
func (s *ConfigService) CreatePolicy(ctx context.Context, tenantID string, input PolicyInput) (*domain.SlaPolicy, error) {
	policy := &domain.SlaPolicy{ID: uuid.NewString(), TenantID: tenantID, Active: true}
	if err := applyPolicyInput(policy, input); err != nil {
		return nil, err
	}
	if err := s.policies.Create(ctx, policy); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.cache.InvalidatePolicies(tenantID)
	return policy, nil
}

// UpdatePolicy replaces an SLA policy.
func (s *ConfigService) UpdatePolicy(ctx context.Context, tenantID, policyID string, input PolicyInput) (*domain.SlaPolicy, error) {
	policy, err := s.policies.GetByID(ctx, tenantID, policyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("sla policy", map[string]any{"policy_id": policyID})
		}
		return nil, apperrors.MapError(err)
	}
	if err := applyPolicyInput(policy, input); err != nil {
		return nil, err
	}
	if err := s.policies.Update(ctx, policy); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.cache.InvalidatePolicies(tenantID)
	return policy, nil
}

// ListPolicies lists the tenant's SLA policies.
func (s *ConfigService) ListPolicies(ctx context.Context, tenantID string) ([]domain.SlaPolicy, error) {
	policies, err := s.policies.List(ctx, tenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return policies, nil
}

func applyPolicyInput(policy *domain.SlaPolicy, input PolicyInput) error {
	if !input.Priority.Valid() {
		return apperrors.NewValidationError("invalid priority", map[string]any{"priority": input.Priority})
	}
	if input.ResponseTimeMinutes <= 0 || input.ResolutionTimeMinutes <= 0 {
		return apperrors.NewValidationError("response and resolution times must be positive", nil)
	}
	if input.AlertThresholdPercent < 0 || input.AlertThresholdPercent >= 100 {
		return apperrors.NewValidationError("alert_threshold_percent must be between 0 and 99", nil)
	}
	if input.BusinessHours != nil {
		if _, err := calendar.New(*input.BusinessHours); err != nil {
			return apperrors.NewConfigurationError("invalid business hours", map[string]any{"error": err.Error()})
		}
	}
	policy.Name = strings.TrimSpace(input.Name)
	policy.Priority = input.Priority
	policy.Channel = nil
	if input.Channel != nil {
		if ch := strings.TrimSpace(*input.Channel); ch != "" {
			policy.Channel = &ch
		}
	}
	policy.ResponseTimeMinutes = input.ResponseTimeMinutes
	policy.ResolutionTimeMinutes = input.ResolutionTimeMinutes
	policy.BusinessHours = input.BusinessHours
	policy.AlertThresholdPercent = input.AlertThresholdPercent
	policy.NotifyEmail = input.NotifyEmail
	policy.NotifySystem = input.NotifySystem
	if input.Active != nil {
		policy.Active = *input.Active
	}
	return nil
}

// UpsertStatuses registers tenant status labels. Built-in labels keep their class.
func (s *ConfigService) UpsertStatuses(ctx context.Context, tenantID string, defs []domain.StatusDefinition) ([]domain.StatusDefinition, error) {
	builtin := domain.DefaultStatusSet()
	for i := range defs {
		defs[i].TenantID = tenantID
		defs[i].Name = strings.ToUpper(strings.TrimSpace(defs[i].Name))
		if defs[i].Name == "" {
			return nil, apperrors.NewValidationError("status name is required", nil)
		}
		if !defs[i].Class.Valid() {
			return nil, apperrors.NewValidationError("invalid status class", map[string]any{"class": defs[i].Class})
		}
		if class, ok := builtin.Classify(defs[i].Name); ok && class != defs[i].Class {
			return nil, apperrors.NewConfigurationError("built-in status cannot change class", map[string]any{"status": defs[i].Name})
		}
	}
	for _, def := range defs {
		if err := s.statuses.Upsert(ctx, def); err != nil {
			return nil, apperrors.MapError(err)
		}
	}
	s.cache.InvalidateStatuses(tenantID)
	return s.ListStatuses(ctx, tenantID)
}

// ListStatuses lists the tenant's custom status labels.
func (s *ConfigService) ListStatuses(ctx context.Context, tenantID string) ([]domain.StatusDefinition, error) {
	defs, err := s.statuses.List(ctx, tenantID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return defs, nil
}
