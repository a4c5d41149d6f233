package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/repository"
	apperrors "github.com/routedesk/routing-engine/pkg/util/errorutil"
)

// Candidate is a queue member considered for an assignment.
type Candidate struct {
	Member   domain.QueueMember
	Agent    domain.Agent
	Skills   []domain.AgentSkill
	Capacity int
}

// HasSkill reports whether the candidate satisfies the requirement.
func (c Candidate) HasSkill(req domain.SkillRequirement) bool {
	for _, s := range c.Skills {
		if s.Satisfies(req) {
			return true
		}
	}
	return false
}

// AgentDirectory tracks agent status, capacity, load and skills. It is the only
// component that changes load counters.
type AgentDirectory struct {
	agents repository.AgentRepository
	cache  *ConfigCache
	logger *zap.Logger
}

// AgentDirectoryDependencies bundles repositories.
type AgentDirectoryDependencies struct {
	AgentRepo repository.AgentRepository
	Cache     *ConfigCache
	Logger    *zap.Logger
}

// NewAgentDirectory constructs the directory.
func NewAgentDirectory(deps AgentDirectoryDependencies) *AgentDirectory {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentDirectory{agents: deps.AgentRepo, cache: deps.Cache, logger: logger}
}

// Candidates joins active memberships with fresh agent rows and cached skills, in member order.
func (d *AgentDirectory) Candidates(ctx context.Context, tenantID string, queue domain.Queue, members []domain.QueueMember) ([]Candidate, error) {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.Active {
			ids = append(ids, m.AgentID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	agents, err := d.agents.ListByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	var skills map[string][]domain.AgentSkill
	if queue.ConsiderSkills {
		skills, err = d.cache.Skills(ctx, tenantID, ids)
		if err != nil {
			return nil, err
		}
	}

	candidates := make([]Candidate, 0, len(ids))
	for _, m := range members {
		if !m.Active {
			continue
		}
		agent, ok := byID[m.AgentID]
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			Member:   m,
			Agent:    agent,
			Skills:   skills[m.AgentID],
			Capacity: domain.EffectiveCapacity(m, agent, queue.DefaultCapacityPerAgent),
		})
	}
	return candidates, nil
}

// Get loads one agent.
func (d *AgentDirectory) Get(ctx context.Context, tenantID, agentID string) (*domain.Agent, error) {
	agent, err := d.agents.GetByID(ctx, tenantID, agentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("agent", map[string]any{"agent_id": agentID})
		}
		return nil, apperrors.MapError(err)
	}
	return agent, nil
}

// TryAcquire commits one slot for the agent if its load stays within capacity.
func (d *AgentDirectory) TryAcquire(ctx context.Context, tenantID, agentID string, capacity int) (int, bool, error) {
	return d.agents.TryIncrementLoad(ctx, tenantID, agentID, capacity)
}

// Release frees one slot. Failures are logged; the sweep reports any resulting drift.
func (d *AgentDirectory) Release(ctx context.Context, tenantID, agentID string) {
	load, err := d.agents.DecrementLoad(ctx, tenantID, agentID)
	if err != nil {
		d.logger.Error("release agent slot",
			zap.String("tenant_id", tenantID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		return
	}
	d.logger.Debug("agent slot released",
		zap.String("tenant_id", tenantID),
		zap.String("agent_id", agentID),
		zap.Int("load", load))
}

// SetStatus records a presence change and returns the previous status.
func (d *AgentDirectory) SetStatus(ctx context.Context, tenantID, agentID string, status domain.AgentStatus) (domain.AgentStatus, error) {
	if !status.Valid() {
		return "", apperrors.NewValidationError("invalid agent status", map[string]any{"status": status})
	}
	agent, err := d.Get(ctx, tenantID, agentID)
	if err != nil {
		return "", err
	}
	if err := d.agents.UpdateStatus(ctx, tenantID, agentID, status); err != nil {
		return "", apperrors.MapError(err)
	}
	return agent.Status, nil
}
