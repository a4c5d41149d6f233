package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/observability"
	"github.com/routedesk/routing-engine/internal/repository"
)

// queueBundle is a queue's routing configuration together with its stable member order.
type queueBundle struct {
	Queue   domain.Queue
	Members []domain.QueueMember
}

// policyLookup caches a resolution result; Policy is nil when no policy matched.
type policyLookup struct {
	Policy *domain.SlaPolicy
}

// ConfigCache holds TTL caches for routing configuration, agent skills, SLA policies and
// status sets. Writes through the admin services invalidate the affected tenant.
type ConfigCache struct {
	queues     repository.QueueRepository
	agents     repository.AgentRepository
	policies   repository.SlaPolicyRepository
	statuses   repository.StatusRepository
	metrics    *observability.Metrics
	bundles    *expirable.LRU[string, queueBundle]
	queueCount *expirable.LRU[string, int]
	skills     *expirable.LRU[string, []domain.AgentSkill]
	policyBy   *expirable.LRU[string, policyLookup]
	statusSets *expirable.LRU[string, domain.StatusSet]
}

// ConfigCacheDependencies bundles repositories.
type ConfigCacheDependencies struct {
	QueueRepo  repository.QueueRepository
	AgentRepo  repository.AgentRepository
	PolicyRepo repository.SlaPolicyRepository
	StatusRepo repository.StatusRepository
	Metrics    *observability.Metrics
	Size       int
	ConfigTTL  time.Duration
	SkillsTTL  time.Duration
}

// NewConfigCache constructs the caches.
func NewConfigCache(deps ConfigCacheDependencies) *ConfigCache {
	size := deps.Size
	if size <= 0 {
		size = 1024
	}
	configTTL := deps.ConfigTTL
	if configTTL <= 0 {
		configTTL = 5 * time.Minute
	}
	skillsTTL := deps.SkillsTTL
	if skillsTTL <= 0 {
		skillsTTL = 10 * time.Minute
	}
	return &ConfigCache{
		queues:     deps.QueueRepo,
		agents:     deps.AgentRepo,
		policies:   deps.PolicyRepo,
		statuses:   deps.StatusRepo,
		metrics:    deps.Metrics,
		bundles:    expirable.NewLRU[string, queueBundle](size, nil, configTTL),
		queueCount: expirable.NewLRU[string, int](size, nil, configTTL),
		skills:     expirable.NewLRU[string, []domain.AgentSkill](size*4, nil, skillsTTL),
		policyBy:   expirable.NewLRU[string, policyLookup](size, nil, configTTL),
		statusSets: expirable.NewLRU[string, domain.StatusSet](size, nil, configTTL),
	}
}

func cacheKey(parts ...string) string {
	return strings.Join(parts, "|")
}

// Queue returns the queue and its members ordered by (created_at, agent_id).
func (c *ConfigCache) Queue(ctx context.Context, tenantID, queueID string) (domain.Queue, []domain.QueueMember, error) {
	key := cacheKey(tenantID, queueID)
	if b, ok := c.bundles.Get(key); ok {
		c.metrics.RecordCacheLookup("queue", true)
		return b.Queue, b.Members, nil
	}
	c.metrics.RecordCacheLookup("queue", false)

	queue, err := c.queues.GetByID(ctx, tenantID, queueID)
	if err != nil {
		return domain.Queue{}, nil, err
	}
	members, err := c.queues.ListMembers(ctx, tenantID, queueID)
	if err != nil {
		return domain.Queue{}, nil, err
	}
	c.bundles.Add(key, queueBundle{Queue: *queue, Members: members})
	return *queue, members, nil
}

// QueueCount returns the number of queues in the tenant, the overflow recursion bound.
func (c *ConfigCache) QueueCount(ctx context.Context, tenantID string) (int, error) {
	if n, ok := c.queueCount.Get(tenantID); ok {
		return n, nil
	}
	n, err := c.queues.Count(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	c.queueCount.Add(tenantID, n)
	return n, nil
}

// Skills returns the skill rows of the given agents.
func (c *ConfigCache) Skills(ctx context.Context, tenantID string, agentIDs []string) (map[string][]domain.AgentSkill, error) {
	result := make(map[string][]domain.AgentSkill, len(agentIDs))
	var missing []string
	for _, id := range agentIDs {
		if rows, ok := c.skills.Get(cacheKey(tenantID, id)); ok {
			result[id] = rows
			continue
		}
		missing = append(missing, id)
	}
	c.metrics.RecordCacheLookup("skills", len(missing) == 0)
	if len(missing) == 0 {
		return result, nil
	}

	rows, err := c.agents.ListSkills(ctx, tenantID, missing)
	if err != nil {
		return nil, err
	}
	fetched := make(map[string][]domain.AgentSkill, len(missing))
	for _, row := range rows {
		fetched[row.AgentID] = append(fetched[row.AgentID], row)
	}
	for _, id := range missing {
		c.skills.Add(cacheKey(tenantID, id), fetched[id])
		result[id] = fetched[id]
	}
	return result, nil
}

// Policy resolves the SLA policy for (priority, channel): an exact channel match first,
// then the wildcard row. A nil policy means none applies.
func (c *ConfigCache) Policy(ctx context.Context, tenantID string, priority domain.TicketPriority, channel string) (*domain.SlaPolicy, error) {
	channel = strings.TrimSpace(channel)
	key := cacheKey(tenantID, "policy", string(priority), channel)
	if hit, ok := c.policyBy.Get(key); ok {
		c.metrics.RecordCacheLookup("policy", true)
		return hit.Policy, nil
	}
	c.metrics.RecordCacheLookup("policy", false)

	var policy *domain.SlaPolicy
	if channel != "" {
		p, err := c.policies.FindActive(ctx, tenantID, priority, &channel)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		policy = p
	}
	if policy == nil {
		p, err := c.policies.FindActive(ctx, tenantID, priority, nil)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		policy = p
	}
	c.policyBy.Add(key, policyLookup{Policy: policy})
	return policy, nil
}

// PolicyByID loads a policy, cached under the same TTL as lookups.
func (c *ConfigCache) PolicyByID(ctx context.Context, tenantID, policyID string) (*domain.SlaPolicy, error) {
	key := cacheKey(tenantID, "policy-id", policyID)
	if hit, ok := c.policyBy.Get(key); ok && hit.Policy != nil {
		return hit.Policy, nil
	}
	p, err := c.policies.GetByID(ctx, tenantID, policyID)
	if err != nil {
		return nil, err
	}
	c.policyBy.Add(key, policyLookup{Policy: p})
	return p, nil
}

// StatusSet returns the tenant's labels merged over the defaults.
func (c *ConfigCache) StatusSet(ctx context.Context, tenantID string) (domain.StatusSet, error) {
	if set, ok := c.statusSets.Get(tenantID); ok {
		return set, nil
	}
	defs, err := c.statuses.List(ctx, tenantID)
	if err != nil {
		return domain.StatusSet{}, err
	}
	set := domain.NewStatusSet(defs)
	c.statusSets.Add(tenantID, set)
	return set, nil
}

// InvalidateQueues drops every cached queue entry of the tenant.
func (c *ConfigCache) InvalidateQueues(tenantID string) {
	prefix := tenantID + "|"
	for _, key := range c.bundles.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.bundles.Remove(key)
		}
	}
	c.queueCount.Remove(tenantID)
}

// InvalidateSkills drops the cached skills of one agent.
func (c *ConfigCache) InvalidateSkills(tenantID, agentID string) {
	c.skills.Remove(cacheKey(tenantID, agentID))
}

// InvalidatePolicies drops every cached policy resolution of the tenant.
func (c *ConfigCache) InvalidatePolicies(tenantID string) {
	prefix := tenantID + "|"
	for _, key := range c.policyBy.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.policyBy.Remove(key)
		}
	}
}

// InvalidateStatuses drops the tenant's status set.
func (c *ConfigCache) InvalidateStatuses(tenantID string) {
	c.statusSets.Remove(tenantID)
}
