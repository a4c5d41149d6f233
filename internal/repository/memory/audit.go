package memory

import (
	"context"
	"errors"
	"sort"

	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/repository"
)

// ErrUnavailable is returned by appends while FailAppends is set.
var ErrUnavailable = errors.New("audit store unavailable")

// ---- distribution log ----

type logRepo struct{ s *Store }

func (r *logRepo) Append(_ context.Context, e *domain.DistributionLogEntry) error {
	if r.s.FailAppends.Load() {
		return ErrUnavailable
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.logs {
		if existing.ID == e.ID {
			return nil
		}
	}
	r.s.logs = append(r.s.logs, *e)
	return nil
}

func (r *logRepo) ListByTicket(_ context.Context, tenantID, ticketID string) ([]domain.DistributionLogEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.DistributionLogEntry
	for _, e := range r.s.logs {
		if e.TenantID == tenantID && e.TicketID == ticketID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (r *logRepo) List(_ context.Context, f repository.DistributionLogFilter) ([]domain.DistributionLogEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.DistributionLogEntry
	for i := len(r.s.logs) - 1; i >= 0; i-- {
		e := r.s.logs[i]
		if e.TenantID != f.TenantID {
			continue
		}
		if f.QueueID != nil && e.QueueID != *f.QueueID {
			continue
		}
		if f.AgentID != nil && e.AgentID != *f.AgentID {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.CreatedAt.After(*f.To) {
			continue
		}
		result = append(result, e)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(result, limit, f.Offset), nil
}

// ---- SLA policies ----

type policyRepo struct{ s *Store }

func (r *policyRepo) Create(_ context.Context, p *domain.SlaPolicy) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.policies[key{p.TenantID, p.ID}] = *p
	return nil
}

func (r *policyRepo) Update(_ context.Context, p *domain.SlaPolicy) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key{p.TenantID, p.ID}
	existing, ok := r.s.policies[k]
	if !ok {
		return repository.ErrNotFound
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = r.s.now()
	r.s.policies[k] = *p
	return nil
}

func (r *policyRepo) GetByID(_ context.Context, tenantID, id string) (*domain.SlaPolicy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.policies[key{tenantID, id}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *policyRepo) FindActive(ctx context.Context, tenantID string, priority domain.TicketPriority, channel *string) (*domain.SlaPolicy, error) {
	policies, _ := r.List(ctx, tenantID)
	for _, p := range policies {
		if !p.Active || p.Priority != priority {
			continue
		}
		if channel == nil && p.Channel == nil {
			return &p, nil
		}
		if channel != nil && p.Channel != nil && *p.Channel == *channel {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *policyRepo) List(_ context.Context, tenantID string) ([]domain.SlaPolicy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.SlaPolicy
	for k, p := range r.s.policies {
		if k.tenant == tenantID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ---- SLA events ----

type eventRepo struct{ s *Store }

func (r *eventRepo) Append(_ context.Context, e *domain.SlaEvent) (bool, error) {
	if r.s.FailAppends.Load() {
		return false, ErrUnavailable
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := eventKey{e.TenantID, e.TicketID, e.Clock, e.EventType}
	if _, dup := r.s.eventIdx[k]; dup {
		return false, nil
	}
	r.s.eventIdx[k] = struct{}{}
	r.s.events = append(r.s.events, *e)
	return true, nil
}

func (r *eventRepo) ListByTicket(_ context.Context, tenantID, ticketID string) ([]domain.SlaEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.SlaEvent
	for _, e := range r.s.events {
		if e.TenantID == tenantID && e.TicketID == ticketID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (r *eventRepo) ListByTickets(_ context.Context, tenantID string, ticketIDs []string) (map[string][]domain.SlaEvent, error) {
	wanted := make(map[string]struct{}, len(ticketIDs))
	for _, id := range ticketIDs {
		wanted[id] = struct{}{}
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make(map[string][]domain.SlaEvent, len(ticketIDs))
	for _, e := range r.s.events {
		if _, ok := wanted[e.TicketID]; ok && e.TenantID == tenantID {
			result[e.TicketID] = append(result[e.TicketID], e)
		}
	}
	return result, nil
}

func (r *eventRepo) List(_ context.Context, f repository.SlaEventFilter) ([]domain.SlaEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	types := make(map[domain.SlaEventType]struct{}, len(f.EventTypes))
	for _, t := range f.EventTypes {
		types[t] = struct{}{}
	}
	var result []domain.SlaEvent
	for i := len(r.s.events) - 1; i >= 0; i-- {
		e := r.s.events[i]
		if e.TenantID != f.TenantID {
			continue
		}
		if len(types) > 0 {
			if _, ok := types[e.EventType]; !ok {
				continue
			}
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.CreatedAt.After(*f.To) {
			continue
		}
		result = append(result, e)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(result, limit, f.Offset), nil
}

// ---- statuses, tenants, cursors ----

type statusRepo struct{ s *Store }

func (r *statusRepo) List(_ context.Context, tenantID string) ([]domain.StatusDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.StatusDefinition
	for k, def := range r.s.statuses {
		if k.tenant == tenantID {
			result = append(result, def)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *statusRepo) Upsert(_ context.Context, def domain.StatusDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.statuses[key{def.TenantID, def.Name}] = def
	return nil
}

type tenantRepo struct{ s *Store }

func (r *tenantRepo) ListTenants(_ context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	seen := map[string]struct{}{}
	for k := range r.s.queues {
		seen[k.tenant] = struct{}{}
	}
	for k := range r.s.policies {
		seen[k.tenant] = struct{}{}
	}
	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants, nil
}

type cursorStore struct{ s *Store }

func (c *cursorStore) Get(_ context.Context, tenantID, queueID string) (string, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	return c.s.cursors[key{tenantID, queueID}], nil
}

func (c *cursorStore) Set(_ context.Context, tenantID, queueID, agentID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.cursors[key{tenantID, queueID}] = agentID
	return nil
}
