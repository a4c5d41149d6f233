// Package memory implements every repository interface in process.
//
// It backs the service when no POSTGRES_DSN is configured and is the store used by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/repository"
)

type key struct {
	tenant string
	id     string
}

type memberKey struct {
	tenant string
	queue  string
	agent  string
}

type eventKey struct {
	tenant string
	ticket string
	clock  domain.SlaClock
	kind   domain.SlaEventType
}

// loadCounter is one addressable load slot per agent, updated by compare-and-swap.
type loadCounter struct {
	value atomic.Int64
}

// Store holds all in-memory state.
type Store struct {
	mu sync.RWMutex

	queues   map[key]domain.Queue
	members  map[memberKey]domain.QueueMember
	agents   map[key]domain.Agent
	skills   map[key][]domain.AgentSkill
	tickets  map[key]domain.Ticket
	logs     []domain.DistributionLogEntry
	policies map[key]domain.SlaPolicy
	events   []domain.SlaEvent
	eventIdx map[eventKey]struct{}
	statuses map[key]domain.StatusDefinition
	cursors  map[key]string

	loads sync.Map // key -> *loadCounter

	// FailAppends makes event and log writes fail, simulating an unavailable audit store.
	FailAppends atomic.Bool

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		queues:   map[key]domain.Queue{},
		members:  map[memberKey]domain.QueueMember{},
		agents:   map[key]domain.Agent{},
		skills:   map[key][]domain.AgentSkill{},
		tickets:  map[key]domain.Ticket{},
		policies: map[key]domain.SlaPolicy{},
		eventIdx: map[eventKey]struct{}{},
		statuses: map[key]domain.StatusDefinition{},
		cursors:  map[key]string{},
		now:      time.Now,
	}
}

// Queues returns the queue repository view.
func (s *Store) Queues() repository.QueueRepository { return &queueRepo{s} }

// Agents returns the agent repository view.
func (s *Store) Agents() repository.AgentRepository { return &agentRepo{s} }

// Tickets returns the ticket repository view.
func (s *Store) Tickets() repository.TicketRepository { return &ticketRepo{s} }

// DistributionLog returns the audit log repository view.
func (s *Store) DistributionLog() repository.DistributionLogRepository { return &logRepo{s} }

// SlaPolicies returns the policy repository view.
func (s *Store) SlaPolicies() repository.SlaPolicyRepository { return &policyRepo{s} }

// SlaEvents returns the SLA event repository view.
func (s *Store) SlaEvents() repository.SlaEventRepository { return &eventRepo{s} }

// Statuses returns the status repository view.
func (s *Store) Statuses() repository.StatusRepository { return &statusRepo{s} }

// Tenants returns the tenant repository view.
func (s *Store) Tenants() repository.TenantRepository { return &tenantRepo{s} }

// Cursors returns the rotation cursor store.
func (s *Store) Cursors() repository.CursorStore { return &cursorStore{s} }

func (s *Store) counter(tenantID, agentID string) *loadCounter {
	c, _ := s.loads.LoadOrStore(key{tenantID, agentID}, &loadCounter{})
	return c.(*loadCounter)
}

// ---- queues ----

type queueRepo struct{ s *Store }

func (r *queueRepo) Create(_ context.Context, q *domain.Queue) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	q.CreatedAt, q.UpdatedAt = now, now
	r.s.queues[key{q.TenantID, q.ID}] = *q
	return nil
}

func (r *queueRepo) Update(_ context.Context, q *domain.Queue) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key{q.TenantID, q.ID}
	existing, ok := r.s.queues[k]
	if !ok {
		return repository.ErrNotFound
	}
	q.CreatedAt = existing.CreatedAt
	q.UpdatedAt = r.s.now()
	r.s.queues[k] = *q
	return nil
}

func (r *queueRepo) GetByID(_ context.Context, tenantID, id string) (*domain.Queue, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	q, ok := r.s.queues[key{tenantID, id}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &q, nil
}

func (r *queueRepo) List(_ context.Context, tenantID string) ([]domain.Queue, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.Queue
	for k, q := range r.s.queues {
		if k.tenant == tenantID {
			result = append(result, q)
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

func (r *queueRepo) Count(ctx context.Context, tenantID string) (int, error) {
	queues, err := r.List(ctx, tenantID)
	return len(queues), err
}

func (r *queueRepo) UpsertMember(_ context.Context, m *domain.QueueMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := memberKey{m.TenantID, m.QueueID, m.AgentID}
	if existing, ok := r.s.members[k]; ok {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = r.s.now()
	}
	r.s.members[k] = *m
	return nil
}

func (r *queueRepo) RemoveMember(_ context.Context, tenantID, queueID, agentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := memberKey{tenantID, queueID, agentID}
	if _, ok := r.s.members[k]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.members, k)
	return nil
}

func (r *queueRepo) ListMembers(_ context.Context, tenantID, queueID string) ([]domain.QueueMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.QueueMember
	for k, m := range r.s.members {
		if k.tenant == tenantID && k.queue == queueID {
			result = append(result, m)
		}
	}
	sortMembers(result)
	return result, nil
}

func (r *queueRepo) ListQueueIDsForAgent(_ context.Context, tenantID, agentID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var members []domain.QueueMember
	for k, m := range r.s.members {
		if k.tenant == tenantID && k.agent == agentID && m.Active {
			members = append(members, m)
		}
	}
	sortMembers(members)
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.QueueID)
	}
	return ids, nil
}

func sortMembers(members []domain.QueueMember) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].CreatedAt.Equal(members[j].CreatedAt) {
			if members[i].AgentID == members[j].AgentID {
				return members[i].QueueID < members[j].QueueID
			}
			return members[i].AgentID < members[j].AgentID
		}
		return members[i].CreatedAt.Before(members[j].CreatedAt)
	})
}

// ---- agents ----

type agentRepo struct{ s *Store }

func (r *agentRepo) Create(_ context.Context, a *domain.Agent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	a.ActiveTicketCount = 0
	r.s.agents[key{a.TenantID, a.ID}] = *a
	r.s.counter(a.TenantID, a.ID).value.Store(0)
	return nil
}

func (r *agentRepo) withLoad(a domain.Agent) domain.Agent {
	a.ActiveTicketCount = int(r.s.counter(a.TenantID, a.ID).value.Load())
	return a
}

func (r *agentRepo) GetByID(_ context.Context, tenantID, id string) (*domain.Agent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.agents[key{tenantID, id}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a = r.withLoad(a)
	return &a, nil
}

func (r *agentRepo) List(_ context.Context, tenantID string) ([]domain.Agent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.Agent
	for k, a := range r.s.agents {
		if k.tenant == tenantID {
			result = append(result, r.withLoad(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *agentRepo) ListByIDs(_ context.Context, tenantID string, ids []string) ([]domain.Agent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]domain.Agent, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.s.agents[key{tenantID, id}]; ok {
			result = append(result, r.withLoad(a))
		}
	}
	return result, nil
}

func (r *agentRepo) UpdateStatus(_ context.Context, tenantID, id string, status domain.AgentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key{tenantID, id}
	a, ok := r.s.agents[k]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = status
	a.Version++
	a.UpdatedAt = r.s.now()
	r.s.agents[k] = a
	return nil
}

func (r *agentRepo) UpdateCapacity(_ context.Context, tenantID, id string, maxCapacity int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key{tenantID, id}
	a, ok := r.s.agents[k]
	if !ok {
		return repository.ErrNotFound
	}
	a.MaxCapacity = maxCapacity
	a.Version++
	r.s.agents[k] = a
	return nil
}

func (r *agentRepo) exists(tenantID, id string) bool {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.agents[key{tenantID, id}]
	return ok
}

func (r *agentRepo) TryIncrementLoad(_ context.Context, tenantID, id string, capacity int) (int, bool, error) {
	if !r.exists(tenantID, id) {
		return 0, false, nil
	}
	c := r.s.counter(tenantID, id)
	for {
		cur := c.value.Load()
		if cur+1 > int64(capacity) {
			return int(cur), false, nil
		}
		if c.value.CompareAndSwap(cur, cur+1) {
			return int(cur + 1), true, nil
		}
	}
}

func (r *agentRepo) DecrementLoad(_ context.Context, tenantID, id string) (int, error) {
	if !r.exists(tenantID, id) {
		return 0, repository.ErrNotFound
	}
	c := r.s.counter(tenantID, id)
	for {
		cur := c.value.Load()
		next := cur - 1
		if next < 0 {
			next = 0
		}
		if c.value.CompareAndSwap(cur, next) {
			return int(next), nil
		}
	}
}

func (r *agentRepo) ReplaceSkills(_ context.Context, tenantID, agentID string, skills []domain.AgentSkill) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	copied := make([]domain.AgentSkill, 0, len(skills))
	for _, sk := range skills {
		sk.TenantID = tenantID
		sk.AgentID = agentID
		copied = append(copied, sk)
	}
	r.s.skills[key{tenantID, agentID}] = copied
	return nil
}

func (r *agentRepo) ListSkills(_ context.Context, tenantID string, agentIDs []string) ([]domain.AgentSkill, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.AgentSkill
	for _, id := range agentIDs {
		result = append(result, r.s.skills[key{tenantID, id}]...)
	}
	return result, nil
}

// ---- tickets ----

type ticketRepo struct{ s *Store }

func (r *ticketRepo) Create(_ context.Context, t *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key{t.TenantID, t.ID}
	if _, exists := r.s.tickets[k]; exists {
		return repository.ErrVersionConflict
	}
	t.UpdatedAt = r.s.now()
	t.Version = 1
	r.s.tickets[k] = cloneTicket(*t)
	return nil
}

func (r *ticketRepo) Update(_ context.Context, t *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key{t.TenantID, t.ID}
	existing, ok := r.s.tickets[k]
	if !ok || existing.Version != t.Version {
		return repository.ErrVersionConflict
	}
	t.Version++
	t.UpdatedAt = r.s.now()
	r.s.tickets[k] = cloneTicket(*t)
	return nil
}

func (r *ticketRepo) GetByID(_ context.Context, tenantID, id string) (*domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tickets[key{tenantID, id}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t = cloneTicket(t)
	return &t, nil
}

func (r *ticketRepo) selectTickets(tenantID string, match func(domain.Ticket) bool) []domain.Ticket {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.Ticket
	for k, t := range r.s.tickets {
		if k.tenant == tenantID && match(t) {
			result = append(result, cloneTicket(t))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (r *ticketRepo) ListWithFilter(_ context.Context, f repository.TicketFilter) ([]domain.Ticket, error) {
	result := r.selectTickets(f.TenantID, func(t domain.Ticket) bool {
		if f.QueueID != nil && t.QueueID != *f.QueueID {
			return false
		}
		if f.AgentID != nil && (t.AssignedAgentID == nil || *t.AssignedAgentID != *f.AgentID) {
			return false
		}
		if len(f.StatusClasses) > 0 && !containsClass(f.StatusClasses, t.StatusClass) {
			return false
		}
		if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
			return false
		}
		if f.CreatedTo != nil && t.CreatedAt.After(*f.CreatedTo) {
			return false
		}
		return true
	})
	// newest first, like the SQL implementation
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	return page(result, limit, f.Offset), nil
}

func (r *ticketRepo) ListTimedOut(_ context.Context, tenantID string, now time.Time, limit int) ([]domain.Ticket, error) {
	result := r.selectTickets(tenantID, func(t domain.Ticket) bool {
		return t.StatusClass == domain.StatusClassQueued && t.TimeoutAt != nil && !t.TimeoutAt.After(now)
	})
	return page(result, limit, 0), nil
}

func (r *ticketRepo) OldestQueued(_ context.Context, tenantID string, queueIDs []string) (*domain.Ticket, error) {
	wanted := make(map[string]struct{}, len(queueIDs))
	for _, id := range queueIDs {
		wanted[id] = struct{}{}
	}
	result := r.selectTickets(tenantID, func(t domain.Ticket) bool {
		_, ok := wanted[t.QueueID]
		return ok && t.StatusClass == domain.StatusClassQueued
	})
	if len(result) == 0 {
		return nil, repository.ErrNotFound
	}
	return &result[0], nil
}

func (r *ticketRepo) ListOpenByAgent(_ context.Context, tenantID, agentID string) ([]domain.Ticket, error) {
	return r.selectTickets(tenantID, func(t domain.Ticket) bool {
		return t.AssignedAgentID != nil && *t.AssignedAgentID == agentID && t.StatusClass.Open()
	}), nil
}

func (r *ticketRepo) ListWithOpenClocks(_ context.Context, tenantID string, limit, offset int) ([]domain.Ticket, error) {
	result := r.selectTickets(tenantID, func(t domain.Ticket) bool {
		return t.SLA.PolicyID != nil && !t.StatusClass.Terminal()
	})
	return page(result, limit, offset), nil
}

func (r *ticketRepo) CountOpenByAgent(_ context.Context, tenantID string) (map[string]int, error) {
	counts := map[string]int{}
	for _, t := range r.selectTickets(tenantID, func(t domain.Ticket) bool { return t.HoldsSlot() }) {
		counts[*t.AssignedAgentID]++
	}
	return counts, nil
}

func containsClass(classes []domain.StatusClass, c domain.StatusClass) bool {
	for _, candidate := range classes {
		if candidate == c {
			return true
		}
	}
	return false
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	t.AssignedAgentID = cloneString(t.AssignedAgentID)
	t.QueuedReason = cloneString(t.QueuedReason)
	t.SLA.PolicyID = cloneString(t.SLA.PolicyID)
	t.TimeoutAt = cloneTime(t.TimeoutAt)
	t.SLA.ResponseDueAt = cloneTime(t.SLA.ResponseDueAt)
	t.SLA.ResolutionDueAt = cloneTime(t.SLA.ResolutionDueAt)
	t.SLA.StartedAt = cloneTime(t.SLA.StartedAt)
	t.FirstResponseAt = cloneTime(t.FirstResponseAt)
	t.ResolvedAt = cloneTime(t.ResolvedAt)
	t.CancelledAt = cloneTime(t.CancelledAt)
	if t.RequiredSkill != nil {
		req := *t.RequiredSkill
		t.RequiredSkill = &req
	}
	return t
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
