package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routedesk/routing-engine/internal/domain"
)

func candidate(id string, status domain.AgentStatus, load, capacity, priority int, skills ...domain.AgentSkill) Candidate {
	return Candidate{
		Member:   domain.QueueMember{AgentID: id, Priority: priority, Active: true},
		Agent:    domain.Agent{ID: id, Status: status, ActiveTicketCount: load},
		Skills:   skills,
		Capacity: capacity,
	}
}

func ids(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Agent.ID
	}
	return out
}

func TestFilterCandidatesReasons(t *testing.T) {
	cfg := domain.QueueConfig{ConsiderSkills: true}
	billing := &domain.SkillRequirement{Skill: "billing", MinLevel: 2}

	_, reason := FilterCandidates(cfg, nil, nil)
	assert.Equal(t, ReasonNoCapacity, reason)

	_, reason = FilterCandidates(cfg, nil, []Candidate{
		candidate("a1", domain.AgentStatusOffline, 0, 3, 0),
		candidate("a2", domain.AgentStatusAway, 0, 3, 0),
	})
	assert.Equal(t, ReasonAllOffline, reason)

	_, reason = FilterCandidates(cfg, nil, []Candidate{
		candidate("a1", domain.AgentStatusAvailable, 3, 3, 0),
		candidate("a2", domain.AgentStatusBusy, 1, 1, 0),
	})
	assert.Equal(t, ReasonNoCapacity, reason)

	_, reason = FilterCandidates(cfg, billing, []Candidate{
		candidate("a1", domain.AgentStatusAvailable, 0, 3, 0,
			domain.AgentSkill{Skill: "billing", Level: 1, Active: true}),
		candidate("a2", domain.AgentStatusAvailable, 0, 3, 0,
			domain.AgentSkill{Skill: "billing", Level: 5, Active: false}),
	})
	assert.Equal(t, ReasonNoSkillMatch, reason)

	// the only skilled agent is full while an unskilled one has room
	_, reason = FilterCandidates(cfg, billing, []Candidate{
		candidate("a1", domain.AgentStatusAvailable, 3, 3, 0,
			domain.AgentSkill{Skill: "billing", Level: 4, Active: true}),
		candidate("a2", domain.AgentStatusAvailable, 0, 3, 0),
	})
	assert.Equal(t, ReasonNoCapacity, reason)

	eligible, reason := FilterCandidates(cfg, billing, []Candidate{
		candidate("a1", domain.AgentStatusAvailable, 0, 3, 0,
			domain.AgentSkill{Skill: "billing", Level: 2, Active: true}),
		candidate("a2", domain.AgentStatusAvailable, 0, 3, 0),
	})
	assert.Empty(t, reason)
	assert.Equal(t, []string{"a1"}, ids(eligible))
}

func TestFilterCandidatesIgnoresSkillsWhenQueueDoesNot(t *testing.T) {
	req := &domain.SkillRequirement{Skill: "billing", MinLevel: 2}
	eligible, reason := FilterCandidates(domain.QueueConfig{}, req, []Candidate{
		candidate("a1", domain.AgentStatusAvailable, 0, 3, 0),
	})
	assert.Empty(t, reason)
	assert.Len(t, eligible, 1)
}

func TestFilterCandidatesPrioritizeOnline(t *testing.T) {
	pool := []Candidate{
		candidate("a1", domain.AgentStatusBusy, 0, 3, 0),
		candidate("a2", domain.AgentStatusAvailable, 0, 3, 0),
	}

	eligible, _ := FilterCandidates(domain.QueueConfig{}, nil, pool)
	assert.Equal(t, []string{"a1", "a2"}, ids(eligible))

	eligible, _ = FilterCandidates(domain.QueueConfig{PrioritizeOnline: true}, nil, pool)
	assert.Equal(t, []string{"a2"}, ids(eligible))

	// busy agents still receive work when nobody is available
	eligible, _ = FilterCandidates(domain.QueueConfig{PrioritizeOnline: true}, nil, pool[:1])
	assert.Equal(t, []string{"a1"}, ids(eligible))
}

func TestRankCandidates(t *testing.T) {
	order := []string{"a1", "a2", "a3"}
	pool := []Candidate{
		candidate("a1", domain.AgentStatusAvailable, 1, 2, 2),
		candidate("a2", domain.AgentStatusAvailable, 1, 4, 2),
		candidate("a3", domain.AgentStatusAvailable, 0, 4, 1),
	}

	tests := []struct {
		name      string
		algorithm domain.RoutingAlgorithm
		pool      []Candidate
		cursor    string
		want      []string
	}{
		{"round robin without cursor", domain.AlgorithmRoundRobin, pool, "", []string{"a1", "a2", "a3"}},
		{"round robin after a1", domain.AlgorithmRoundRobin, pool, "a1", []string{"a2", "a3", "a1"}},
		{"round robin wraps", domain.AlgorithmRoundRobin, pool, "a3", []string{"a1", "a2", "a3"}},
		{"least load by ratio", domain.AlgorithmLeastLoad, pool, "", []string{"a3", "a2", "a1"}},
		{"least load two agents", domain.AlgorithmLeastLoad, pool[:2:2], "", []string{"a2", "a1"}},
		{"priority rank first", domain.AlgorithmPriority, pool, "", []string{"a3", "a2", "a1"}},
		{
			"equal ratio falls back to rotation",
			domain.AlgorithmLeastLoad,
			[]Candidate{
				candidate("a1", domain.AgentStatusAvailable, 1, 2, 0),
				candidate("a2", domain.AgentStatusAvailable, 2, 4, 0),
			},
			"a1",
			[]string{"a2", "a1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(RankCandidates(tt.algorithm, tt.pool, order, tt.cursor)))
		})
	}
}

func TestRoundRobinSpreadsEvenly(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{Algorithm: domain.AlgorithmRoundRobin})
	for _, id := range []string{"a1", "a2", "a3"} {
		e.agent(t, id, 10, q.ID)
	}

	var got []string
	for i := 0; i < 6; i++ {
		ticket := e.create(t, q.ID)
		require.NotNil(t, ticket.AssignedAgentID)
		got = append(got, *ticket.AssignedAgentID)
	}
	assert.Equal(t, []string{"a1", "a2", "a3", "a1", "a2", "a3"}, got)
	for _, id := range []string{"a1", "a2", "a3"} {
		assert.Equal(t, 2, e.load(t, id))
	}
}

func TestLeastLoadPrefersLowestRatio(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{Algorithm: domain.AlgorithmLeastLoad})
	e.agent(t, "a1", 2, q.ID)
	e.agent(t, "a2", 6, q.ID)

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, *e.create(t, q.ID).AssignedAgentID)
	}
	// a1 0/2 ties a2 0/6, then a2 (0/6 < 1/2), a2 (1/6 < 1/2), a2 (2/6 < 1/2)
	assert.Equal(t, []string{"a1", "a2", "a2", "a2"}, got)
}

func TestPriorityRoutingUsesMemberRank(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{Algorithm: domain.AlgorithmPriority})
	e.agent(t, "a1", 2)
	e.agent(t, "a2", 2)
	e.member(t, q.ID, "a1", MemberInput{Priority: 2})
	e.member(t, q.ID, "a2", MemberInput{Priority: 1})

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, *e.create(t, q.ID).AssignedAgentID)
	}
	assert.Equal(t, []string{"a2", "a2", "a1"}, got)
}

func TestMemberCapacityOverrideWins(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{DefaultCapacityPerAgent: 5})
	e.agent(t, "a1", 4)
	e.member(t, q.ID, "a1", MemberInput{CapacityOverride: ptr(1)})

	assert.NotNil(t, e.create(t, q.ID).AssignedAgentID)
	second := e.create(t, q.ID)
	assert.Nil(t, second.AssignedAgentID)
	require.NotNil(t, second.QueuedReason)
	assert.Equal(t, ReasonNoCapacity, *second.QueuedReason)
}

func TestQueueDefaultCapacityApplies(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{DefaultCapacityPerAgent: 1})
	e.agent(t, "a1", 0, q.ID)

	assert.NotNil(t, e.create(t, q.ID).AssignedAgentID)
	assert.Nil(t, e.create(t, q.ID).AssignedAgentID)
	assert.Equal(t, 1, e.load(t, "a1"))
}

func TestSkillRequirementFiltersAgents(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	q := e.queue(t, QueueInput{ConsiderSkills: true})
	e.agent(t, "a1", 5, q.ID)
	e.agent(t, "a2", 5, q.ID)
	_, err := e.config.ReplaceSkills(ctx, tenant, "a2", []SkillInput{{Skill: "billing", Level: 3}})
	require.NoError(t, err)

	ticket, err := e.tickets.CreateTicket(ctx, tenant, agentActor, TicketCreateInput{
		QueueID:       q.ID,
		RequiredSkill: &domain.SkillRequirement{Skill: "billing", MinLevel: 2},
	})
	require.NoError(t, err)
	require.NotNil(t, ticket.AssignedAgentID)
	assert.Equal(t, "a2", *ticket.AssignedAgentID)

	ticket, err = e.tickets.CreateTicket(ctx, tenant, agentActor, TicketCreateInput{
		QueueID:       q.ID,
		RequiredSkill: &domain.SkillRequirement{Skill: "billing", MinLevel: 4},
	})
	require.NoError(t, err)
	assert.Nil(t, ticket.AssignedAgentID)
	assert.Equal(t, ReasonNoSkillMatch, *ticket.QueuedReason)
}

func TestAllOfflineQueuesTicket(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	q := e.queue(t, QueueInput{})
	_, err := e.config.CreateAgent(ctx, tenant, AgentInput{ID: "a1", Name: "a1", MaxCapacity: 3})
	require.NoError(t, err)
	e.member(t, q.ID, "a1", MemberInput{})

	ticket := e.create(t, q.ID)
	assert.Nil(t, ticket.AssignedAgentID)
	assert.Equal(t, ReasonAllOffline, *ticket.QueuedReason)
	assert.Equal(t, domain.StatusFila, ticket.Status)
}

func TestManualQueueNeverAutoAssigns(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{AutoDistribution: ptr(false), TimeoutMinutes: 5})
	e.agent(t, "a1", 3, q.ID)

	ticket := e.create(t, q.ID)
	assert.Nil(t, ticket.AssignedAgentID)
	assert.Equal(t, ReasonManualDistribution, *ticket.QueuedReason)
	assert.Nil(t, ticket.TimeoutAt)
	assert.Zero(t, e.load(t, "a1"))
}

func TestOverflowAssignsInBackupQueue(t *testing.T) {
	e := newEngine(t)
	backup := e.queue(t, QueueInput{Name: "backup"})
	primary := e.queue(t, QueueInput{Name: "primary", AllowOverflow: true, OverflowQueueID: &backup.ID})
	e.agent(t, "a1", 1, primary.ID)
	e.agent(t, "b1", 3, backup.ID)

	first := e.create(t, primary.ID)
	assert.Equal(t, "a1", *first.AssignedAgentID)
	assert.Equal(t, primary.ID, first.QueueID)

	second := e.create(t, primary.ID)
	require.NotNil(t, second.AssignedAgentID)
	assert.Equal(t, "b1", *second.AssignedAgentID)
	assert.Equal(t, backup.ID, second.QueueID)

	entries, err := e.tickets.DistributionLog(context.Background(), tenant, second.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, backup.ID, entries[0].QueueID)
	assert.True(t, strings.HasPrefix(entries[0].Reason, "overflow from queue "+primary.ID))
}

func TestOverflowFromInactiveQueue(t *testing.T) {
	e := newEngine(t)
	backup := e.queue(t, QueueInput{Name: "backup"})
	primary := e.queue(t, QueueInput{Name: "primary", Active: ptr(false), AllowOverflow: true, OverflowQueueID: &backup.ID})
	e.agent(t, "b1", 3, backup.ID)

	ticket := e.create(t, primary.ID)
	require.NotNil(t, ticket.AssignedAgentID)
	assert.Equal(t, "b1", *ticket.AssignedAgentID)
}

func TestExhaustedOverflowKeepsPrimaryReason(t *testing.T) {
	e := newEngine(t)
	backup := e.queue(t, QueueInput{Name: "backup"})
	primary := e.queue(t, QueueInput{Name: "primary", AllowOverflow: true, OverflowQueueID: &backup.ID})
	e.agent(t, "a1", 0, primary.ID)

	ticket := e.create(t, primary.ID)
	assert.Nil(t, ticket.AssignedAgentID)
	assert.Equal(t, primary.ID, ticket.QueueID)
	assert.Equal(t, ReasonNoCapacity, *ticket.QueuedReason)
}

func TestLogRecordsLoadBeforeAssignment(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{})
	e.agent(t, "a1", 5, q.ID)

	e.create(t, q.ID)
	second := e.create(t, q.ID)

	entries, err := e.tickets.DistributionLog(context.Background(), tenant, second.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].AgentLoadAtAssignment)
	assert.Equal(t, domain.AlgorithmRoundRobin, entries[0].Algorithm)
	assert.False(t, entries[0].IsReassignment)
	assert.Equal(t, "round robin rotation", entries[0].Reason)
}

func TestConcurrentAssignmentsRespectCapacity(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{Algorithm: domain.AlgorithmLeastLoad})
	e.agent(t, "a1", 3, q.ID)
	e.agent(t, "a2", 2, q.ID)

	const n = 40
	var wg sync.WaitGroup
	results := make([]*domain.Ticket, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.tickets.CreateTicket(context.Background(), tenant, agentActor, TicketCreateInput{QueueID: q.ID})
		}(i)
	}
	wg.Wait()

	perAgent := map[string]int{}
	for i := range results {
		require.NoError(t, errs[i])
		if id := results[i].AssignedAgentID; id != nil {
			perAgent[*id]++
		}
	}
	assert.Equal(t, 3, perAgent["a1"])
	assert.Equal(t, 2, perAgent["a2"])
	assert.Equal(t, 3, e.load(t, "a1"))
	assert.Equal(t, 2, e.load(t, "a2"))
}

func TestDecisionIsNotFoundForUnknownQueue(t *testing.T) {
	e := newEngine(t)
	e.queue(t, QueueInput{})
	_, err := e.dist.Assign(context.Background(), domain.Ticket{TenantID: tenant, QueueID: "missing"}, AssignOptions{})
	assert.Equal(t, "NOT_FOUND", errCode(err))
}

func TestLeastLoadNeverStacksOneAgent(t *testing.T) {
	e := newEngine(t)
	q := e.queue(t, QueueInput{Algorithm: domain.AlgorithmLeastLoad})
	e.agent(t, "a1", 2, q.ID)
	e.agent(t, "a2", 2, q.ID)

	loads := func() [2]int { return [2]int{e.load(t, "a1"), e.load(t, "a2")} }

	require.NotNil(t, e.create(t, q.ID).AssignedAgentID)
	first := loads()
	assert.Equal(t, 1, first[0]+first[1])

	require.NotNil(t, e.create(t, q.ID).AssignedAgentID)
	assert.Equal(t, [2]int{1, 1}, loads())

	require.NotNil(t, e.create(t, q.ID).AssignedAgentID)
	assert.Contains(t, [][2]int{{2, 1}, {1, 2}}, loads())
}

func TestFullSkilledAgentQueuesForCapacity(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	q := e.queue(t, QueueInput{ConsiderSkills: true})
	e.agent(t, "a1", 1, q.ID)
	e.agent(t, "a2", 5, q.ID)
	_, err := e.config.ReplaceSkills(ctx, tenant, "a1", []SkillInput{{Skill: "billing", Level: 3}})
	require.NoError(t, err)
	req := &domain.SkillRequirement{Skill: "billing", MinLevel: 2}

	ticket, err := e.tickets.CreateTicket(ctx, tenant, agentActor, TicketCreateInput{QueueID: q.ID, RequiredSkill: req})
	require.NoError(t, err)
	require.NotNil(t, ticket.AssignedAgentID)
	assert.Equal(t, "a1", *ticket.AssignedAgentID)

	ticket, err = e.tickets.CreateTicket(ctx, tenant, agentActor, TicketCreateInput{QueueID: q.ID, RequiredSkill: req})
	require.NoError(t, err)
	assert.Nil(t, ticket.AssignedAgentID)
	require.NotNil(t, ticket.QueuedReason)
	assert.Equal(t, ReasonNoCapacity, *ticket.QueuedReason)
	assert.Zero(t, e.load(t, "a2"))
}
