package domain

import "time"

// RoutingAlgorithm selects how a queue ranks eligible agents.
type RoutingAlgorithm string

const (
	AlgorithmRoundRobin RoutingAlgorithm = "round_robin"
	AlgorithmLeastLoad  RoutingAlgorithm = "least_load"
	AlgorithmPriority   RoutingAlgorithm = "priority"
	AlgorithmManual     RoutingAlgorithm = "manual"
)

// Valid reports whether a is a configurable routing algorithm.
func (a RoutingAlgorithm) Valid() bool {
	switch a {
	case AlgorithmRoundRobin, AlgorithmLeastLoad, AlgorithmPriority:
		return true
	}
	return false
}

// Queue is a bucket of tickets with a routing policy and member agents.
type Queue struct {
	ID                      string
	TenantID                string
	Name                    string
	Algorithm               RoutingAlgorithm
	Active                  bool
	DefaultCapacityPerAgent int
	AutoDistribution        bool
	ConsiderSkills          bool
	PrioritizeOnline        bool
	TimeoutMinutes          int
	AllowOverflow           bool
	OverflowQueueID         *string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// QueueMember links an agent to a queue.
type QueueMember struct {
	TenantID         string
	QueueID          string
	AgentID          string
	CapacityOverride *int
	Priority         int
	Active           bool
	CreatedAt        time.Time
}

// QueueConfig is the immutable routing configuration handed to the distributor per call.
type QueueConfig struct {
	QueueID                 string
	TenantID                string
	Algorithm               RoutingAlgorithm
	Active                  bool
	DefaultCapacityPerAgent int
	AutoDistribution        bool
	ConsiderSkills          bool
	PrioritizeOnline        bool
	Timeout                 time.Duration
	AllowOverflow           bool
	OverflowQueueID         string
}

// Config snapshots the queue's routing configuration.
func (q Queue) Config() QueueConfig {
	cfg := QueueConfig{
		QueueID:                 q.ID,
		TenantID:                q.TenantID,
		Algorithm:               q.Algorithm,
		Active:                  q.Active,
		DefaultCapacityPerAgent: q.DefaultCapacityPerAgent,
		AutoDistribution:        q.AutoDistribution,
		ConsiderSkills:          q.ConsiderSkills,
		PrioritizeOnline:        q.PrioritizeOnline,
		Timeout:                 time.Duration(q.TimeoutMinutes) * time.Minute,
		AllowOverflow:           q.AllowOverflow,
	}
	if q.OverflowQueueID != nil {
		cfg.OverflowQueueID = *q.OverflowQueueID
	}
	return cfg
}

// CanOverflow reports whether a backup queue should be tried.
func (c QueueConfig) CanOverflow() bool {
	return c.AllowOverflow && c.OverflowQueueID != "" && c.OverflowQueueID != c.QueueID
}
