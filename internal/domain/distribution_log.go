package domain

import "time"

// ReassignmentReason explains why a ticket moved between agents.
type ReassignmentReason string

const (
	ReassignAgentOffline ReassignmentReason = "agent_offline"
	ReassignAgentAway    ReassignmentReason = "agent_away"
	ReassignQueueTimeout ReassignmentReason = "queue_timeout"
	ReassignManual       ReassignmentReason = "manual"
)

// DistributionLogEntry is an immutable audit row for a committed assignment.
type DistributionLogEntry struct {
	ID                    string
	TenantID              string
	TicketID              string
	AgentID               string
	QueueID               string
	Algorithm             RoutingAlgorithm
	Reason                string
	AgentLoadAtAssignment int
	IsReassignment        bool
	ReassignmentReason    *string
	CreatedAt             time.Time
}
