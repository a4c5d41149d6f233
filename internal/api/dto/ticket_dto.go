package dto

import (
	"time"

	"github.com/routedesk/routing-engine/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	QueueID       string                   `json:"queue_id"`
	Priority      domain.TicketPriority    `json:"priority"`
	Channel       string                   `json:"channel"`
	RequiredSkill *domain.SkillRequirement `json:"required_skill"`
}

// TransitionRequest payload.
type TransitionRequest struct {
	Action string `json:"action"`
	Status string `json:"status"`
}

// ReassignRequest payload.
type ReassignRequest struct {
	AgentID string `json:"agent_id"`
}

// TicketSLAResponse carries the ticket's SLA attachment.
type TicketSLAResponse struct {
	PolicyID        *string    `json:"policy_id"`
	ResponseDueAt   *time.Time `json:"response_due_at"`
	ResolutionDueAt *time.Time `json:"resolution_due_at"`
}

// TicketResponse represents a ticket.
type TicketResponse struct {
	ID              string                   `json:"id"`
	QueueID         string                   `json:"queue_id"`
	Status          string                   `json:"status"`
	StatusClass     domain.StatusClass       `json:"status_class"`
	AssignedAgentID *string                  `json:"assigned_agent_id"`
	QueuedReason    *string                  `json:"queued_reason,omitempty"`
	Priority        domain.TicketPriority    `json:"priority"`
	Channel         string                   `json:"channel"`
	RequiredSkill   *domain.SkillRequirement `json:"required_skill,omitempty"`
	TimeoutAt       *time.Time               `json:"timeout_at,omitempty"`
	AssignCount     int                      `json:"assign_count"`
	SLA             TicketSLAResponse        `json:"sla"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
	FirstResponseAt *time.Time               `json:"first_response_at"`
	ResolvedAt      *time.Time               `json:"resolved_at"`
	CancelledAt     *time.Time               `json:"cancelled_at"`
}

// DistributionLogResponse represents one assignment audit entry.
type DistributionLogResponse struct {
	ID                    string                  `json:"id"`
	TicketID              string                  `json:"ticket_id"`
	AgentID               string                  `json:"agent_id"`
	QueueID               string                  `json:"queue_id"`
	Algorithm             domain.RoutingAlgorithm `json:"algorithm"`
	Reason                string                  `json:"reason"`
	AgentLoadAtAssignment int                     `json:"agent_load_at_assignment"`
	IsReassignment        bool                    `json:"is_reassignment"`
	ReassignmentReason    *string                 `json:"reassignment_reason"`
	CreatedAt             time.Time               `json:"created_at"`
}

// NewTicketResponse maps a ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:              t.ID,
		QueueID:         t.QueueID,
		Status:          t.Status,
		StatusClass:     t.StatusClass,
		AssignedAgentID: t.AssignedAgentID,
		QueuedReason:    t.QueuedReason,
		Priority:        t.Priority,
		Channel:         t.Channel,
		RequiredSkill:   t.RequiredSkill,
		TimeoutAt:       t.TimeoutAt,
		AssignCount:     t.AssignCount,
		SLA: TicketSLAResponse{
			PolicyID:        t.SLA.PolicyID,
			ResponseDueAt:   t.SLA.ResponseDueAt,
			ResolutionDueAt: t.SLA.ResolutionDueAt,
		},
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		FirstResponseAt: t.FirstResponseAt,
		ResolvedAt:      t.ResolvedAt,
		CancelledAt:     t.CancelledAt,
	}
}

// NewDistributionLogResponses maps audit entries.
func NewDistributionLogResponses(entries []domain.DistributionLogEntry) []DistributionLogResponse {
	out := make([]DistributionLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, DistributionLogResponse{
			ID:                    e.ID,
			TicketID:              e.TicketID,
			AgentID:               e.AgentID,
			QueueID:               e.QueueID,
			Algorithm:             e.Algorithm,
			Reason:                e.Reason,
			AgentLoadAtAssignment: e.AgentLoadAtAssignment,
			IsReassignment:        e.IsReassignment,
			ReassignmentReason:    e.ReassignmentReason,
			CreatedAt:             e.CreatedAt,
		})
	}
	return out
}
