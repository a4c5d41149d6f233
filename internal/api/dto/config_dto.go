package dto

import (
	"time"

	"github.com/routedesk/routing-engine/internal/calendar"
	"github.com/routedesk/routing-engine/internal/domain"
)

// QueueRequest payload for queue create and update.
type QueueRequest struct {
	Name                    string                  `json:"name"`
	Algorithm               domain.RoutingAlgorithm `json:"algorithm"`
	Active                  *bool                   `json:"active"`
	DefaultCapacityPerAgent int                     `json:"default_capacity_per_agent"`
	AutoDistribution        *bool                   `json:"auto_distribution"`
	ConsiderSkills          bool                    `json:"consider_skills"`
	PrioritizeOnline        bool                    `json:"prioritize_online"`
	TimeoutMinutes          int                     `json:"timeout_minutes"`
	AllowOverflow           bool                    `json:"allow_overflow"`
	OverflowQueueID         *string                 `json:"overflow_queue_id"`
}

// QueueResponse represents a queue.
type QueueResponse struct {
	ID                      string                  `json:"id"`
	Name                    string                  `json:"name"`
	Algorithm               domain.RoutingAlgorithm `json:"algorithm"`
	Active                  bool                    `json:"active"`
	DefaultCapacityPerAgent int                     `json:"default_capacity_per_agent"`
	AutoDistribution        bool                    `json:"auto_distribution"`
	ConsiderSkills          bool                    `json:"consider_skills"`
	PrioritizeOnline        bool                    `json:"prioritize_online"`
	TimeoutMinutes          int                     `json:"timeout_minutes"`
	AllowOverflow           bool                    `json:"allow_overflow"`
	OverflowQueueID         *string                 `json:"overflow_queue_id"`
	CreatedAt               time.Time               `json:"created_at"`
	UpdatedAt               time.Time               `json:"updated_at"`
}

// MemberRequest payload for membership upserts.
type MemberRequest struct {
	CapacityOverride *int  `json:"capacity_override"`
	Priority         int   `json:"priority"`
	Active           *bool `json:"active"`
}

// MemberResponse represents a queue membership.
type MemberResponse struct {
	QueueID          string    `json:"queue_id"`
	AgentID          string    `json:"agent_id"`
	CapacityOverride *int      `json:"capacity_override"`
	Priority         int       `json:"priority"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

// AgentRequest payload for agent registration.
type AgentRequest struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	MaxCapacity int                `json:"max_capacity"`
	Status      domain.AgentStatus `json:"status"`
}

// AgentCapacityRequest payload for capacity changes.
type AgentCapacityRequest struct {
	MaxCapacity int `json:"max_capacity"`
}

// AgentStatusRequest payload for presence updates.
type AgentStatusRequest struct {
	Status domain.AgentStatus `json:"status"`
}

// AgentResponse represents an agent.
type AgentResponse struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Status            domain.AgentStatus `json:"status"`
	MaxCapacity       int                `json:"max_capacity"`
	ActiveTicketCount int                `json:"active_ticket_count"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// SkillRequest is one entry of a skills replacement.
type SkillRequest struct {
	Skill  string `json:"skill"`
	Level  int    `json:"level"`
	Active *bool  `json:"active"`
}

// SkillsRequest payload replaces an agent's skill set.
type SkillsRequest struct {
	Skills []SkillRequest `json:"skills"`
}

// SkillResponse represents an agent skill.
type SkillResponse struct {
	Skill  string `json:"skill"`
	Level  int    `json:"level"`
	Active bool   `json:"active"`
}

// PolicyRequest payload for SLA policy create and update.
type PolicyRequest struct {
	Name                  string                `json:"name"`
	Priority              domain.TicketPriority `json:"priority"`
	Channel               *string               `json:"channel"`
	ResponseTimeMinutes   int                   `json:"response_time_minutes"`
	ResolutionTimeMinutes int                   `json:"resolution_time_minutes"`
	BusinessHours         *calendar.Schedule    `json:"business_hours"`
	AlertThresholdPercent int                   `json:"alert_threshold_percent"`
	NotifyEmail           bool                  `json:"notify_email"`
	NotifySystem          bool                  `json:"notify_system"`
	Active                *bool                 `json:"active"`
}

// PolicyResponse represents an SLA policy.
type PolicyResponse struct {
	ID                    string                `json:"id"`
	Name                  string                `json:"name"`
	Priority              domain.TicketPriority `json:"priority"`
	Channel               *string               `json:"channel"`
	ResponseTimeMinutes   int                   `json:"response_time_minutes"`
	ResolutionTimeMinutes int                   `json:"resolution_time_minutes"`
	BusinessHours         *calendar.Schedule    `json:"business_hours"`
	AlertThresholdPercent int                   `json:"alert_threshold_percent"`
	NotifyEmail           bool                  `json:"notify_email"`
	NotifySystem          bool                  `json:"notify_system"`
	Active                bool                  `json:"active"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

// StatusDefinitionDTO is a tenant status label.
type StatusDefinitionDTO struct {
	Name  string             `json:"name"`
	Class domain.StatusClass `json:"class"`
}

// StatusesRequest payload replaces or extends custom status labels.
type StatusesRequest struct {
	Statuses []StatusDefinitionDTO `json:"statuses"`
}

// NewQueueResponse maps a queue.
func NewQueueResponse(q *domain.Queue) QueueResponse {
	return QueueResponse{
		ID:                      q.ID,
		Name:                    q.Name,
		Algorithm:               q.Algorithm,
		Active:                  q.Active,
		DefaultCapacityPerAgent: q.DefaultCapacityPerAgent,
		AutoDistribution:        q.AutoDistribution,
		ConsiderSkills:          q.ConsiderSkills,
		PrioritizeOnline:        q.PrioritizeOnline,
		TimeoutMinutes:          q.TimeoutMinutes,
		AllowOverflow:           q.AllowOverflow,
		OverflowQueueID:         q.OverflowQueueID,
		CreatedAt:               q.CreatedAt,
		UpdatedAt:               q.UpdatedAt,
	}
}

// NewMemberResponse maps a membership.
func NewMemberResponse(m *domain.QueueMember) MemberResponse {
	return MemberResponse{
		QueueID:          m.QueueID,
		AgentID:          m.AgentID,
		CapacityOverride: m.CapacityOverride,
		Priority:         m.Priority,
		Active:           m.Active,
		CreatedAt:        m.CreatedAt,
	}
}

// NewAgentResponse maps an agent.
func NewAgentResponse(a *domain.Agent) AgentResponse {
	return AgentResponse{
		ID:                a.ID,
		Name:              a.Name,
		Status:            a.Status,
		MaxCapacity:       a.MaxCapacity,
		ActiveTicketCount: a.ActiveTicketCount,
		UpdatedAt:         a.UpdatedAt,
	}
}

// NewSkillResponses maps skills.
func NewSkillResponses(skills []domain.AgentSkill) []SkillResponse {
	out := make([]SkillResponse, 0, len(skills))
	for _, s := range skills {
		out = append(out, SkillResponse{Skill: s.Skill, Level: s.Level, Active: s.Active})
	}
	return out
}

// NewPolicyResponse maps a policy.
func NewPolicyResponse(p *domain.SlaPolicy) PolicyResponse {
	return PolicyResponse{
		ID:                    p.ID,
		Name:                  p.Name,
		Priority:              p.Priority,
		Channel:               p.Channel,
		ResponseTimeMinutes:   p.ResponseTimeMinutes,
		ResolutionTimeMinutes: p.ResolutionTimeMinutes,
		BusinessHours:         p.BusinessHours,
		AlertThresholdPercent: p.AlertThresholdPercent,
		NotifyEmail:           p.NotifyEmail,
		NotifySystem:          p.NotifySystem,
		Active:                p.Active,
		UpdatedAt:             p.UpdatedAt,
	}
}

// NewStatusDefinitions maps status labels.
func NewStatusDefinitions(defs []domain.StatusDefinition) []StatusDefinitionDTO {
	out := make([]StatusDefinitionDTO, 0, len(defs))
	for _, d := range defs {
		out = append(out, StatusDefinitionDTO{Name: d.Name, Class: d.Class})
	}
	return out
}
