package domain

import "time"

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "BAIXA"
	TicketPriorityNormal TicketPriority = "NORMAL"
	TicketPriorityHigh   TicketPriority = "ALTA"
	TicketPriorityUrgent TicketPriority = "URGENTE"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityNormal, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// SkillRequirement asks for an agent skill at a minimum level.
type SkillRequirement struct {
	Skill    string `json:"skill"`
	MinLevel int    `json:"min_level"`
}

// TicketSLA holds the deadlines computed when the SLA clocks start.
type TicketSLA struct {
	PolicyID        *string
	ResponseDueAt   *time.Time
	ResolutionDueAt *time.Time
	StartedAt       *time.Time
}

// Ticket is a unit of customer-service work routed through a queue.
type Ticket struct {
	ID              string
	TenantID        string
	QueueID         string
	Status          string
	StatusClass     StatusClass
	AssignedAgentID *string
	Priority        TicketPriority
	Channel         string
	RequiredSkill   *SkillRequirement
	QueuedReason    *string
	TimeoutAt       *time.Time
	AssignCount     int
	SLA             TicketSLA
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FirstResponseAt *time.Time
	ResolvedAt      *time.Time
	CancelledAt     *time.Time
	Version         int64
}

// IsTerminal reports whether the ticket reached closed or cancelled.
func (t *Ticket) IsTerminal() bool {
	return t.StatusClass.Terminal()
}

// HoldsSlot reports whether the ticket currently occupies an agent slot.
func (t *Ticket) HoldsSlot() bool {
	return t.AssignedAgentID != nil && t.StatusClass.Open()
}
