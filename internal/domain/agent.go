package domain

import "time"

// AgentStatus is set by the presence collaborator.
type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "AVAILABLE"
	AgentStatusBusy      AgentStatus = "BUSY"
	AgentStatusAway      AgentStatus = "AWAY"
	AgentStatusOffline   AgentStatus = "OFFLINE"
)

// Valid reports whether s is a known status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusAvailable, AgentStatusBusy, AgentStatusAway, AgentStatusOffline:
		return true
	}
	return false
}

// AcceptsWork reports whether an agent in this status may receive new tickets.
func (s AgentStatus) AcceptsWork() bool {
	return s == AgentStatusAvailable || s == AgentStatusBusy
}

// Agent is a support user eligible to receive tickets.
type Agent struct {
	ID                string
	TenantID          string
	Name              string
	Status            AgentStatus
	MaxCapacity       int
	ActiveTicketCount int
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AgentSkill is a skill an agent holds at a level.
type AgentSkill struct {
	TenantID string
	AgentID  string
	Skill    string
	Level    int
	Active   bool
}

// Satisfies reports whether the skill row meets a requirement.
func (s AgentSkill) Satisfies(req SkillRequirement) bool {
	return s.Active && s.Skill == req.Skill && s.Level >= req.MinLevel
}

// EffectiveCapacity resolves the capacity of an agent within a queue.
func EffectiveCapacity(member QueueMember, agent Agent, queueDefault int) int {
	if member.CapacityOverride != nil {
		return *member.CapacityOverride
	}
	if agent.MaxCapacity > 0 {
		return agent.MaxCapacity
	}
	return queueDefault
}
