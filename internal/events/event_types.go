package events

import (
	"time"

	"github.com/routedesk/routing-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventTicketQueued        EventType = "ticket_queued"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventSlaRecorded         EventType = "sla_event_recorded"
)

// ActorType identifies who triggered an event.
type ActorType string

const (
	ActorSystem  ActorType = "system"
	ActorAgent   ActorType = "agent"
	ActorService ActorType = "service"
	ActorAdmin   ActorType = "admin"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type    ActorType `json:"type"`
	Subject string    `json:"subject,omitempty"`
}

// SystemActor is used for sweep and timeout driven events.
var SystemActor = Actor{Type: ActorSystem}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TenantID  string      `json:"tenant_id"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	QueueID  string                `json:"queue_id"`
	Priority domain.TicketPriority `json:"priority"`
	Channel  string                `json:"channel"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AgentID            string                  `json:"agent_id"`
	QueueID            string                  `json:"queue_id"`
	Algorithm          domain.RoutingAlgorithm `json:"algorithm"`
	IsReassignment     bool                    `json:"is_reassignment"`
	ReassignmentReason *string                 `json:"reassignment_reason,omitempty"`
}

// TicketQueuedPayload payload.
type TicketQueuedPayload struct {
	QueueID string `json:"queue_id"`
	Reason  string `json:"reason"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus string             `json:"old_status"`
	NewStatus string             `json:"new_status"`
	NewClass  domain.StatusClass `json:"new_class"`
}

// SlaRecordedPayload carries a freshly inserted SLA event.
type SlaRecordedPayload struct {
	Event        domain.SlaEvent `json:"event"`
	NotifyEmail  bool            `json:"notify_email"`
	NotifySystem bool            `json:"notify_system"`
}
