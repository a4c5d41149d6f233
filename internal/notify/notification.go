// Package notify delivers SLA breach and near-breach notifications.
package notify

import (
	"context"
	"time"

	"github.com/routedesk/routing-engine/internal/domain"
)

// Notification is the fire-and-forget payload handed to the delivery collaborator.
type Notification struct {
	TenantID    string              `json:"tenant_id"`
	TicketID    string              `json:"ticket_id"`
	EventType   domain.SlaEventType `json:"event_type"`
	Clock       domain.SlaClock     `json:"clock"`
	PercentUsed float64             `json:"percent_used"`
	PolicyID    *string             `json:"policy_id,omitempty"`
	Channels    []string            `json:"channels"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// Publisher sends notifications to the delivery collaborator.
type Publisher interface {
	Publish(ctx context.Context, notifications ...Notification) error
	Close() error
}

// FromEvent builds the notification for an SLA event and the policy notify flags.
func FromEvent(event domain.SlaEvent, notifyEmail, notifySystem bool) Notification {
	channels := make([]string, 0, 2)
	if notifyEmail {
		channels = append(channels, "email")
	}
	if notifySystem {
		channels = append(channels, "system")
	}
	return Notification{
		TenantID:    event.TenantID,
		TicketID:    event.TicketID,
		EventType:   event.EventType,
		Clock:       event.Clock,
		PercentUsed: event.PercentUsed,
		PolicyID:    event.PolicyID,
		Channels:    channels,
		OccurredAt:  event.CreatedAt,
	}
}
