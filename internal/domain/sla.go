package domain

import (
	"time"

	"github.com/routedesk/routing-engine/internal/calendar"
)

// SlaPolicy holds the response and resolution limits for a (priority, channel) pair.
type SlaPolicy struct {
	ID                    string
	TenantID              string
	Name                  string
	Priority              TicketPriority
	Channel               *string
	ResponseTimeMinutes   int
	ResolutionTimeMinutes int
	BusinessHours         *calendar.Schedule
	AlertThresholdPercent int
	NotifyEmail           bool
	NotifySystem          bool
	Active                bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SlaClock names one of the two independently tracked limits.
type SlaClock string

const (
	ClockResponse   SlaClock = "response"
	ClockResolution SlaClock = "resolution"
	ClockNone       SlaClock = "none"
)

// SlaEventType enumerates append-only SLA events.
type SlaEventType string

const (
	SlaClockStarted       SlaEventType = "clock_started"
	SlaResponseMet        SlaEventType = "response_met"
	SlaResponseBreach     SlaEventType = "response_breach"
	SlaResolutionMet      SlaEventType = "resolution_met"
	SlaResolutionBreach   SlaEventType = "resolution_breach"
	SlaAlertNearBreach    SlaEventType = "alert_near_breach"
	SlaResponseUnrecorded SlaEventType = "response_unrecorded"
	SlaMissingPolicy      SlaEventType = "missing_policy"
	SlaClockError         SlaEventType = "clock_error"
)

// Notifiable reports whether the event is handed to the notification collaborator.
func (t SlaEventType) Notifiable() bool {
	switch t {
	case SlaResponseBreach, SlaResolutionBreach, SlaAlertNearBreach:
		return true
	}
	return false
}

// Closes reports whether the event ends its clock.
func (t SlaEventType) Closes() bool {
	switch t {
	case SlaResponseMet, SlaResponseBreach, SlaResolutionMet, SlaResolutionBreach, SlaResponseUnrecorded:
		return true
	}
	return false
}

// SlaEvent is an append-only SLA record. (TicketID, Clock, EventType) is unique.
type SlaEvent struct {
	ID             string
	TenantID       string
	TicketID       string
	PolicyID       *string
	Clock          SlaClock
	EventType      SlaEventType
	ElapsedMinutes float64
	LimitMinutes   int
	PercentUsed    float64
	Detail         string
	CreatedAt      time.Time
}
