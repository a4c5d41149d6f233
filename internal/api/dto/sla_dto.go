package dto

import (
	"time"

	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/service"
)

// SlaEventResponse represents a recorded SLA event.
type SlaEventResponse struct {
	ID             string              `json:"id"`
	TicketID       string              `json:"ticket_id"`
	PolicyID       *string             `json:"policy_id"`
	Clock          domain.SlaClock     `json:"clock"`
	EventType      domain.SlaEventType `json:"event_type"`
	ElapsedMinutes float64             `json:"elapsed_minutes"`
	LimitMinutes   int                 `json:"limit_minutes"`
	PercentUsed    float64             `json:"percent_used"`
	Detail         string              `json:"detail,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// ClockSnapshotResponse is the live state of one clock.
type ClockSnapshotResponse struct {
	Clock            domain.SlaClock `json:"clock"`
	Status           string          `json:"status"`
	ElapsedMinutes   float64         `json:"elapsed_minutes"`
	LimitMinutes     int             `json:"limit_minutes"`
	PercentUsed      float64         `json:"percent_used"`
	RemainingMinutes float64         `json:"remaining_minutes"`
	DueAt            *time.Time      `json:"due_at"`
}

// SlaSnapshotResponse is GET /tickets/:id/sla.
type SlaSnapshotResponse struct {
	TicketID   string                 `json:"ticket_id"`
	PolicyID   *string                `json:"policy_id"`
	AsOf       time.Time              `json:"as_of"`
	Response   *ClockSnapshotResponse `json:"response"`
	Resolution *ClockSnapshotResponse `json:"resolution"`
}

// ClockComplianceResponse aggregates one clock.
type ClockComplianceResponse struct {
	Met                       int     `json:"met"`
	Breached                  int     `json:"breached"`
	NearBreach                int     `json:"near_breach"`
	CompliancePercent         float64 `json:"compliance_percent"`
	AvgElapsedMetMinutes      float64 `json:"avg_elapsed_met_minutes"`
	AvgElapsedBreachedMinutes float64 `json:"avg_elapsed_breached_minutes"`
}

// ComplianceReportResponse is GET /sla/metrics.
type ComplianceReportResponse struct {
	From       *time.Time              `json:"from"`
	To         *time.Time              `json:"to"`
	Response   ClockComplianceResponse `json:"response"`
	Resolution ClockComplianceResponse `json:"resolution"`
	Unrecorded int                     `json:"unrecorded"`
	Diagnostic int                     `json:"diagnostic"`
}

// NewSlaEventResponses maps events.
func NewSlaEventResponses(list []domain.SlaEvent) []SlaEventResponse {
	out := make([]SlaEventResponse, 0, len(list))
	for _, e := range list {
		out = append(out, SlaEventResponse{
			ID:             e.ID,
			TicketID:       e.TicketID,
			PolicyID:       e.PolicyID,
			Clock:          e.Clock,
			EventType:      e.EventType,
			ElapsedMinutes: e.ElapsedMinutes,
			LimitMinutes:   e.LimitMinutes,
			PercentUsed:    e.PercentUsed,
			Detail:         e.Detail,
			CreatedAt:      e.CreatedAt,
		})
	}
	return out
}

// NewSlaSnapshotResponse maps a snapshot.
func NewSlaSnapshotResponse(s *service.SlaSnapshot) SlaSnapshotResponse {
	return SlaSnapshotResponse{
		TicketID:   s.TicketID,
		PolicyID:   s.PolicyID,
		AsOf:       s.AsOf,
		Response:   clockSnapshot(s.Response),
		Resolution: clockSnapshot(s.Resolution),
	}
}

func clockSnapshot(c *service.ClockSnapshot) *ClockSnapshotResponse {
	if c == nil {
		return nil
	}
	return &ClockSnapshotResponse{
		Clock:            c.Clock,
		Status:           c.Status,
		ElapsedMinutes:   c.ElapsedMinutes,
		LimitMinutes:     c.LimitMinutes,
		PercentUsed:      c.PercentUsed,
		RemainingMinutes: c.RemainingMinutes,
		DueAt:            c.DueAt,
	}
}

// NewComplianceReportResponse maps a report.
func NewComplianceReportResponse(r *service.ComplianceReport) ComplianceReportResponse {
	return ComplianceReportResponse{
		From:       r.From,
		To:         r.To,
		Response:   ClockComplianceResponse(r.Response),
		Resolution: ClockComplianceResponse(r.Resolution),
		Unrecorded: r.Unrecorded,
		Diagnostic: r.Diagnostic,
	}
}
