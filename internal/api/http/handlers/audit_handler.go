package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/routedesk/routing-engine/internal/api/dto"
	"github.com/routedesk/routing-engine/internal/auth"
	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/repository"
	"github.com/routedesk/routing-engine/internal/service"
)

// AuditHandler serves the tenant-wide distribution log and SLA event streams.
type AuditHandler struct {
	tickets *service.TicketService
	sla     *service.SlaTracker
}

// NewAuditHandler constructs handler.
func NewAuditHandler(ticketService *service.TicketService, slaTracker *service.SlaTracker) *AuditHandler {
	return &AuditHandler{tickets: ticketService, sla: slaTracker}
}

// DistributionLog GET /distribution-log.
func (h *AuditHandler) DistributionLog(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	filter := repository.DistributionLogFilter{
		TenantID: tenantID,
		From:     parseTime(c.Query("from")),
		To:       parseTime(c.Query("to")),
	}
	if queueID := c.Query("queue_id"); queueID != "" {
		filter.QueueID = &queueID
	}
	if agentID := c.Query("agent_id"); agentID != "" {
		filter.AgentID = &agentID
	}
	filter.Limit, filter.Offset = parsePage(c, 50)

	entries, err := h.tickets.ListDistributionLog(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDistributionLogResponses(entries)})
}

// SlaEvents GET /sla/events.
func (h *AuditHandler) SlaEvents(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	filter := repository.SlaEventFilter{
		TenantID: tenantID,
		From:     parseTime(c.Query("from")),
		To:       parseTime(c.Query("to")),
	}
	if typeStr := c.Query("event_type"); typeStr != "" {
		for _, part := range strings.Split(typeStr, ",") {
			filter.EventTypes = append(filter.EventTypes, domain.SlaEventType(strings.TrimSpace(part)))
		}
	}
	filter.Limit, filter.Offset = parsePage(c, 50)

	list, err := h.sla.ListEvents(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSlaEventResponses(list)})
}

// SlaMetrics GET /sla/metrics.
func (h *AuditHandler) SlaMetrics(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	report, err := h.sla.Report(c.UserContext(), tenantID, parseTime(c.Query("from")), parseTime(c.Query("to")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewComplianceReportResponse(report)})
}
