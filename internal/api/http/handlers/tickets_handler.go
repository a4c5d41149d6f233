package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/routedesk/routing-engine/internal/api/dto"
	"github.com/routedesk/routing-engine/internal/auth"
	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/events"
	"github.com/routedesk/routing-engine/internal/service"
	apperrors "github.com/routedesk/routing-engine/pkg/util/errorutil"
)

// TicketsHandler manages ticket intake and lifecycle endpoints.
type TicketsHandler struct {
	service *service.TicketService
	sla     *service.SlaTracker
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, slaTracker *service.SlaTracker) *TicketsHandler {
	return &TicketsHandler{service: ticketService, sla: slaTracker}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	tenantID, actor, err := callerOf(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.QueueID) == "" {
		return apperrors.NewValidationError("queue_id required", nil)
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), tenantID, actor, service.TicketCreateInput{
		QueueID:       req.QueueID,
		Priority:      req.Priority,
		Channel:       req.Channel,
		RequiredSkill: req.RequiredSkill,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.ListTickets(c.UserContext(), tenantID, parseTicketQuery(c))
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// Transition POST /tickets/:id/transition.
func (h *TicketsHandler) Transition(c *fiber.Ctx) error {
	tenantID, actor, err := callerOf(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Action == "" {
		return apperrors.NewValidationError("action required", nil)
	}
	ticket, err := h.service.Transition(c.UserContext(), tenantID, c.Params("id"), actor, service.TransitionInput{
		Action: service.TransitionAction(req.Action),
		Status: strings.TrimSpace(req.Status),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// Reassign POST /tickets/:id/reassign.
func (h *TicketsHandler) Reassign(c *fiber.Ctx) error {
	tenantID, actor, err := callerOf(c)
	if err != nil {
		return err
	}
	var req dto.ReassignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return apperrors.NewValidationError("agent_id required", nil)
	}
	ticket, err := h.service.ReassignTicket(c.UserContext(), tenantID, c.Params("id"), req.AgentID, actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// DistributionLog GET /tickets/:id/distribution-log.
func (h *TicketsHandler) DistributionLog(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	entries, err := h.service.DistributionLog(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDistributionLogResponses(entries)})
}

// SlaSnapshot GET /tickets/:id/sla.
func (h *TicketsHandler) SlaSnapshot(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	snapshot, err := h.sla.Snapshot(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSlaSnapshotResponse(snapshot)})
}

// SlaEvents GET /tickets/:id/sla-events.
func (h *TicketsHandler) SlaEvents(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	list, err := h.sla.Events(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSlaEventResponses(list)})
}

// callerOf resolves the tenant and the acting principal of the request.
func callerOf(c *fiber.Ctx) (string, events.Actor, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.TenantID == "" {
		return "", events.Actor{}, apperrors.NewTenantRequired()
	}
	actor := events.Actor{Subject: principal.Subject}
	switch principal.Role {
	case auth.RoleAdmin:
		actor.Type = events.ActorAdmin
	case auth.RoleService:
		actor.Type = events.ActorService
	default:
		actor.Type = events.ActorAgent
	}
	return principal.TenantID, actor, nil
}

func parseTicketQuery(c *fiber.Ctx) service.TicketListFilter {
	filter := service.TicketListFilter{}
	if queueID := c.Query("queue_id"); queueID != "" {
		filter.QueueID = &queueID
	}
	if agentID := c.Query("agent_id"); agentID != "" {
		filter.AgentID = &agentID
	}
	if classStr := c.Query("status_class"); classStr != "" {
		for _, part := range strings.Split(classStr, ",") {
			filter.StatusClasses = append(filter.StatusClasses, domain.StatusClass(strings.TrimSpace(part)))
		}
	}
	filter.CreatedFrom = parseTime(c.Query("created_from"))
	filter.CreatedTo = parseTime(c.Query("created_to"))
	filter.Limit, filter.Offset = parsePage(c, 20)
	return filter
}

func parsePage(c *fiber.Ctx, defaultSize int) (limit, offset int) {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), defaultSize)
	return pageSize, (page - 1) * pageSize
}

func parseTime(val string) *time.Time {
	if val == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil
	}
	return &t
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
