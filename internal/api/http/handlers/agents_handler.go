package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/routedesk/routing-engine/internal/api/dto"
	"github.com/routedesk/routing-engine/internal/service"
	apperrors "github.com/routedesk/routing-engine/pkg/util/errorutil"
)

// AgentsHandler receives presence updates from the presence collaborator.
type AgentsHandler struct {
	tickets *service.TicketService
}

// NewAgentsHandler constructs handler.
func NewAgentsHandler(ticketService *service.TicketService) *AgentsHandler {
	return &AgentsHandler{tickets: ticketService}
}

// SetStatus PUT /agents/:id/status.
func (h *AgentsHandler) SetStatus(c *fiber.Ctx) error {
	tenantID, actor, err := callerOf(c)
	if err != nil {
		return err
	}
	var req dto.AgentStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if !req.Status.Valid() {
		return apperrors.NewValidationError("invalid agent status", map[string]any{"status": req.Status})
	}
	agent, err := h.tickets.SetAgentStatus(c.UserContext(), tenantID, c.Params("id"), req.Status, actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAgentResponse(agent)})
}
