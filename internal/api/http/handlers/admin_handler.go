package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/routedesk/routing-engine/internal/api/dto"
	"github.com/routedesk/routing-engine/internal/auth"
	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/service"
	apperrors "github.com/routedesk/routing-engine/pkg/util/errorutil"
)

// AdminHandler exposes routing and SLA configuration for tenant administrators.
type AdminHandler struct {
	config *service.ConfigService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(configService *service.ConfigService) *AdminHandler {
	return &AdminHandler{config: configService}
}

// CreateQueue POST /admin/queues.
func (h *AdminHandler) CreateQueue(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	var req dto.QueueRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	queue, err := h.config.CreateQueue(c.UserContext(), tenantID, queueInput(req))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewQueueResponse(queue)})
}

// ListQueues GET /admin/queues.
func (h *AdminHandler) ListQueues(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	queues, err := h.config.ListQueues(c.UserContext(), tenantID)
	if err != nil {
		return err
	}
	items := make([]dto.QueueResponse, 0, len(queues))
	for i := range queues {
		items = append(items, dto.NewQueueResponse(&queues[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetQueue GET /admin/queues/:id.
func (h *AdminHandler) GetQueue(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	queue, err := h.config.GetQueue(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewQueueResponse(queue)})
}

// UpdateQueue PUT /admin/queues/:id.
func (h *AdminHandler) UpdateQueue(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	var req dto.QueueRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	queue, err := h.config.UpdateQueue(c.UserContext(), tenantID, c.Params("id"), queueInput(req))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewQueueResponse(queue)})
}

// ListMembers GET /admin/queues/:id/members.
func (h *AdminHandler) ListMembers(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	members, err := h.config.ListMembers(c.UserContext(), tenantID, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.MemberResponse, 0, len(members))
	for i := range members {
		items = append(items, dto.NewMemberResponse(&members[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// UpsertMember PUT /admin/queues/:id/members/:agentId.
func (h *AdminHandler) UpsertMember(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	var req dto.MemberRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	member, err := h.config.UpsertMember(c.UserContext(), tenantID, c.Params("id"), c.Params("agentId"), service.MemberInput{
		CapacityOverride: req.CapacityOverride,
		Priority:         req.Priority,
		Active:           req.Active,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewMemberResponse(member)})
}

// RemoveMember DELETE /admin/queues/:id/members/:agentId.
func (h *AdminHandler) RemoveMember(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	if err := h.config.RemoveMember(c.UserContext(), tenantID, c.Params("id"), c.Params("agentId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// CreateAgent POST /admin/agents.
func (h *AdminHandler) CreateAgent(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	var req dto.AgentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	agent, err := h.config.CreateAgent(c.UserContext(), tenantID, service.AgentInput{
		ID:          req.ID,
		Name:        req.Name,
		MaxCapacity: req.MaxCapacity,
		Status:      req.Status,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewAgentResponse(agent)})
}

// ListAgents GET /admin/agents.
func (h *AdminHandler) ListAgents(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	agents, err := h.config.ListAgents(c.UserContext(), tenantID)
	if err != nil {
		return err
	}
	items := make([]dto.AgentResponse, 0, len(agents))
	for i := range agents {
		items = append(items, dto.NewAgentResponse(&agents[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// UpdateAgentCapacity PUT /admin/agents/:id/capacity.
func (h *AdminHandler) UpdateAgentCapacity(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	var req dto.AgentCapacityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	agent, err := h.config.UpdateAgentCapacity(c.UserContext(), tenantID, c.Params("id"), req.MaxCapacity)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAgentResponse(agent)})
}

// ReplaceSkills PUT /admin/agents/:id/skills.
func (h *AdminHandler) ReplaceSkills(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	var req dto.SkillsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	input := make([]service.SkillInput, 0, len(req.Skills))
	for _, s := range req.Skills {
		input = append(input, service.SkillInput{Skill: s.Skill, Level: s.Level, Active: s.Active})
	}
	skills, err := h.config.ReplaceSkills(c.UserContext(), tenantID, c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSkillResponses(skills)})
}

// CreatePolicy POST /admin/sla-policies.
func (h *AdminHandler) CreatePolicy(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	var req dto.PolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	policy, err := h.config.CreatePolicy(c.UserContext(), tenantID, policyInput(req))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewPolicyResponse(policy)})
}

// UpdatePolicy PUT /admin/sla-policies/:id.
func (h *AdminHandler) UpdatePolicy(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	var req dto.PolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	policy, err := h.config.UpdatePolicy(c.UserContext(), tenantID, c.Params("id"), policyInput(req))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewPolicyResponse(policy)})
}

// ListPolicies GET /admin/sla-policies.
func (h *AdminHandler) ListPolicies(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	policies, err := h.config.ListPolicies(c.UserContext(), tenantID)
	if err != nil {
		return err
	}
	items := make([]dto.PolicyResponse, 0, len(policies))
	for i := range policies {
		items = append(items, dto.NewPolicyResponse(&policies[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// UpsertStatuses PUT /admin/statuses.
func (h *AdminHandler) UpsertStatuses(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	var req dto.StatusesRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	defs := make([]domain.StatusDefinition, 0, len(req.Statuses))
	for _, s := range req.Statuses {
		defs = append(defs, domain.StatusDefinition{Name: s.Name, Class: s.Class})
	}
	saved, err := h.config.UpsertStatuses(c.UserContext(), tenantID, defs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewStatusDefinitions(saved)})
}

// ListStatuses GET /admin/statuses.
func (h *AdminHandler) ListStatuses(c *fiber.Ctx) error {
	tenantID, err := auth.TenantFromContext(c)
	if err != nil {
		return err
	}
	defs, err := h.config.ListStatuses(c.UserContext(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewStatusDefinitions(defs)})
}

func queueInput(req dto.QueueRequest) service.QueueInput {
	return service.QueueInput{
		Name:                    req.Name,
		Algorithm:               req.Algorithm,
		Active:                  req.Active,
		DefaultCapacityPerAgent: req.DefaultCapacityPerAgent,
		AutoDistribution:        req.AutoDistribution,
		ConsiderSkills:          req.ConsiderSkills,
		PrioritizeOnline:        req.PrioritizeOnline,
		TimeoutMinutes:          req.TimeoutMinutes,
		AllowOverflow:           req.AllowOverflow,
		OverflowQueueID:         req.OverflowQueueID,
	}
}

func policyInput(req dto.PolicyRequest) service.PolicyInput {
	return service.PolicyInput{
		Name:                  req.Name,
		Priority:              req.Priority,
		Channel:               req.Channel,
		ResponseTimeMinutes:   req.ResponseTimeMinutes,
		ResolutionTimeMinutes: req.ResolutionTimeMinutes,
		BusinessHours:         req.BusinessHours,
		AlertThresholdPercent: req.AlertThresholdPercent,
		NotifyEmail:           req.NotifyEmail,
		NotifySystem:          req.NotifySystem,
		Active:                req.Active,
	}
}
