package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/service"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// GroupHandler exposes group management, membership and group message endpoints.
type GroupHandler struct {
	groups   service.GroupService
	messages service.MessageService
	delivery service.DeliveryService
	logger   zerolog.Logger
}

// NewGroupHandler constructs a group handler.
func NewGroupHandler(groups service.GroupService, messages service.MessageService, delivery service.DeliveryService, logger zerolog.Logger) *GroupHandler {
	return &GroupHandler{
		groups:   groups,
		messages: messages,
		delivery: delivery,
		logger:   logger.With().Str("component", "group_handler").Logger(),
	}
}

// Register wires group routes. The join route is registered before /:id so it never shadows.
func (h *GroupHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("", h.listMine)
	router.Post("/join/:code", h.join)
	router.Get("/:id", h.get)
	router.Patch("/:id", h.update)
	router.Delete("/:id", h.delete)
	router.Get("/:id/messages", h.history)
	router.Post("/:id/read", h.read)
	router.Post("/:id/leave", h.leave)
	router.Post("/:id/members", h.addMember)
	router.Patch("/:id/members/:userId", h.updateMemberRole)
	router.Delete("/:id/members/:userId", h.removeMember)
	router.Post("/:id/invite", h.invite)
}

func (h *GroupHandler) create(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var req dto.CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	group, err := h.groups.Create(requestContext(c), userID, req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "group created", group)
}

func (h *GroupHandler) listMine(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	groups, err := h.groups.ListMine(requestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.OK(c, groups, "groups", fiber.Map{"count": len(groups)})
}

func (h *GroupHandler) get(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	group, err := h.groups.Get(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "group", group)
}

func (h *GroupHandler) update(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var req dto.UpdateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	group, err := h.groups.Update(requestContext(c), userID, c.Params("id"), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "group updated", group)
}

func (h *GroupHandler) delete(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	if err := h.groups.Delete(requestContext(c), userID, c.Params("id")); err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "group deleted", fiber.Map{"group_id": c.Params("id")})
}

func (h *GroupHandler) history(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	query, problem := historyQueryFromRequest(c)
	if problem != "" {
		return badRequest(c, problem)
	}

	messages, err := h.messages.GroupHistory(requestContext(c), userID, c.Params("id"), query)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.OK(c, messages, "group history", historyMeta(messages))
}

func (h *GroupHandler) read(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	result, err := h.delivery.MarkGroupRead(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "group read", result)
}

func (h *GroupHandler) leave(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	group, err := h.groups.Leave(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "left group", group)
}

func (h *GroupHandler) addMember(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var req dto.AddMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	group, err := h.groups.AddMember(requestContext(c), userID, c.Params("id"), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "member added", group)
}

func (h *GroupHandler) updateMemberRole(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var req dto.UpdateMemberRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	group, err := h.groups.UpdateMemberRole(requestContext(c), userID, c.Params("id"), c.Params("userId"), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "member role updated", group)
}

func (h *GroupHandler) removeMember(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	group, err := h.groups.RemoveMember(requestContext(c), userID, c.Params("id"), c.Params("userId"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "member removed", group)
}

func (h *GroupHandler) invite(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var req dto.InviteRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	invite, err := h.groups.CreateInvite(requestContext(c), userID, c.Params("id"), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "invite created", invite)
}

func (h *GroupHandler) join(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	group, err := h.groups.JoinByInvite(requestContext(c), userID, c.Params("code"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "joined group", group)
}
