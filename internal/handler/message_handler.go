package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/service"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// MessageHandler exposes message lifecycle, delivery, reaction and search endpoints.
type MessageHandler struct {
	messages  service.MessageService
	delivery  service.DeliveryService
	reactions service.ReactionService
	logger    zerolog.Logger
}

// NewMessageHandler constructs a message handler.
func NewMessageHandler(messages service.MessageService, delivery service.DeliveryService, reactions service.ReactionService, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		delivery:  delivery,
		reactions: reactions,
		logger:    logger.With().Str("component", "message_handler").Logger(),
	}
}

// Register wires message routes.
func (h *MessageHandler) Register(router fiber.Router) {
	router.Post("", h.send)
	router.Get("/search", h.search)
	router.Get("/:id", h.get)
	router.Patch("/:id", h.edit)
	router.Delete("/:id", h.delete)
	router.Get("/:id/thread", h.thread)
	router.Post("/:id/delivered", h.delivered)
	router.Get("/:id/reactions", h.listReactions)
	router.Post("/:id/reactions", h.toggleReaction)
}

func (h *MessageHandler) send(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	message, err := h.messages.Send(requestContext(c), userID, req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *MessageHandler) get(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	message, err := h.messages.Get(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "message", message)
}

func (h *MessageHandler) edit(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var req dto.EditMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	message, err := h.messages.Edit(requestContext(c), userID, c.Params("id"), req)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "message updated", message)
}

func (h *MessageHandler) delete(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	message, err := h.messages.Delete(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "message deleted", message)
}

func (h *MessageHandler) thread(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	thread, err := h.messages.Thread(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "thread", thread)
}

func (h *MessageHandler) delivered(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	result, err := h.delivery.MarkDelivered(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "delivery recorded", result)
}

func (h *MessageHandler) listReactions(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	result, err := h.reactions.List(requestContext(c), userID, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "reactions", result)
}

func (h *MessageHandler) toggleReaction(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	var req dto.ReactionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	result, err := h.reactions.Toggle(requestContext(c), userID, c.Params("id"), strings.TrimSpace(req.Emoji))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "reaction "+result.Action, result)
}

func (h *MessageHandler) search(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return badRequest(c, "invalid limit")
	}
	from, err := parseQueryTime(c, "from")
	if err != nil {
		return badRequest(c, "invalid from timestamp")
	}
	to, err := parseQueryTime(c, "to")
	if err != nil {
		return badRequest(c, "invalid to timestamp")
	}

	query := dto.SearchQuery{
		Text:     strings.TrimSpace(c.Query("q")),
		SenderID: strings.TrimSpace(c.Query("sender_id")),
		Type:     strings.TrimSpace(c.Query("type")),
		PeerID:   strings.TrimSpace(c.Query("peer_id")),
		GroupID:  strings.TrimSpace(c.Query("group_id")),
		From:     from,
		To:       to,
		Limit:    limit,
	}

	messages, err := h.messages.Search(requestContext(c), userID, query)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.OK(c, messages, "search results", fiber.Map{"count": len(messages)})
}
