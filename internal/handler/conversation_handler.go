package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/service"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// ConversationHandler serves direct conversation history and read receipts.
type ConversationHandler struct {
	messages service.MessageService
	delivery service.DeliveryService
	logger   zerolog.Logger
}

// NewConversationHandler constructs a conversation handler.
func NewConversationHandler(messages service.MessageService, delivery service.DeliveryService, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		messages: messages,
		delivery: delivery,
		logger:   logger.With().Str("component", "conversation_handler").Logger(),
	}
}

// Register wires conversation routes.
func (h *ConversationHandler) Register(router fiber.Router) {
	router.Get("/:userId", h.history)
	router.Post("/:userId/read", h.read)
}

func (h *ConversationHandler) history(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	query, problem := historyQueryFromRequest(c)
	if problem != "" {
		return badRequest(c, problem)
	}

	messages, err := h.messages.Conversation(requestContext(c), userID, c.Params("userId"), query)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.OK(c, messages, "conversation history", historyMeta(messages))
}

func (h *ConversationHandler) read(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	result, err := h.delivery.MarkConversationRead(requestContext(c), userID, c.Params("userId"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "conversation read", result)
}

// historyQueryFromRequest parses before/limit, returning a client-facing problem on failure.
func historyQueryFromRequest(c *fiber.Ctx) (dto.HistoryQuery, string) {
	before, err := parseQueryTime(c, "before")
	if err != nil {
		return dto.HistoryQuery{}, "invalid before timestamp"
	}
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return dto.HistoryQuery{}, "invalid limit"
	}
	return dto.HistoryQuery{Before: before, Limit: limit}, ""
}

// historyMeta exposes the cursor for the next older page.
func historyMeta(messages []dto.MessageResponse) fiber.Map {
	meta := fiber.Map{"count": len(messages)}
	if len(messages) > 0 {
		meta["next_before"] = messages[0].CreatedAt
	}
	return meta
}
