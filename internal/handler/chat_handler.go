package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/middleware"
	"github.com/noah-isme/gema-chat-api/internal/service"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// ChatHandler wires the realtime websocket endpoint and presence queries.
type ChatHandler struct {
	service service.ChatService
	logger  zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(service service.ChatService, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds the websocket route under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Use("/ws", middleware.WithAuth(func(c *fiber.Ctx) error {
		// The fasthttp request context is recycled once the connection is hijacked.
		c.Locals("request_ctx", middleware.ContextWithCorrelation(context.Background(), middleware.GetCorrelationID(c)))
		return c.Next()
	}, middleware.AuthOptions{RequireUpgrade: true}))

	router.Get("/ws", websocket.New(h.handleConnection))
}

// RegisterPresence binds the online-users query.
func (h *ChatHandler) RegisterPresence(router fiber.Router) {
	router.Get("/online", h.online)
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	correlation, _ := conn.Locals(middleware.LocalCorrelationID).(string)
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ChatConnectionOptions{
		UserID:        userID,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Str("correlation_id", correlation).Msg("chat websocket connected")
	h.service.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Str("correlation_id", correlation).Msg("chat websocket disconnected")
}

func (h *ChatHandler) online(c *fiber.Ctx) error {
	users := h.service.OnlineUsers()
	return utils.SendSuccess(c, "online users", dto.OnlineUsersPayload{Users: users})
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v)
		case fmt.Stringer:
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}
