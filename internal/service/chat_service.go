package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/middleware"
	"github.com/noah-isme/gema-chat-api/internal/observability"
)

const chatPingInterval = 30 * time.Second

// Error codes reported to socket clients.
const (
	ChatErrorValidation  = "validation_error"
	ChatErrorNotFound    = "not_found"
	ChatErrorForbidden   = "forbidden"
	ChatErrorConflict    = "conflict"
	ChatErrorRateLimited = "rate_limited"
	ChatErrorInternal    = "internal_error"
)

// ChatConnection is the subset of a websocket connection the chat loop uses.
type ChatConnection interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	UserID        string
	CorrelationID string
	Context       context.Context
}

// ChatService runs one realtime session per websocket connection.
type ChatService interface {
	ServeConnection(conn ChatConnection, opts ChatConnectionOptions)
	OnlineUsers() []string
}

// ChatServiceDeps collects the collaborators of the realtime session loop.
type ChatServiceDeps struct {
	Hub        *ChatHub
	Presence   PresenceService
	Dispatcher *Dispatcher
	Messages   MessageService
	Delivery   DeliveryService
	Reactions  ReactionService
	Groups     GroupService
	Validator  *validator.Validate
	EventRate  float64
	EventBurst int
}

type chatService struct {
	deps   ChatServiceDeps
	logger zerolog.Logger
}

// NewChatService creates the realtime session service.
func NewChatService(deps ChatServiceDeps, logger zerolog.Logger) ChatService {
	if deps.EventRate <= 0 {
		deps.EventRate = 20
	}
	if deps.EventBurst <= 0 {
		deps.EventBurst = 40
	}
	return &chatService{
		deps:   deps,
		logger: logger.With().Str("component", "chat_service").Logger(),
	}
}

type chatSession struct {
	service *chatService
	conn    ChatConnection
	session Session
	events  <-chan dto.ServerEvent
	limiter *rate.Limiter
	ctx     context.Context
	closed  chan struct{}
	once    sync.Once
	logger  zerolog.Logger
}

func (s *chatService) OnlineUsers() []string {
	return s.deps.Presence.OnlineUsers()
}

// ServeConnection registers the connection, then blocks in the read loop until the client goes away.
func (s *chatService) ServeConnection(conn ChatConnection, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	correlation := opts.CorrelationID
	if correlation == "" {
		correlation = middleware.CorrelationIDFromContext(baseCtx)
	}
	baseCtx = middleware.ContextWithCorrelation(baseCtx, correlation)

	session := Session{UserID: opts.UserID, ConnectionID: uuid.NewString()}
	client := &chatSession{
		service: s,
		conn:    conn,
		session: session,
		limiter: rate.NewLimiter(rate.Limit(s.deps.EventRate), s.deps.EventBurst),
		ctx:     baseCtx,
		closed:  make(chan struct{}),
		logger: s.logger.With().
			Str("user_id", session.UserID).
			Str("connection_id", session.ConnectionID).
			Str("correlation_id", correlation).
			Logger(),
	}

	client.events = s.deps.Hub.Attach(session.ConnectionID, session.UserID)
	s.deps.Presence.Register(baseCtx, session)

	go client.writer()
	client.reader()
}

func (c *chatSession) reader() {
	defer c.close()

	for {
		var event dto.ClientEvent
		if err := c.conn.ReadJSON(&event); err != nil {
			c.logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}

		select {
		case <-c.closed:
			return
		default:
		}

		if !c.limiter.Allow() {
			observability.ChatRateLimited().Inc()
			c.replyError(event, ChatErrorRateLimited, "too many events")
			continue
		}

		c.dispatch(event)
	}
}

func (c *chatSession) writer() {
	defer c.close()

	ticker := time.NewTicker(chatPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-c.events:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.logger.Debug().Err(err).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *chatSession) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.deps.Presence.Deregister(context.Background(), c.session)
		c.service.deps.Hub.Detach(c.session.ConnectionID)
		_ = c.conn.Close()
	})
}

func (c *chatSession) dispatch(event dto.ClientEvent) {
	var (
		result interface{}
		err    error
		reply  = true
	)

	switch event.Event {
	case dto.EventJoinGroupChannel:
		result, err = c.joinGroup(event.Data)
	case dto.EventLeaveGroupChannel:
		result, err = c.leaveGroup(event.Data)
	case dto.EventTyping, dto.EventStopTyping:
		err = c.relayTyping(event.Event, event.Data)
		reply = err != nil
	case dto.EventAckDelivered:
		var payload dto.AckDeliveredPayload
		if err = c.decode(event.Data, &payload); err == nil {
			result, err = c.service.deps.Delivery.MarkDelivered(c.ctx, c.session.UserID, payload.MessageID)
		}
	case dto.EventSendMessage:
		var payload dto.SendMessageRequest
		if err = json.Unmarshal(event.Data, &payload); err != nil {
			err = ErrInvalidPayload
		} else {
			result, err = c.service.deps.Messages.Send(c.ctx, c.session.UserID, payload)
		}
	case dto.EventMarkRead:
		var payload dto.MarkReadPayload
		if err = c.decode(event.Data, &payload); err == nil {
			result, err = c.service.deps.Delivery.MarkConversationRead(c.ctx, c.session.UserID, payload.PeerID)
		}
	case dto.EventMarkGroupRead:
		var payload dto.GroupChannelPayload
		if err = c.decode(event.Data, &payload); err == nil {
			result, err = c.service.deps.Delivery.MarkGroupRead(c.ctx, c.session.UserID, payload.GroupID)
		}
	case dto.EventToggleReaction:
		var payload dto.ToggleReactionPayload
		if err = c.decode(event.Data, &payload); err == nil {
			result, err = c.service.deps.Reactions.Toggle(c.ctx, c.session.UserID, payload.MessageID, payload.Emoji)
		}
	default:
		err = ErrUnknownEvent
	}

	if err != nil {
		code := realtimeErrorCode(err)
		if code == ChatErrorInternal {
			c.logger.Error().Err(err).Str("event", event.Event).Msg("realtime action failed")
			c.replyError(event, code, "internal server error")
			return
		}
		c.replyError(event, code, err.Error())
		return
	}
	if reply {
		c.service.deps.Hub.SendToConnection(c.session.ConnectionID, dto.ServerEvent{
			Event: dto.EventAck,
			Data:  dto.AckPayload{RequestID: event.RequestID, Event: event.Event, Result: result},
		})
	}
}

func (c *chatSession) decode(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return ErrInvalidPayload
	}
	return c.service.deps.Validator.Struct(target)
}

func (c *chatSession) joinGroup(raw json.RawMessage) (interface{}, error) {
	var payload dto.GroupChannelPayload
	if err := c.decode(raw, &payload); err != nil {
		return nil, err
	}
	if err := c.service.deps.Groups.Authorize(c.ctx, c.session.UserID, payload.GroupID); err != nil {
		return nil, err
	}
	channel := GroupChannel(payload.GroupID)
	if !c.service.deps.Hub.Subscribe(c.ctx, c.session.ConnectionID, channel) {
		return nil, errors.New("connection is no longer attached")
	}
	return payload, nil
}

func (c *chatSession) leaveGroup(raw json.RawMessage) (interface{}, error) {
	var payload dto.GroupChannelPayload
	if err := c.decode(raw, &payload); err != nil {
		return nil, err
	}
	channel := GroupChannel(payload.GroupID)
	c.service.deps.Hub.Unsubscribe(c.session.ConnectionID, channel)
	return payload, nil
}

// relayTyping forwards a typing indicator. Group indicators require a joined channel.
func (c *chatSession) relayTyping(name string, raw json.RawMessage) error {
	var payload dto.TypingPayload
	if err := c.decode(raw, &payload); err != nil {
		return err
	}
	payload.SenderID = c.session.UserID
	payload.ReceiverID = strings.TrimSpace(payload.ReceiverID)
	payload.GroupID = strings.TrimSpace(payload.GroupID)
	if _, err := ResolveTarget(payload.ReceiverID, payload.GroupID); err != nil {
		return err
	}

	event := dto.ServerEvent{Event: name, Data: payload}
	if payload.GroupID != "" {
		if !c.service.deps.Hub.IsSubscribed(c.session.ConnectionID, GroupChannel(payload.GroupID)) {
			return ErrNotAMember
		}
		c.service.deps.Dispatcher.ToGroup(c.ctx, payload.GroupID, event)
		return nil
	}
	c.service.deps.Dispatcher.ToUser(payload.ReceiverID, event)
	return nil
}

func (c *chatSession) replyError(event dto.ClientEvent, code, message string) {
	c.service.deps.Hub.SendToConnection(c.session.ConnectionID, dto.ServerEvent{
		Event: dto.EventError,
		Data: dto.ErrorPayload{
			RequestID: event.RequestID,
			Event:     event.Event,
			Code:      code,
			Message:   message,
		},
	})
}

func realtimeErrorCode(err error) string {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs), errors.Is(err, ErrValidation):
		return ChatErrorValidation
	case errors.Is(err, ErrNotFound):
		return ChatErrorNotFound
	case errors.Is(err, ErrForbidden):
		return ChatErrorForbidden
	case errors.Is(err, ErrConflict):
		return ChatErrorConflict
	default:
		return ChatErrorInternal
	}
}
