package dto

import (
	"encoding/json"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// Server to client event names.
const (
	EventOnlineUsers       = "onlineUsers"
	EventNewMessage        = "newMessage"
	EventNewGroupMessage   = "newGroupMessage"
	EventMessageUpdated    = "messageUpdated"
	EventThreadReplyAdded  = "threadReplyAdded"
	EventReactionsUpdated  = "reactionsUpdated"
	EventMessageDelivered  = "messageDelivered"
	EventMessagesRead      = "messagesRead"
	EventMemberAdded       = "memberAdded"
	EventMemberRemoved     = "memberRemoved"
	EventMemberRoleUpdated = "memberRoleUpdated"
	EventMemberLeft        = "memberLeft"
	EventGroupDeleted      = "groupDeleted"
	EventAck               = "ack"
	EventError             = "error"
)

// Client to server event names. Typing events flow both ways.
const (
	EventJoinGroupChannel  = "joinGroupChannel"
	EventLeaveGroupChannel = "leaveGroupChannel"
	EventTyping            = "typing"
	EventStopTyping        = "stopTyping"
	EventAckDelivered      = "ackDelivered"
	EventSendMessage       = "sendMessage"
	EventMarkRead          = "markRead"
	EventMarkGroupRead     = "markGroupRead"
	EventToggleReaction    = "toggleReaction"
)

// ServerEvent is the envelope written to websocket clients.
type ServerEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ClientEvent is the envelope read from websocket clients.
type ClientEvent struct {
	Event     string          `json:"event"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// GroupChannelPayload names a group channel to join or leave.
type GroupChannelPayload struct {
	GroupID string `json:"group_id" validate:"required,max=36"`
}

// TypingPayload relays a typing indicator to a peer or a group.
type TypingPayload struct {
	SenderID   string `json:"sender_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty" validate:"omitempty,max=64"`
	GroupID    string `json:"group_id,omitempty" validate:"omitempty,max=36"`
}

// AckDeliveredPayload acknowledges receipt of one message.
type AckDeliveredPayload struct {
	MessageID  string `json:"message_id" validate:"required,max=36"`
	SenderID   string `json:"sender_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
}

// MarkReadPayload marks a direct conversation as read.
type MarkReadPayload struct {
	PeerID string `json:"peer_id" validate:"required,max=64"`
}

// ToggleReactionPayload toggles an emoji on a message.
type ToggleReactionPayload struct {
	MessageID string `json:"message_id" validate:"required,max=36"`
	Emoji     string `json:"emoji" validate:"required,max=32"`
}

// OnlineUsersPayload lists every user with a live connection.
type OnlineUsersPayload struct {
	Users []string `json:"users"`
}

// ThreadReplyPayload announces a new reply on a thread root.
type ThreadReplyPayload struct {
	ThreadID string          `json:"thread_id"`
	NewReply MessageResponse `json:"new_reply"`
}

// ReactionsUpdatedPayload carries the reaction summary after a toggle.
type ReactionsUpdatedPayload struct {
	MessageID string                 `json:"message_id"`
	GroupID   string                 `json:"group_id,omitempty"`
	Reactions []models.ReactionGroup `json:"reactions"`
}

// MessageDeliveredPayload tells a sender that a recipient received a message.
type MessageDeliveredPayload struct {
	MessageID   string `json:"message_id"`
	DeliveredTo string `json:"delivered_to"`
	Status      string `json:"status"`
}

// MessagesReadPayload tells senders which messages a reader has read.
type MessagesReadPayload struct {
	ReaderID   string   `json:"reader_id"`
	GroupID    string   `json:"group_id,omitempty"`
	MessageIDs []string `json:"message_ids"`
}

// MemberEventPayload describes a membership change.
type MemberEventPayload struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
	ActorID string `json:"actor_id,omitempty"`
	Role    string `json:"role,omitempty"`
}

// GroupDeletedPayload announces a deleted group.
type GroupDeletedPayload struct {
	GroupID string `json:"group_id"`
	ActorID string `json:"actor_id"`
}

// AckPayload answers a client action.
type AckPayload struct {
	RequestID string      `json:"request_id,omitempty"`
	Event     string      `json:"event"`
	Result    interface{} `json:"result,omitempty"`
}

// ErrorPayload reports a failed client action.
type ErrorPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Event     string `json:"event"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}
