package dto

import (
	"time"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// UserSummary is the public projection of a chat participant.
type UserSummary struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Online      bool       `json:"online"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// NewUserSummary converts a user row, falling back to the bare id when the row is unknown.
func NewUserSummary(id string, user *models.User) UserSummary {
	if user == nil {
		return UserSummary{ID: id}
	}
	return UserSummary{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Online:      user.Online,
		LastSeen:    user.LastSeen,
	}
}

// SendMessageRequest is the inbound payload for a new message over HTTP or the socket.
type SendMessageRequest struct {
	ReceiverID     string `json:"receiver_id" validate:"omitempty,max=64"`
	GroupID        string `json:"group_id" validate:"omitempty,max=36"`
	Content        string `json:"content" validate:"max=4000"`
	AttachmentURL  string `json:"attachment_url" validate:"omitempty,url,max=512"`
	AttachmentType string `json:"attachment_type" validate:"omitempty,max=128"`
	ReplyTo        string `json:"reply_to" validate:"omitempty,max=36"`
	ThreadID       string `json:"thread_id" validate:"omitempty,max=36"`
}

// EditMessageRequest replaces the text content of an owned message.
type EditMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// HistoryQuery pages backwards through a conversation.
type HistoryQuery struct {
	Before *time.Time `json:"before,omitempty"`
	Limit  int        `json:"limit" validate:"omitempty,min=1,max=100"`
}

// SearchQuery filters messages visible to the caller.
type SearchQuery struct {
	Text     string     `json:"q" validate:"max=200"`
	SenderID string     `json:"sender_id" validate:"omitempty,max=64"`
	Type     string     `json:"type" validate:"omitempty,oneof=text image audio file"`
	PeerID   string     `json:"peer_id" validate:"omitempty,max=64"`
	GroupID  string     `json:"group_id" validate:"omitempty,max=36"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Limit    int        `json:"limit" validate:"omitempty,min=1,max=100"`
}

// MessageResponse is the sender-expanded message returned to clients.
type MessageResponse struct {
	ID             string                 `json:"id"`
	SenderID       string                 `json:"sender_id"`
	Sender         UserSummary            `json:"sender"`
	ReceiverID     *string                `json:"receiver_id,omitempty"`
	GroupID        *string                `json:"group_id,omitempty"`
	Content        string                 `json:"content"`
	Type           string                 `json:"type"`
	AttachmentURL  string                 `json:"attachment_url,omitempty"`
	AttachmentType string                 `json:"attachment_type,omitempty"`
	ReplyTo        *string                `json:"reply_to,omitempty"`
	ThreadID       *string                `json:"thread_id,omitempty"`
	ThreadReplies  []string               `json:"thread_replies"`
	ThreadDepth    int                    `json:"thread_depth"`
	Status         string                 `json:"status"`
	ReadBy         []models.ReadReceipt   `json:"read_by"`
	Reactions      []models.ReactionGroup `json:"reactions"`
	IsEdited       bool                   `json:"is_edited"`
	IsDeleted      bool                   `json:"is_deleted"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// NewMessageResponse maps a persisted message and its sender into a response.
func NewMessageResponse(message models.Message, sender *models.User) MessageResponse {
	replies := []string(message.ThreadReplies)
	if replies == nil {
		replies = []string{}
	}
	readBy := []models.ReadReceipt(message.ReadBy)
	if readBy == nil {
		readBy = []models.ReadReceipt{}
	}
	reactions := []models.ReactionGroup(message.Reactions)
	if reactions == nil {
		reactions = []models.ReactionGroup{}
	}

	return MessageResponse{
		ID:             message.ID,
		SenderID:       message.SenderID,
		Sender:         NewUserSummary(message.SenderID, sender),
		ReceiverID:     message.ReceiverID,
		GroupID:        message.GroupID,
		Content:        message.Content,
		Type:           message.Type,
		AttachmentURL:  message.AttachmentURL,
		AttachmentType: message.AttachmentType,
		ReplyTo:        message.ReplyTo,
		ThreadID:       message.ThreadID,
		ThreadReplies:  replies,
		ThreadDepth:    message.ThreadDepth,
		Status:         string(message.Status),
		ReadBy:         readBy,
		Reactions:      reactions,
		IsEdited:       message.IsEdited,
		IsDeleted:      message.IsDeleted,
		CreatedAt:      message.CreatedAt,
		UpdatedAt:      message.UpdatedAt,
	}
}

// NewMessageResponseSlice maps messages, expanding senders from the lookup table.
func NewMessageResponseSlice(messages []models.Message, senders map[string]models.User) []MessageResponse {
	result := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		var sender *models.User
		if user, ok := senders[message.SenderID]; ok {
			u := user
			sender = &u
		}
		result = append(result, NewMessageResponse(message, sender))
	}
	return result
}

// ThreadResponse holds a thread root and its flattened replies.
type ThreadResponse struct {
	Root    MessageResponse   `json:"root"`
	Replies []MessageResponse `json:"replies"`
}

// DeliveryResponse reports the outcome of a delivered acknowledgement.
type DeliveryResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Changed   bool   `json:"changed"`
}

// ReadResponse lists the messages newly marked read by a bulk transition.
type ReadResponse struct {
	ReaderID   string   `json:"reader_id"`
	PeerID     string   `json:"peer_id,omitempty"`
	GroupID    string   `json:"group_id,omitempty"`
	MessageIDs []string `json:"message_ids"`
	Count      int      `json:"count"`
}

// ReactionRequest toggles a single emoji.
type ReactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

// ReactionsResponse is the denormalized reaction summary of a message.
type ReactionsResponse struct {
	MessageID string                 `json:"message_id"`
	Action    string                 `json:"action,omitempty"`
	Emoji     string                 `json:"emoji,omitempty"`
	Reactions []models.ReactionGroup `json:"reactions"`
}
