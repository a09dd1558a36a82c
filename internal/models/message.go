package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MessageStatus tracks the delivery lifecycle of a message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Rank orders statuses so transitions can only move forward.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return 0
	}
}

// Precedes reports whether moving from s to next advances the lifecycle.
func (s MessageStatus) Precedes(next MessageStatus) bool {
	return s.Rank() < next.Rank()
}

// Message types derived from the content payload.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
)

// ReadReceipt records when a reader marked a message as read.
type ReadReceipt struct {
	ReaderID string    `json:"reader_id"`
	ReadAt   time.Time `json:"read_at"`
}

// ReactionGroup is the denormalized per-emoji summary cached on a message.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// Message is a single chat payload addressed to exactly one user or one group.
type Message struct {
	ID             string                             `gorm:"primaryKey;size:36" json:"id"`
	SenderID       string                             `gorm:"size:64;not null;index" json:"sender_id"`
	ReceiverID     *string                            `gorm:"size:64;index" json:"receiver_id,omitempty"`
	GroupID        *string                            `gorm:"size:36;index" json:"group_id,omitempty"`
	Content        string                             `gorm:"type:text" json:"content"`
	Type           string                             `gorm:"size:16;not null;default:text;index" json:"type"`
	AttachmentURL  string                             `gorm:"size:512" json:"attachment_url,omitempty"`
	AttachmentType string                             `gorm:"size:128" json:"attachment_type,omitempty"`
	ReplyTo        *string                            `gorm:"size:36;index" json:"reply_to,omitempty"`
	ThreadID       *string                            `gorm:"size:36;index" json:"thread_id,omitempty"`
	ThreadReplies  datatypes.JSONSlice[string]        `json:"thread_replies"`
	ThreadDepth    int                                `gorm:"not null;default:0" json:"thread_depth"`
	Status         MessageStatus                      `gorm:"size:16;not null;default:sent;index" json:"status"`
	ReadBy         datatypes.JSONSlice[ReadReceipt]   `json:"read_by"`
	Reactions      datatypes.JSONSlice[ReactionGroup] `json:"reactions"`
	IsEdited       bool                               `gorm:"not null;default:false" json:"is_edited"`
	IsDeleted      bool                               `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt      time.Time                          `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time                          `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not supply one.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = MessageStatusSent
	}
	return nil
}

// IsGroup reports whether the message targets a group channel.
func (m Message) IsGroup() bool {
	return m.GroupID != nil && *m.GroupID != ""
}

// RootID returns the id of the thread this message belongs to, or its own id for roots.
func (m Message) RootID() string {
	if m.ThreadID != nil && *m.ThreadID != "" {
		return *m.ThreadID
	}
	return m.ID
}

// HasReader reports whether readerID already appears in the read receipts.
func (m Message) HasReader(readerID string) bool {
	for _, receipt := range m.ReadBy {
		if receipt.ReaderID == readerID {
			return true
		}
	}
	return false
}
