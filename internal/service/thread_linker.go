package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

// ThreadLink is where a new reply lands: under RootID at Depth.
type ThreadLink struct {
	ParentID string
	RootID   string
	Depth    int
}

// ThreadLinker flattens reply chains onto their root message.
type ThreadLinker struct {
	messages repository.MessageRepository
}

// NewThreadLinker constructs a thread linker.
func NewThreadLinker(messages repository.MessageRepository) *ThreadLinker {
	return &ThreadLinker{messages: messages}
}

// Resolve computes the thread placement of a reply to parentID and returns the parent.
func (l *ThreadLinker) Resolve(ctx context.Context, parentID string) (ThreadLink, models.Message, error) {
	parent, err := l.messages.FindByID(ctx, parentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ThreadLink{}, models.Message{}, ErrMessageNotFound
		}
		return ThreadLink{}, models.Message{}, err
	}

	return ThreadLink{
		ParentID: parent.ID,
		RootID:   parent.RootID(),
		Depth:    parent.ThreadDepth + 1,
	}, parent, nil
}

// Apply stamps the link onto a message before it is persisted.
func (l ThreadLink) Apply(message *models.Message) {
	parentID := l.ParentID
	rootID := l.RootID
	message.ReplyTo = &parentID
	message.ThreadID = &rootID
	message.ThreadDepth = l.Depth
}

// Thread returns the root of the thread containing messageID and every reply in creation order.
func (l *ThreadLinker) Thread(ctx context.Context, message models.Message) (models.Message, []models.Message, error) {
	rootID := message.RootID()
	entries, err := l.messages.ListThread(ctx, rootID)
	if err != nil {
		return models.Message{}, nil, err
	}

	var root models.Message
	replies := make([]models.Message, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == rootID {
			root = entry
			continue
		}
		replies = append(replies, entry)
	}
	if root.ID == "" {
		return models.Message{}, nil, ErrMessageNotFound
	}
	return root, replies, nil
}
