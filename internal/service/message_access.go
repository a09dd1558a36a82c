package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

func loadMessage(ctx context.Context, messages repository.MessageRepository, id string) (models.Message, error) {
	message, err := messages.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Message{}, ErrMessageNotFound
		}
		return models.Message{}, err
	}
	return message, nil
}

func loadGroup(ctx context.Context, groups repository.GroupRepository, id string) (models.Group, error) {
	group, err := groups.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Group{}, ErrGroupNotFound
		}
		return models.Group{}, err
	}
	return group, nil
}

// authorizeView checks that viewerID is a participant of the message's conversation.
func authorizeView(ctx context.Context, groups repository.GroupRepository, viewerID string, message models.Message) error {
	if message.IsGroup() {
		group, err := loadGroup(ctx, groups, *message.GroupID)
		if err != nil {
			return err
		}
		if !NewMembership(&group).IsMember(viewerID) {
			return ErrNotAMember
		}
		return nil
	}

	if message.SenderID == viewerID || (message.ReceiverID != nil && *message.ReceiverID == viewerID) {
		return nil
	}
	return ErrNotParticipant
}
