package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/observability"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

// Reaction actions reported by Toggle.
const (
	ReactionAdded   = "added"
	ReactionRemoved = "removed"
)

// AllowedReactions is the fixed emoji set.
var AllowedReactions = []string{"👍", "❤️", "😂", "😮", "😢", "😡", "🎉", "🔥"}

// ReactionService toggles per-user emoji reactions and keeps the message summary in sync.
type ReactionService interface {
	Toggle(ctx context.Context, userID, messageID, emoji string) (dto.ReactionsResponse, error)
	List(ctx context.Context, userID, messageID string) (dto.ReactionsResponse, error)
}

type reactionService struct {
	messages   repository.MessageRepository
	reactions  repository.ReactionRepository
	groups     repository.GroupRepository
	dispatcher *Dispatcher
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewReactionService constructs the reaction aggregator.
func NewReactionService(messages repository.MessageRepository, reactions repository.ReactionRepository, groups repository.GroupRepository, dispatcher *Dispatcher, logger zerolog.Logger) ReactionService {
	return &reactionService{
		messages:   messages,
		reactions:  reactions,
		groups:     groups,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "reaction_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-chat-api/internal/service/reaction"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *reactionService) Toggle(ctx context.Context, userID, messageID, emoji string) (dto.ReactionsResponse, error) {
	emoji = strings.TrimSpace(emoji)
	if !isAllowedReaction(emoji) {
		return dto.ReactionsResponse{}, ErrInvalidEmoji
	}

	ctx, span := s.tracer.Start(ctx, "reaction.toggle", trace.WithAttributes(
		attribute.String("chat.message_id", messageID),
		attribute.String("chat.user_id", userID),
	))
	defer span.End()

	message, err := loadMessage(ctx, s.messages, messageID)
	if err != nil {
		return dto.ReactionsResponse{}, err
	}
	if err := authorizeView(ctx, s.groups, userID, message); err != nil {
		return dto.ReactionsResponse{}, err
	}
	if message.IsDeleted {
		return dto.ReactionsResponse{}, ErrMessageDeleted
	}

	action, summary, changed, err := s.applyToggle(ctx, message, userID, emoji)
	if err != nil {
		span.RecordError(err)
		return dto.ReactionsResponse{}, err
	}

	if changed {
		if err := s.messages.UpdateReactions(ctx, message.ID, summary); err != nil {
			span.RecordError(err)
			return dto.ReactionsResponse{}, fmt.Errorf("update reaction summary: %w", err)
		}
		observability.ChatReactionToggles().WithLabelValues(action).Inc()
		s.notify(ctx, message, summary)
	}

	return dto.ReactionsResponse{MessageID: message.ID, Action: action, Emoji: emoji, Reactions: summary}, nil
}

// applyToggle flips the ledger row and derives the new summary. changed is false when a
// concurrent toggle from the same actor already inserted the row.
func (s *reactionService) applyToggle(ctx context.Context, message models.Message, userID, emoji string) (string, []models.ReactionGroup, bool, error) {
	current := []models.ReactionGroup(message.Reactions)

	_, err := s.reactions.Find(ctx, message.ID, userID, emoji)
	switch {
	case err == nil:
		if _, err := s.reactions.Delete(ctx, message.ID, userID, emoji); err != nil {
			return "", nil, false, fmt.Errorf("delete reaction: %w", err)
		}
		return ReactionRemoved, removeReaction(current, emoji, userID), true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		created, err := s.reactions.Create(ctx, &models.Reaction{
			MessageID: message.ID,
			UserID:    userID,
			Emoji:     emoji,
			CreatedAt: s.now(),
		})
		if err != nil {
			return "", nil, false, fmt.Errorf("create reaction: %w", err)
		}
		if !created {
			s.logger.Debug().Str("message_id", message.ID).Str("user_id", userID).Msg("reaction already recorded by a concurrent toggle")
			return ReactionAdded, normalizeReactions(current), false, nil
		}
		return ReactionAdded, addReaction(current, emoji, userID), true, nil
	default:
		return "", nil, false, fmt.Errorf("lookup reaction: %w", err)
	}
}

func (s *reactionService) notify(ctx context.Context, message models.Message, summary []models.ReactionGroup) {
	payload := dto.ReactionsUpdatedPayload{MessageID: message.ID, Reactions: summary}
	if message.IsGroup() {
		payload.GroupID = *message.GroupID
		s.dispatcher.ToGroup(ctx, *message.GroupID, dto.ServerEvent{Event: dto.EventReactionsUpdated, Data: payload})
		return
	}

	event := dto.ServerEvent{Event: dto.EventReactionsUpdated, Data: payload}
	s.dispatcher.ToUser(message.SenderID, event)
	if message.ReceiverID != nil {
		s.dispatcher.ToUser(*message.ReceiverID, event)
	}
}

func (s *reactionService) List(ctx context.Context, userID, messageID string) (dto.ReactionsResponse, error) {
	message, err := loadMessage(ctx, s.messages, messageID)
	if err != nil {
		return dto.ReactionsResponse{}, err
	}
	if err := authorizeView(ctx, s.groups, userID, message); err != nil {
		return dto.ReactionsResponse{}, err
	}
	return dto.ReactionsResponse{MessageID: message.ID, Reactions: normalizeReactions(message.Reactions)}, nil
}

func isAllowedReaction(emoji string) bool {
	for _, allowed := range AllowedReactions {
		if allowed == emoji {
			return true
		}
	}
	return false
}

// addReaction returns a copy of groups with userID added under emoji.
func addReaction(groups []models.ReactionGroup, emoji, userID string) []models.ReactionGroup {
	result := cloneReactions(groups)
	for i := range result {
		if result[i].Emoji != emoji {
			continue
		}
		if !containsString(result[i].Users, userID) {
			result[i].Users = append(result[i].Users, userID)
		}
		result[i].Count = len(result[i].Users)
		return result
	}
	return append(result, models.ReactionGroup{Emoji: emoji, Users: []string{userID}, Count: 1})
}

// removeReaction returns a copy of groups without userID under emoji. Empty groups are dropped.
func removeReaction(groups []models.ReactionGroup, emoji, userID string) []models.ReactionGroup {
	result := make([]models.ReactionGroup, 0, len(groups))
	for _, group := range cloneReactions(groups) {
		if group.Emoji == emoji {
			users := make([]string, 0, len(group.Users))
			for _, user := range group.Users {
				if user != userID {
					users = append(users, user)
				}
			}
			group.Users = users
			group.Count = len(users)
		}
		if group.Count > 0 {
			result = append(result, group)
		}
	}
	return result
}

func cloneReactions(groups []models.ReactionGroup) []models.ReactionGroup {
	result := make([]models.ReactionGroup, 0, len(groups))
	for _, group := range groups {
		users := append([]string(nil), group.Users...)
		result = append(result, models.ReactionGroup{Emoji: group.Emoji, Users: users, Count: len(users)})
	}
	return result
}

func normalizeReactions(groups []models.ReactionGroup) []models.ReactionGroup {
	return removeReaction(groups, "", "")
}
