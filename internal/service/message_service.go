package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/observability"
	"github.com/noah-isme/gema-chat-api/internal/repository"
	"github.com/noah-isme/gema-chat-api/internal/search"
)

// MessageIndex is the full-text index used for message search.
type MessageIndex interface {
	Healthy() bool
	IndexMessage(doc search.MessageDocument) error
	DeleteMessage(id string) error
	SearchMessageIDs(q search.Query) ([]string, error)
}

// MessageService runs the delivery pipeline and the message read/edit surface.
type MessageService interface {
	Send(ctx context.Context, senderID string, req dto.SendMessageRequest) (dto.MessageResponse, error)
	Get(ctx context.Context, viewerID, messageID string) (dto.MessageResponse, error)
	Edit(ctx context.Context, actorID, messageID string, req dto.EditMessageRequest) (dto.MessageResponse, error)
	Delete(ctx context.Context, actorID, messageID string) (dto.MessageResponse, error)
	Thread(ctx context.Context, viewerID, messageID string) (dto.ThreadResponse, error)
	Conversation(ctx context.Context, viewerID, peerID string, query dto.HistoryQuery) ([]dto.MessageResponse, error)
	GroupHistory(ctx context.Context, viewerID, groupID string, query dto.HistoryQuery) ([]dto.MessageResponse, error)
	Search(ctx context.Context, viewerID string, query dto.SearchQuery) ([]dto.MessageResponse, error)
}

type messageService struct {
	messages   repository.MessageRepository
	groups     repository.GroupRepository
	users      repository.UserRepository
	threads    *ThreadLinker
	index      MessageIndex
	dispatcher *Dispatcher
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewMessageService creates the message service. index may be nil.
func NewMessageService(
	messages repository.MessageRepository,
	groups repository.GroupRepository,
	users repository.UserRepository,
	threads *ThreadLinker,
	index MessageIndex,
	dispatcher *Dispatcher,
	validate *validator.Validate,
	logger zerolog.Logger,
) MessageService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	return &messageService{
		messages:   messages,
		groups:     groups,
		users:      users,
		threads:    threads,
		index:      index,
		dispatcher: dispatcher,
		validator:  validate,
		sanitizer:  sanitizer,
		logger:     logger.With().Str("component", "message_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-chat-api/internal/service/message"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *messageService) Send(ctx context.Context, senderID string, req dto.SendMessageRequest) (dto.MessageResponse, error) {
	content := strings.TrimSpace(s.sanitizer.Sanitize(req.Content))
	attachmentURL := strings.TrimSpace(req.AttachmentURL)
	if content == "" && attachmentURL == "" {
		return dto.MessageResponse{}, ErrEmptyContent
	}

	target, err := ResolveTarget(req.ReceiverID, req.GroupID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "message.send", trace.WithAttributes(
		attribute.String("chat.sender_id", senderID),
		attribute.String("chat.target", target.kind()),
	))
	defer span.End()

	if groupTarget, ok := target.(GroupTarget); ok {
		if err := s.authorizeGroupSend(spanCtx, senderID, groupTarget.GroupID); err != nil {
			return dto.MessageResponse{}, err
		}
	}

	now := s.now()
	message := models.Message{
		SenderID:       senderID,
		Content:        content,
		Type:           messageType(attachmentURL, req.AttachmentType),
		AttachmentURL:  attachmentURL,
		AttachmentType: strings.TrimSpace(req.AttachmentType),
		Status:         models.MessageStatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	target.apply(&message)

	var link *ThreadLink
	if parentID := threadParent(req); parentID != "" {
		resolved, parent, err := s.threads.Resolve(spanCtx, parentID)
		if err != nil {
			return dto.MessageResponse{}, err
		}
		if !sameConversation(parent, senderID, target) {
			return dto.MessageResponse{}, ErrReplyTargetMismatch
		}
		resolved.Apply(&message)
		link = &resolved
	}

	rootID, groupID := "", ""
	if link != nil {
		rootID = link.RootID
	}
	if groupTarget, ok := target.(GroupTarget); ok {
		groupID = groupTarget.GroupID
	}
	if err := s.messages.CreateLinked(spanCtx, &message, rootID, groupID); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, fmt.Errorf("persist message: %w", err)
	}

	observability.ChatMessagesSent().WithLabelValues(target.kind(), message.Type).Inc()
	s.indexMessage(message)

	response := dto.NewMessageResponse(message, s.lookupUser(spanCtx, senderID))
	s.fanoutNew(spanCtx, target, response, link)

	return response, nil
}

func (s *messageService) authorizeGroupSend(ctx context.Context, senderID, groupID string) error {
	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return err
	}
	membership := NewMembership(&group)
	if !membership.IsMember(senderID) {
		return ErrNotAMember
	}
	if group.Archived {
		return ErrGroupArchived
	}
	if !membership.HasPermission(senderID, models.PermissionSendMessages) {
		return ErrInsufficientPermission
	}
	return nil
}

func (s *messageService) fanoutNew(ctx context.Context, target MessageTarget, message dto.MessageResponse, link *ThreadLink) {
	switch t := target.(type) {
	case DirectTarget:
		s.dispatcher.ToUser(t.ReceiverID, dto.ServerEvent{Event: dto.EventNewMessage, Data: message})
		if link != nil {
			s.dispatcher.ToUser(message.SenderID, dto.ServerEvent{
				Event: dto.EventThreadReplyAdded,
				Data:  dto.ThreadReplyPayload{ThreadID: link.RootID, NewReply: message},
			})
		}
	case GroupTarget:
		s.dispatcher.ToGroup(ctx, t.GroupID, dto.ServerEvent{Event: dto.EventNewGroupMessage, Data: message})
		if link != nil {
			s.dispatcher.ToGroup(ctx, t.GroupID, dto.ServerEvent{
				Event: dto.EventThreadReplyAdded,
				Data:  dto.ThreadReplyPayload{ThreadID: link.RootID, NewReply: message},
			})
		}
	}
}

// fanoutUpdated sends messageUpdated to the group channel, or to both ends of a direct conversation.
func (s *messageService) fanoutUpdated(ctx context.Context, message dto.MessageResponse, target MessageTarget) {
	event := dto.ServerEvent{Event: dto.EventMessageUpdated, Data: message}
	switch t := target.(type) {
	case GroupTarget:
		s.dispatcher.ToGroup(ctx, t.GroupID, event)
	case DirectTarget:
		s.dispatcher.ToUser(message.SenderID, event)
		s.dispatcher.ToUser(t.ReceiverID, event)
	}
}

func (s *messageService) Get(ctx context.Context, viewerID, messageID string) (dto.MessageResponse, error) {
	message, err := loadMessage(ctx, s.messages, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if err := authorizeView(ctx, s.groups, viewerID, message); err != nil {
		return dto.MessageResponse{}, err
	}
	return dto.NewMessageResponse(message, s.lookupUser(ctx, message.SenderID)), nil
}

func (s *messageService) Edit(ctx context.Context, actorID, messageID string, req dto.EditMessageRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}
	content := strings.TrimSpace(s.sanitizer.Sanitize(req.Content))
	if content == "" {
		return dto.MessageResponse{}, ErrEmptyContent
	}

	message, err := s.ownedMessage(ctx, actorID, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if message.IsDeleted {
		return dto.MessageResponse{}, ErrMessageDeleted
	}

	message.Content = content
	message.IsEdited = true
	message.UpdatedAt = s.now()
	if err := s.messages.Update(ctx, &message); err != nil {
		return dto.MessageResponse{}, fmt.Errorf("update message: %w", err)
	}

	s.indexMessage(message)
	response := dto.NewMessageResponse(message, s.lookupUser(ctx, message.SenderID))
	s.fanoutUpdated(ctx, response, TargetOf(message))
	return response, nil
}

func (s *messageService) Delete(ctx context.Context, actorID, messageID string) (dto.MessageResponse, error) {
	message, err := s.ownedMessage(ctx, actorID, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	if !message.IsDeleted {
		message.IsDeleted = true
		message.Content = ""
		message.AttachmentURL = ""
		message.AttachmentType = ""
		message.UpdatedAt = s.now()
		if err := s.messages.Update(ctx, &message); err != nil {
			return dto.MessageResponse{}, fmt.Errorf("delete message: %w", err)
		}

		if s.index != nil && s.index.Healthy() {
			if err := s.index.DeleteMessage(message.ID); err != nil {
				s.logger.Warn().Err(err).Str("message_id", message.ID).Msg("failed to remove message from search index")
			}
		}
	}

	response := dto.NewMessageResponse(message, s.lookupUser(ctx, message.SenderID))
	s.fanoutUpdated(ctx, response, TargetOf(message))
	return response, nil
}

func (s *messageService) ownedMessage(ctx context.Context, actorID, messageID string) (models.Message, error) {
	message, err := loadMessage(ctx, s.messages, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if message.SenderID != actorID {
		return models.Message{}, ErrNotOwner
	}
	return message, nil
}

func (s *messageService) Thread(ctx context.Context, viewerID, messageID string) (dto.ThreadResponse, error) {
	message, err := loadMessage(ctx, s.messages, messageID)
	if err != nil {
		return dto.ThreadResponse{}, err
	}
	if err := authorizeView(ctx, s.groups, viewerID, message); err != nil {
		return dto.ThreadResponse{}, err
	}

	root, replies, err := s.threads.Thread(ctx, message)
	if err != nil {
		return dto.ThreadResponse{}, err
	}

	expanded := s.expand(ctx, append([]models.Message{root}, replies...))
	return dto.ThreadResponse{Root: expanded[0], Replies: expanded[1:]}, nil
}

func (s *messageService) Conversation(ctx context.Context, viewerID, peerID string, query dto.HistoryQuery) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	before := time.Time{}
	if query.Before != nil {
		before = *query.Before
	}

	messages, err := s.messages.ListConversation(ctx, viewerID, peerID, before, query.Limit)
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, messages), nil
}

func (s *messageService) GroupHistory(ctx context.Context, viewerID, groupID string, query dto.HistoryQuery) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return nil, err
	}
	if !NewMembership(&group).IsMember(viewerID) {
		return nil, ErrNotAMember
	}

	before := time.Time{}
	if query.Before != nil {
		before = *query.Before
	}

	messages, err := s.messages.ListGroup(ctx, groupID, before, query.Limit)
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, messages), nil
}

func (s *messageService) Search(ctx context.Context, viewerID string, query dto.SearchQuery) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	groupIDs, err := s.groups.GroupIDsForUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if query.GroupID != "" && !containsString(groupIDs, query.GroupID) {
		return nil, ErrNotAMember
	}

	filter := repository.MessageFilter{
		ViewerID:       viewerID,
		ViewerGroupIDs: groupIDs,
		Text:           strings.TrimSpace(query.Text),
		SenderID:       query.SenderID,
		Type:           query.Type,
		PeerID:         query.PeerID,
		GroupID:        query.GroupID,
		From:           query.From,
		To:             query.To,
		Limit:          query.Limit,
	}

	if filter.Text != "" && s.index != nil && s.index.Healthy() {
		ids, err := s.index.SearchMessageIDs(search.Query{
			Text:           filter.Text,
			ViewerID:       viewerID,
			ViewerGroupIDs: groupIDs,
			SenderID:       filter.SenderID,
			Type:           filter.Type,
			PeerID:         filter.PeerID,
			GroupID:        filter.GroupID,
			From:           filter.From,
			To:             filter.To,
			Limit:          filter.Limit,
		})
		if err == nil {
			if len(ids) == 0 {
				return []dto.MessageResponse{}, nil
			}
			filter.IDs = ids
		} else {
			s.logger.Warn().Err(err).Msg("search index query failed, falling back to database")
		}
	}

	messages, err := s.messages.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, messages), nil
}

func (s *messageService) expand(ctx context.Context, messages []models.Message) []dto.MessageResponse {
	ids := make([]string, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	for _, message := range messages {
		if _, ok := seen[message.SenderID]; ok {
			continue
		}
		seen[message.SenderID] = struct{}{}
		ids = append(ids, message.SenderID)
	}

	senders, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to expand message senders")
		senders = nil
	}
	return dto.NewMessageResponseSlice(messages, senders)
}

func (s *messageService) lookupUser(ctx context.Context, userID string) *models.User {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil
	}
	return &user
}

func (s *messageService) indexMessage(message models.Message) {
	if s.index == nil || !s.index.Healthy() {
		return
	}

	doc := search.MessageDocument{
		ID:        message.ID,
		SenderID:  message.SenderID,
		Content:   message.Content,
		Type:      message.Type,
		CreatedAt: message.CreatedAt.Unix(),
	}
	if message.ReceiverID != nil {
		doc.ReceiverID = *message.ReceiverID
	}
	if message.GroupID != nil {
		doc.GroupID = *message.GroupID
	}

	if err := s.index.IndexMessage(doc); err != nil {
		s.logger.Warn().Err(err).Str("message_id", message.ID).Msg("failed to index message")
	}
}

// threadParent picks the parent of a reply. An explicit reply_to wins over thread_id.
func threadParent(req dto.SendMessageRequest) string {
	if parent := strings.TrimSpace(req.ReplyTo); parent != "" {
		return parent
	}
	return strings.TrimSpace(req.ThreadID)
}

func messageType(attachmentURL, attachmentType string) string {
	if attachmentURL == "" {
		return models.MessageTypeText
	}
	lower := strings.ToLower(strings.TrimSpace(attachmentType))
	switch {
	case strings.HasPrefix(lower, "image"):
		return models.MessageTypeImage
	case strings.HasPrefix(lower, "audio"):
		return models.MessageTypeAudio
	default:
		return models.MessageTypeFile
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
