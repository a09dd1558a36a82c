package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/observability"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

// DeliveryService advances messages through sent, delivered and read. Transitions never go back.
type DeliveryService interface {
	MarkDelivered(ctx context.Context, recipientID, messageID string) (dto.DeliveryResponse, error)
	MarkConversationRead(ctx context.Context, readerID, senderID string) (dto.ReadResponse, error)
	MarkGroupRead(ctx context.Context, readerID, groupID string) (dto.ReadResponse, error)
}

type deliveryService struct {
	messages   repository.MessageRepository
	groups     repository.GroupRepository
	dispatcher *Dispatcher
	batchLimit int
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewDeliveryService constructs the delivery state machine.
func NewDeliveryService(messages repository.MessageRepository, groups repository.GroupRepository, dispatcher *Dispatcher, batchLimit int, logger zerolog.Logger) DeliveryService {
	if batchLimit <= 0 {
		batchLimit = 500
	}
	return &deliveryService{
		messages:   messages,
		groups:     groups,
		dispatcher: dispatcher,
		batchLimit: batchLimit,
		logger:     logger.With().Str("component", "delivery_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-chat-api/internal/service/delivery"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// MarkDelivered handles a recipient's acknowledgement of one message.
func (s *deliveryService) MarkDelivered(ctx context.Context, recipientID, messageID string) (dto.DeliveryResponse, error) {
	ctx, span := s.tracer.Start(ctx, "delivery.delivered", trace.WithAttributes(
		attribute.String("chat.message_id", messageID),
		attribute.String("chat.recipient_id", recipientID),
	))
	defer span.End()

	message, err := loadMessage(ctx, s.messages, messageID)
	if err != nil {
		return dto.DeliveryResponse{}, err
	}
	if err := s.authorizeRecipient(ctx, recipientID, message); err != nil {
		return dto.DeliveryResponse{}, err
	}

	status := message.Status
	if !status.Precedes(models.MessageStatusDelivered) {
		return dto.DeliveryResponse{MessageID: message.ID, Status: string(status)}, nil
	}

	changed, err := s.messages.MarkDelivered(ctx, message.ID, s.now())
	if err != nil {
		span.RecordError(err)
		return dto.DeliveryResponse{}, fmt.Errorf("mark delivered: %w", err)
	}

	if changed {
		status = models.MessageStatusDelivered
		observability.ChatDeliveryTransitions().WithLabelValues(string(models.MessageStatusDelivered)).Inc()
		s.dispatcher.ToUser(message.SenderID, dto.ServerEvent{
			Event: dto.EventMessageDelivered,
			Data: dto.MessageDeliveredPayload{
				MessageID:   message.ID,
				DeliveredTo: recipientID,
				Status:      string(status),
			},
		})
	}

	return dto.DeliveryResponse{MessageID: message.ID, Status: string(status), Changed: changed}, nil
}

func (s *deliveryService) authorizeRecipient(ctx context.Context, recipientID string, message models.Message) error {
	if message.SenderID == recipientID {
		return ErrNotParticipant
	}
	if message.IsGroup() {
		group, err := loadGroup(ctx, s.groups, *message.GroupID)
		if err != nil {
			return err
		}
		if !NewMembership(&group).IsMember(recipientID) {
			return ErrNotAMember
		}
		return nil
	}
	if message.ReceiverID == nil || *message.ReceiverID != recipientID {
		return ErrNotParticipant
	}
	return nil
}

// MarkConversationRead marks everything senderID sent to readerID as read.
func (s *deliveryService) MarkConversationRead(ctx context.Context, readerID, senderID string) (dto.ReadResponse, error) {
	ctx, span := s.tracer.Start(ctx, "delivery.read", trace.WithAttributes(
		attribute.String("chat.reader_id", readerID),
		attribute.String("chat.sender_id", senderID),
	))
	defer span.End()

	ids, err := s.messages.MarkConversationRead(ctx, senderID, readerID, s.now())
	if err != nil {
		span.RecordError(err)
		return dto.ReadResponse{}, fmt.Errorf("mark conversation read: %w", err)
	}

	if len(ids) > 0 {
		observability.ChatDeliveryTransitions().WithLabelValues(string(models.MessageStatusRead)).Add(float64(len(ids)))
		s.dispatcher.ToUser(senderID, dto.ServerEvent{
			Event: dto.EventMessagesRead,
			Data:  dto.MessagesReadPayload{ReaderID: readerID, MessageIDs: ids},
		})
	}

	return dto.ReadResponse{ReaderID: readerID, PeerID: senderID, MessageIDs: ids, Count: len(ids)}, nil
}

// MarkGroupRead records the reader's receipt on recent group messages.
func (s *deliveryService) MarkGroupRead(ctx context.Context, readerID, groupID string) (dto.ReadResponse, error) {
	ctx, span := s.tracer.Start(ctx, "delivery.group_read", trace.WithAttributes(
		attribute.String("chat.reader_id", readerID),
		attribute.String("chat.group_id", groupID),
	))
	defer span.End()

	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return dto.ReadResponse{}, err
	}
	if !NewMembership(&group).IsMember(readerID) {
		return dto.ReadResponse{}, ErrNotAMember
	}

	ids, err := s.messages.MarkGroupRead(ctx, groupID, readerID, s.now(), s.batchLimit)
	if err != nil {
		span.RecordError(err)
		return dto.ReadResponse{}, fmt.Errorf("mark group read: %w", err)
	}

	if len(ids) > 0 {
		observability.ChatDeliveryTransitions().WithLabelValues(string(models.MessageStatusRead)).Add(float64(len(ids)))
		s.dispatcher.ToGroup(ctx, groupID, dto.ServerEvent{
			Event: dto.EventMessagesRead,
			Data:  dto.MessagesReadPayload{ReaderID: readerID, GroupID: groupID, MessageIDs: ids},
		})
	}

	return dto.ReadResponse{ReaderID: readerID, GroupID: groupID, MessageIDs: ids, Count: len(ids)}, nil
}
