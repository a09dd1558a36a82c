package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/observability"
)

// Notifier pushes events to live connections. Every method is best effort and never blocks.
type Notifier interface {
	SendToConnection(connectionID string, event dto.ServerEvent) bool
	BroadcastToChannel(ctx context.Context, channel string, event dto.ServerEvent)
	BroadcastAll(ctx context.Context, event dto.ServerEvent)
	UnsubscribeUser(ctx context.Context, userID, channel string)
	CloseChannel(ctx context.Context, channel string)
}

// GroupChannel names the broadcast channel of a group.
func GroupChannel(groupID string) string {
	return "group:" + groupID
}

// Dispatcher routes events to users through presence and to groups through their channel.
type Dispatcher struct {
	presence PresenceService
	notifier Notifier
	logger   zerolog.Logger
}

// NewDispatcher wires presence lookups to a notifier.
func NewDispatcher(presence PresenceService, notifier Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		presence: presence,
		notifier: notifier,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// ToUser delivers an event to the user's current connection. Offline users get nothing.
func (d *Dispatcher) ToUser(userID string, event dto.ServerEvent) bool {
	if d == nil || d.presence == nil || d.notifier == nil || userID == "" {
		return false
	}
	connectionID, ok := d.presence.Lookup(userID)
	if !ok {
		return false
	}
	if !d.notifier.SendToConnection(connectionID, event) {
		observability.ChatEventsDropped().WithLabelValues(event.Event).Inc()
		d.logger.Debug().Str("user_id", userID).Str("event", event.Event).Msg("event not delivered to user")
		return false
	}
	return true
}

// ToGroup broadcasts an event on the group's channel.
func (d *Dispatcher) ToGroup(ctx context.Context, groupID string, event dto.ServerEvent) {
	if d == nil || d.notifier == nil || groupID == "" {
		return
	}
	d.notifier.BroadcastToChannel(ctx, GroupChannel(groupID), event)
}

// ToAll broadcasts an event to every connection on this node.
func (d *Dispatcher) ToAll(ctx context.Context, event dto.ServerEvent) {
	if d == nil || d.notifier == nil {
		return
	}
	d.notifier.BroadcastAll(ctx, event)
}

// RemoveFromGroup stops channel delivery to a user who is no longer a member.
func (d *Dispatcher) RemoveFromGroup(ctx context.Context, groupID, userID string) {
	if d == nil || d.notifier == nil || groupID == "" {
		return
	}
	d.notifier.UnsubscribeUser(ctx, userID, GroupChannel(groupID))
}

// CloseGroup tears down the channel of a deleted group.
func (d *Dispatcher) CloseGroup(ctx context.Context, groupID string) {
	if d == nil || d.notifier == nil || groupID == "" {
		return
	}
	d.notifier.CloseChannel(ctx, GroupChannel(groupID))
}
