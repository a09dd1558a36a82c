package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/observability"
)

const (
	chatRedisTTL       = 30 * time.Minute
	chatSendBufferSize = 64
)

// ChatHub owns the live connections of this node and their channel subscriptions.
// Channel broadcasts are relayed to other nodes over NATS when configured, else Redis pub/sub.
type ChatHub struct {
	mu       sync.RWMutex
	clients  map[string]*hubClient
	channels map[string]map[string]struct{}

	redis       *redis.Client
	redisStream string
	redisCache  string
	nats        *nats.Conn
	natsSubject string
	nodeID      string
	logger      zerolog.Logger
}

type hubClient struct {
	connectionID string
	userID       string
	send         chan dto.ServerEvent
}

// Relay kinds. An unsubscribe with an empty user closes the channel.
const (
	relayKindEvent       = "event"
	relayKindUnsubscribe = "unsubscribe"
)

type hubRelayEvent struct {
	Source  string          `json:"source"`
	Kind    string          `json:"kind,omitempty"`
	Channel string          `json:"channel"`
	UserID  string          `json:"user_id,omitempty"`
	Event   dto.ServerEvent `json:"event"`
	SentAt  time.Time       `json:"sent_at"`
}

// NewChatHub creates a hub. Redis and NATS are optional.
func NewChatHub(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *ChatHub {
	streamChannel := ""
	cachePrefix := ""
	natsSubject := ""
	if channelBase != "" {
		streamChannel = channelBase + ":chat"
		cachePrefix = channelBase + ":chat:last"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".chat"
	}

	return &ChatHub{
		clients:     make(map[string]*hubClient),
		channels:    make(map[string]map[string]struct{}),
		redis:       redisClient,
		redisStream: streamChannel,
		redisCache:  cachePrefix,
		nats:        natsConn,
		natsSubject: natsSubject,
		nodeID:      uuid.NewString(),
		logger:      logger.With().Str("component", "chat_hub").Logger(),
	}
}

func (h *ChatHub) relayOverNATS() bool {
	return h.nats != nil && h.natsSubject != ""
}

func (h *ChatHub) relayOverRedis() bool {
	return !h.relayOverNATS() && h.redis != nil && h.redisStream != ""
}

// Start launches the cross-node relay consumer.
func (h *ChatHub) Start(ctx context.Context) {
	switch {
	case h.relayOverNATS():
		go h.consumeNATS(ctx)
	case h.relayOverRedis():
		go h.consumeRedis(ctx)
	}
}

// Attach registers a connection and returns its outbound event queue.
func (h *ChatHub) Attach(connectionID, userID string) <-chan dto.ServerEvent {
	client := &hubClient{
		connectionID: connectionID,
		userID:       userID,
		send:         make(chan dto.ServerEvent, chatSendBufferSize),
	}

	h.mu.Lock()
	h.clients[connectionID] = client
	count := len(h.clients)
	h.mu.Unlock()

	observability.ChatConnections().Set(float64(count))
	h.logger.Debug().Str("connection_id", connectionID).Str("user_id", userID).Msg("chat client attached")
	return client.send
}

// Detach drops a connection from every channel and closes its queue.
func (h *ChatHub) Detach(connectionID string) {
	h.mu.Lock()
	client, ok := h.clients[connectionID]
	if ok {
		delete(h.clients, connectionID)
		for channel, members := range h.channels {
			delete(members, connectionID)
			if len(members) == 0 {
				delete(h.channels, channel)
			}
		}
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		observability.ChatConnections().Set(float64(count))
		h.logger.Debug().Str("connection_id", connectionID).Str("user_id", client.userID).Msg("chat client detached")
	}
}

// Subscribe adds a connection to a channel and replays the channel's cached last message.
func (h *ChatHub) Subscribe(ctx context.Context, connectionID, channel string) bool {
	h.mu.Lock()
	if _, ok := h.clients[connectionID]; !ok {
		h.mu.Unlock()
		return false
	}
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		h.channels[channel] = members
	}
	members[connectionID] = struct{}{}
	h.mu.Unlock()

	if last := h.fetchLastEvent(ctx, channel); last != nil {
		h.SendToConnection(connectionID, *last)
	}
	return true
}

// Unsubscribe removes a connection from a channel.
func (h *ChatHub) Unsubscribe(connectionID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.channels[channel]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
}

// UnsubscribeUser removes every connection of userID from a channel on all nodes.
func (h *ChatHub) UnsubscribeUser(ctx context.Context, userID, channel string) {
	if userID == "" {
		return
	}
	h.dropSubscriptions(channel, userID)
	h.relay(ctx, hubRelayEvent{Kind: relayKindUnsubscribe, Channel: channel, UserID: userID})
}

// CloseChannel drops every subscription to a channel on all nodes and clears its cached message.
func (h *ChatHub) CloseChannel(ctx context.Context, channel string) {
	h.dropSubscriptions(channel, "")
	if h.redis != nil && h.redisCache != "" {
		if err := h.redis.Del(ctx, fmt.Sprintf("%s:%s", h.redisCache, channel)).Err(); err != nil {
			h.logger.Warn().Err(err).Str("channel", channel).Msg("failed to clear cached chat event")
		}
	}
	h.relay(ctx, hubRelayEvent{Kind: relayKindUnsubscribe, Channel: channel})
}

// IsSubscribed reports whether a connection currently listens on a channel.
func (h *ChatHub) IsSubscribed(connectionID, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[channel][connectionID]
	return ok
}

// dropSubscriptions removes the connections of userID, or all of them when userID is empty.
func (h *ChatHub) dropSubscriptions(channel, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	for connectionID := range members {
		client, attached := h.clients[connectionID]
		if userID == "" || !attached || client.userID == userID {
			delete(members, connectionID)
		}
	}
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

// SendToConnection queues an event for one connection without blocking.
func (h *ChatHub) SendToConnection(connectionID string, event dto.ServerEvent) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connectionID]
	if !ok {
		return false
	}
	return h.enqueue(client, event)
}

// BroadcastToChannel delivers to local subscribers, caches new group messages and relays to other nodes.
func (h *ChatHub) BroadcastToChannel(ctx context.Context, channel string, event dto.ServerEvent) {
	h.deliverToChannel(channel, event)

	if event.Event == dto.EventNewGroupMessage {
		h.cacheLastEvent(ctx, channel, event)
	}
	h.relay(ctx, hubRelayEvent{Kind: relayKindEvent, Channel: channel, Event: event})
}

// BroadcastAll delivers an event to every local connection.
func (h *ChatHub) BroadcastAll(_ context.Context, event dto.ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		h.enqueue(client, event)
	}
}

// ConnectionCount returns the number of attached connections.
func (h *ChatHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of local connections on a channel.
func (h *ChatHub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *ChatHub) deliverToChannel(channel string, event dto.ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connectionID := range h.channels[channel] {
		if client, ok := h.clients[connectionID]; ok {
			h.enqueue(client, event)
		}
	}
}

// enqueue must be called with at least the read lock held.
func (h *ChatHub) enqueue(client *hubClient, event dto.ServerEvent) bool {
	select {
	case client.send <- event:
		return true
	default:
		observability.ChatEventsDropped().WithLabelValues(event.Event).Inc()
		h.logger.Warn().Str("connection_id", client.connectionID).Str("event", event.Event).Msg("dropping chat event for slow client")
		return false
	}
}

func (h *ChatHub) cacheLastEvent(ctx context.Context, channel string, event dto.ServerEvent) {
	if h.redis == nil || h.redisCache == "" {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to marshal chat event for cache")
		return
	}

	key := fmt.Sprintf("%s:%s", h.redisCache, channel)
	if err := h.redis.Set(ctx, key, payload, chatRedisTTL).Err(); err != nil {
		h.logger.Warn().Err(err).Msg("failed to cache chat event")
	}
}

func (h *ChatHub) fetchLastEvent(ctx context.Context, channel string) *dto.ServerEvent {
	if h.redis == nil || h.redisCache == "" {
		return nil
	}

	key := fmt.Sprintf("%s:%s", h.redisCache, channel)
	result, err := h.redis.Get(ctx, key).Result()
	if err != nil {
		return nil
	}

	var event dto.ServerEvent
	if err := json.Unmarshal([]byte(result), &event); err != nil {
		h.logger.Warn().Err(err).Msg("failed to unmarshal cached chat event")
		return nil
	}
	return &event
}

func (h *ChatHub) relay(ctx context.Context, relay hubRelayEvent) {
	if err := h.publish(ctx, relay); err != nil {
		h.logger.Warn().Err(err).Str("channel", relay.Channel).Str("kind", relay.Kind).Msg("failed to relay chat event")
	}
}

// publish sends on a single transport so remote subscribers see each event once.
func (h *ChatHub) publish(ctx context.Context, relay hubRelayEvent) error {
	if !h.relayOverNATS() && !h.relayOverRedis() {
		return nil
	}

	relay.Source = h.nodeID
	relay.SentAt = time.Now().UTC()
	payload, err := json.Marshal(relay)
	if err != nil {
		return err
	}

	if h.relayOverNATS() {
		return h.nats.Publish(h.natsSubject, payload)
	}
	return h.redis.Publish(ctx, h.redisStream, payload).Err()
}

func (h *ChatHub) consumeRedis(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, h.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			h.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		h.handleRelay([]byte(msg.Payload))
	}
}

func (h *ChatHub) consumeNATS(ctx context.Context) {
	// Every node must see every event.
	sub, err := h.nats.Subscribe(h.natsSubject, func(msg *nats.Msg) {
		h.handleRelay(msg.Data)
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

// handleRelay delivers an event published by another node.
func (h *ChatHub) handleRelay(data []byte) {
	var relay hubRelayEvent
	if err := json.Unmarshal(data, &relay); err != nil {
		h.logger.Warn().Err(err).Msg("invalid chat relay event")
		return
	}
	if relay.Source == h.nodeID || relay.Channel == "" {
		return
	}
	if relay.Kind == relayKindUnsubscribe {
		h.dropSubscriptions(relay.Channel, relay.UserID)
		return
	}
	h.deliverToChannel(relay.Channel, relay.Event)
}
