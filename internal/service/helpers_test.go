package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/models"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func strPtr(value string) *string {
	return &value
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Message{},
		&models.Group{},
		&models.GroupMember{},
		&models.Reaction{},
		&models.UploadRecord{},
	))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type sentEvent struct {
	Target string
	Event  dto.ServerEvent
}

// recordingNotifier captures every event pushed through the Notifier port.
type recordingNotifier struct {
	mu           sync.Mutex
	direct       []sentEvent
	channels     []sentEvent
	broadcast    []dto.ServerEvent
	unsubscribed []string
	closed       []string
}

func (n *recordingNotifier) SendToConnection(connectionID string, event dto.ServerEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct = append(n.direct, sentEvent{Target: connectionID, Event: event})
	return true
}

func (n *recordingNotifier) BroadcastToChannel(_ context.Context, channel string, event dto.ServerEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, sentEvent{Target: channel, Event: event})
}

func (n *recordingNotifier) BroadcastAll(_ context.Context, event dto.ServerEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcast = append(n.broadcast, event)
}

func (n *recordingNotifier) UnsubscribeUser(_ context.Context, userID, channel string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unsubscribed = append(n.unsubscribed, channel+"/"+userID)
}

func (n *recordingNotifier) CloseChannel(_ context.Context, channel string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, channel)
}

func (n *recordingNotifier) directTo(connectionID, name string) []dto.ServerEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var events []dto.ServerEvent
	for _, sent := range n.direct {
		if sent.Target == connectionID && sent.Event.Event == name {
			events = append(events, sent.Event)
		}
	}
	return events
}

func (n *recordingNotifier) onChannel(channel, name string) []dto.ServerEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var events []dto.ServerEvent
	for _, sent := range n.channels {
		if sent.Target == channel && sent.Event.Event == name {
			events = append(events, sent.Event)
		}
	}
	return events
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct = nil
	n.channels = nil
	n.broadcast = nil
	n.unsubscribed = nil
	n.closed = nil
}

type mailStub struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (m *mailStub) Send(_ context.Context, template, recipient string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("smtp unavailable")
	}
	m.sent = append(m.sent, template+":"+recipient)
	return nil
}

// chatFixture wires every chat service against one SQLite database.
type chatFixture struct {
	db         *gorm.DB
	notifier   *recordingNotifier
	mailer     *mailStub
	messages   repository.MessageRepository
	groupsRepo repository.GroupRepository
	reactions  repository.ReactionRepository
	users      repository.UserRepository
	presence   PresenceService
	dispatcher *Dispatcher
	messageSvc MessageService
	delivery   DeliveryService
	reaction   ReactionService
	groups     GroupService
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	db := setupServiceDB(t)
	validate := validator.New(validator.WithRequiredStructEnabled())

	f := &chatFixture{
		db:         db,
		notifier:   &recordingNotifier{},
		mailer:     &mailStub{},
		messages:   repository.NewMessageRepository(db),
		groupsRepo: repository.NewGroupRepository(db),
		reactions:  repository.NewReactionRepository(db),
		users:      repository.NewUserRepository(db),
	}
	f.presence = NewPresenceService(f.users, f.notifier, testLogger())
	f.dispatcher = NewDispatcher(f.presence, f.notifier, testLogger())
	f.messageSvc = NewMessageService(f.messages, f.groupsRepo, f.users, NewThreadLinker(f.messages), nil, f.dispatcher, validate, testLogger())
	f.delivery = NewDeliveryService(f.messages, f.groupsRepo, f.dispatcher, 500, testLogger())
	f.reaction = NewReactionService(f.messages, f.reactions, f.groupsRepo, f.dispatcher, testLogger())
	f.groups = NewGroupService(f.groupsRepo, f.dispatcher, f.mailer, validate, time.Hour, testLogger())
	return f
}

// connect registers a presence session whose connection id is "conn-<user>".
func (f *chatFixture) connect(userID string) string {
	connectionID := "conn-" + userID
	f.presence.Register(context.Background(), Session{UserID: userID, ConnectionID: connectionID})
	return connectionID
}

func (f *chatFixture) sendDirect(t *testing.T, from, to, content string) dto.MessageResponse {
	t.Helper()
	msg, err := f.messageSvc.Send(context.Background(), from, dto.SendMessageRequest{ReceiverID: to, Content: content})
	require.NoError(t, err)
	return msg
}

func (f *chatFixture) createGroup(t *testing.T, creator string, members ...string) dto.GroupResponse {
	t.Helper()
	group, err := f.groups.Create(context.Background(), creator, dto.CreateGroupRequest{Name: "Study group", Members: members})
	require.NoError(t, err)
	return group
}

func (f *chatFixture) loadMessage(t *testing.T, id string) models.Message {
	t.Helper()
	msg, err := f.messages.FindByID(context.Background(), id)
	require.NoError(t, err)
	return msg
}
