package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

func TestPresenceRegisterAndLookup(t *testing.T) {
	db := setupServiceDB(t)
	users := repository.NewUserRepository(db)
	notifier := &recordingNotifier{}
	presence := NewPresenceService(users, notifier, testLogger())
	ctx := context.Background()

	presence.Register(ctx, Session{UserID: "alice", ConnectionID: "c1"})
	connectionID, ok := presence.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, "c1", connectionID)

	user, err := users.FindByID(ctx, "alice")
	require.NoError(t, err)
	require.True(t, user.Online)
	require.NotNil(t, user.LastSeen)

	require.Len(t, notifier.broadcast, 1)
	require.Equal(t, dto.EventOnlineUsers, notifier.broadcast[0].Event)
	require.Equal(t, []string{"alice"}, notifier.broadcast[0].Data.(dto.OnlineUsersPayload).Users)

	require.True(t, presence.Deregister(ctx, Session{UserID: "alice", ConnectionID: "c1"}))
	_, ok = presence.Lookup("alice")
	require.False(t, ok)

	user, err = users.FindByID(ctx, "alice")
	require.NoError(t, err)
	require.False(t, user.Online)
	require.Len(t, notifier.broadcast, 2)
	require.Empty(t, notifier.broadcast[1].Data.(dto.OnlineUsersPayload).Users)
}

func TestPresenceStaleDeregisterKeepsNewerSession(t *testing.T) {
	notifier := &recordingNotifier{}
	presence := NewPresenceService(nil, notifier, testLogger())
	ctx := context.Background()

	presence.Register(ctx, Session{UserID: "alice", ConnectionID: "old"})
	presence.Register(ctx, Session{UserID: "alice", ConnectionID: "new"})

	require.False(t, presence.Deregister(ctx, Session{UserID: "alice", ConnectionID: "old"}))
	connectionID, ok := presence.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, "new", connectionID)
	require.Len(t, notifier.broadcast, 2)

	require.False(t, presence.Deregister(ctx, Session{UserID: "bob", ConnectionID: "new"}))
	require.True(t, presence.Deregister(ctx, Session{UserID: "alice", ConnectionID: "new"}))
	require.Empty(t, presence.OnlineUsers())
}

func TestPresenceOnlineUsersSorted(t *testing.T) {
	presence := NewPresenceService(nil, nil, testLogger())
	ctx := context.Background()
	presence.Register(ctx, Session{UserID: "carol", ConnectionID: "c3"})
	presence.Register(ctx, Session{UserID: "alice", ConnectionID: "c1"})
	presence.Register(ctx, Session{UserID: "bob", ConnectionID: "c2"})
	presence.Register(ctx, Session{UserID: "", ConnectionID: "c4"})

	require.Equal(t, []string{"alice", "bob", "carol"}, presence.OnlineUsers())
}

func TestDispatcherSkipsOfflineUsers(t *testing.T) {
	notifier := &recordingNotifier{}
	presence := NewPresenceService(nil, notifier, testLogger())
	dispatcher := NewDispatcher(presence, notifier, testLogger())

	require.False(t, dispatcher.ToUser("ghost", dto.ServerEvent{Event: dto.EventNewMessage}))

	presence.Register(context.Background(), Session{UserID: "bob", ConnectionID: "conn-bob"})
	require.True(t, dispatcher.ToUser("bob", dto.ServerEvent{Event: dto.EventNewMessage}))
	require.Len(t, notifier.directTo("conn-bob", dto.EventNewMessage), 1)

	dispatcher.ToGroup(context.Background(), "g1", dto.ServerEvent{Event: dto.EventNewGroupMessage})
	require.Len(t, notifier.onChannel("group:g1", dto.EventNewGroupMessage), 1)

	var nilDispatcher *Dispatcher
	require.False(t, nilDispatcher.ToUser("bob", dto.ServerEvent{}))
}

func TestPresenceSkipsSideEffectsOfSupersededChanges(t *testing.T) {
	db := setupServiceDB(t)
	users := repository.NewUserRepository(db)
	notifier := &recordingNotifier{}
	presence := NewPresenceService(users, notifier, testLogger()).(*presenceService)
	ctx := context.Background()

	presence.Register(ctx, Session{UserID: "alice", ConnectionID: "c1"})

	// A deregister that lost the race to a newer register reaches its side effects last.
	presence.mu.Lock()
	delete(presence.sessions, "alice")
	stale := presence.changeLocked("alice", false)
	presence.sessions["alice"] = "c2"
	fresh := presence.changeLocked("alice", true)
	presence.mu.Unlock()

	presence.afterChange(ctx, fresh)
	presence.afterChange(ctx, stale)

	user, err := users.FindByID(ctx, "alice")
	require.NoError(t, err)
	require.True(t, user.Online)

	require.Len(t, notifier.broadcast, 2)
	require.Equal(t, []string{"alice"}, notifier.broadcast[1].Data.(dto.OnlineUsersPayload).Users)

	presence.Register(ctx, Session{UserID: "bob", ConnectionID: "c3"})
	require.Len(t, notifier.broadcast, 3)
	require.Equal(t, []string{"alice", "bob"}, notifier.broadcast[2].Data.(dto.OnlineUsersPayload).Users)
}
