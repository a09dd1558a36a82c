package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/observability"
	"github.com/noah-isme/gema-chat-api/internal/repository"
)

// Session identifies one live connection of one user.
type Session struct {
	UserID       string
	ConnectionID string
}

// PresenceService tracks which connection currently routes each user.
// A newer registration for a user supersedes the previous one.
type PresenceService interface {
	Register(ctx context.Context, session Session)
	Deregister(ctx context.Context, session Session) bool
	Lookup(userID string) (string, bool)
	OnlineUsers() []string
}

type presenceService struct {
	mu       sync.RWMutex
	sessions map[string]string
	version  uint64

	// effectsMu orders persistence and broadcasts by the version of the change that caused them.
	effectsMu        sync.Mutex
	persistedVersion map[string]uint64
	broadcastVersion uint64

	users    repository.UserRepository
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

type presenceChange struct {
	version uint64
	userID  string
	online  bool
	users   []string
}

// NewPresenceService constructs an in-memory presence registry.
func NewPresenceService(users repository.UserRepository, notifier Notifier, logger zerolog.Logger) PresenceService {
	return &presenceService{
		sessions:         make(map[string]string),
		persistedVersion: make(map[string]uint64),
		users:            users,
		notifier:         notifier,
		logger:           logger.With().Str("component", "presence_service").Logger(),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (s *presenceService) Register(ctx context.Context, session Session) {
	if session.UserID == "" || session.ConnectionID == "" {
		return
	}

	s.mu.Lock()
	previous, replaced := s.sessions[session.UserID]
	s.sessions[session.UserID] = session.ConnectionID
	change := s.changeLocked(session.UserID, true)
	s.mu.Unlock()

	if replaced && previous != session.ConnectionID {
		s.logger.Debug().Str("user_id", session.UserID).Str("superseded", previous).Msg("presence session superseded")
	}

	s.afterChange(ctx, change)
}

func (s *presenceService) Deregister(ctx context.Context, session Session) bool {
	s.mu.Lock()
	current, ok := s.sessions[session.UserID]
	if !ok || current != session.ConnectionID {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, session.UserID)
	change := s.changeLocked(session.UserID, false)
	s.mu.Unlock()

	s.afterChange(ctx, change)
	return true
}

func (s *presenceService) Lookup(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connectionID, ok := s.sessions[userID]
	return connectionID, ok
}

func (s *presenceService) OnlineUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onlineLocked()
}

func (s *presenceService) onlineLocked() []string {
	users := make([]string, 0, len(s.sessions))
	for userID := range s.sessions {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

func (s *presenceService) changeLocked(userID string, online bool) presenceChange {
	s.version++
	return presenceChange{version: s.version, userID: userID, online: online, users: s.onlineLocked()}
}

// afterChange persists and broadcasts a change unless a newer one already did.
func (s *presenceService) afterChange(ctx context.Context, change presenceChange) {
	s.effectsMu.Lock()
	defer s.effectsMu.Unlock()

	if change.version > s.persistedVersion[change.userID] {
		s.persistedVersion[change.userID] = change.version
		if s.users != nil {
			if err := s.users.SetPresence(ctx, change.userID, change.online, s.now()); err != nil {
				s.logger.Warn().Err(err).Str("user_id", change.userID).Bool("online", change.online).Msg("failed to persist presence")
			}
		}
	}

	if change.version < s.broadcastVersion {
		return
	}
	s.broadcastVersion = change.version
	observability.ChatOnlineUsers().Set(float64(len(change.users)))

	if s.notifier != nil {
		s.notifier.BroadcastAll(ctx, dto.ServerEvent{
			Event: dto.EventOnlineUsers,
			Data:  dto.OnlineUsersPayload{Users: change.users},
		})
	}
}
