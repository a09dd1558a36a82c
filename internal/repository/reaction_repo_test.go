package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

func TestReactionRepositoryCreateIgnoresDuplicateTuple(t *testing.T) {
	db := setupChatTestDB(t)
	repo := NewReactionRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.Reaction{MessageID: "m1", UserID: "alice", Emoji: "❤️"})
	require.NoError(t, err)
	require.True(t, created)

	created, err = repo.Create(ctx, &models.Reaction{MessageID: "m1", UserID: "alice", Emoji: "❤️"})
	require.NoError(t, err)
	require.False(t, created)

	created, err = repo.Create(ctx, &models.Reaction{MessageID: "m1", UserID: "alice", Emoji: "🔥"})
	require.NoError(t, err)
	require.True(t, created)

	reactions, err := repo.ListByMessage(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, reactions, 2)
}

func TestReactionRepositoryFindAndDelete(t *testing.T) {
	db := setupChatTestDB(t)
	repo := NewReactionRepository(db)
	ctx := context.Background()

	_, err := repo.Find(ctx, "m1", "alice", "👍")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = repo.Create(ctx, &models.Reaction{MessageID: "m1", UserID: "alice", Emoji: "👍"})
	require.NoError(t, err)

	found, err := repo.Find(ctx, "m1", "alice", "👍")
	require.NoError(t, err)
	require.Equal(t, "alice", found.UserID)

	deleted, err := repo.Delete(ctx, "m1", "alice", "👍")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = repo.Delete(ctx, "m1", "alice", "👍")
	require.NoError(t, err)
	require.False(t, deleted)
}
