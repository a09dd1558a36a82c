package database

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

func TestConnectRejectsEmptyDSN(t *testing.T) {
	_, err := Connect("  ", zerolog.Nop())
	require.Error(t, err)
}

func TestConnectSQLiteAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := Connect("sqlite://"+path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	require.True(t, db.Migrator().HasTable(&models.Message{}))
	require.True(t, db.Migrator().HasTable(&models.GroupMember{}))
	require.True(t, db.Migrator().HasIndex(&models.Reaction{}, "idx_reaction_actor"))
}

func TestConnectDoesNotLogMissingRows(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "quiet.db")
	db, err := Connect("sqlite://"+path, zerolog.New(&buf))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	var user models.User
	err = db.First(&user, "id = ?", "nobody").Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.NotContains(t, buf.String(), "record not found")

	err = db.Exec("SELECT * FROM missing_table").Error
	require.Error(t, err)
	require.Contains(t, buf.String(), "missing_table")
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	_, err = ConnectRedis(context.Background(), " ")
	require.Error(t, err)

	_, err = ConnectRedis(context.Background(), "://bad")
	require.Error(t, err)

	addr := mr.Addr()
	mr.Close()
	_, err = ConnectRedis(context.Background(), "redis://"+addr)
	require.Error(t, err)
}

func TestConnectNATSRequiresURL(t *testing.T) {
	_, err := ConnectNATS("", "test")
	require.Error(t, err)
}
