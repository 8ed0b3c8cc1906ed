package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthchat/backend/internal/model/chat"
	chatservice "github.com/healthchat/backend/internal/service/chat"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUsersAreUniqueByEmail(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, chat.User{Name: "Alice", Email: "alice@example.com", PasswordHash: "hash"})
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, chat.User{Name: "Alice 2", Email: "Alice@Example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, chatservice.ErrEmailTaken)

	found, err := store.FindUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, "hash", found.PasswordHash)

	_, err = store.FindUserByEmail(ctx, "bob@example.com")
	assert.ErrorIs(t, err, chatservice.ErrUserNotFound)
}

func TestSessionOwnershipAndListing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	symptoms := uuid.NewString()
	first, err := store.CreateSession(ctx, "user-1", &symptoms)
	require.NoError(t, err)
	second, err := store.CreateSession(ctx, "user-1", nil)
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "user-2", nil)
	require.NoError(t, err)

	owner, err := store.FindSessionOwner(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	_, err = store.FindSessionOwner(ctx, uuid.NewString())
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)

	ids, err := store.ListUserSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	sessions, total, err := store.ListSessions(ctx, "user-1", chat.Page{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, sessions, 1)

	got, err := store.GetSession(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SymptomsID)
	assert.Equal(t, symptoms, *got.SymptomsID)
	assert.Nil(t, got.EndedAt)
}

func TestEndSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "user-1", nil)
	require.NoError(t, err)

	ended, err := store.EndSession(ctx, session.ID, time.Now())
	require.NoError(t, err)
	assert.NotNil(t, ended.EndedAt)

	_, err = store.EndSession(ctx, session.ID, time.Now())
	assert.ErrorIs(t, err, chatservice.ErrSessionEnded)

	_, err = store.EndSession(ctx, uuid.NewString(), time.Now())
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
}

func TestMessagesPersistInOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "user-1", nil)
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err := store.CreateMessage(ctx, chat.MessageCreate{SessionID: session.ID, Sender: "alice", Text: text, Role: chat.RoleUser})
		require.NoError(t, err)
	}
	_, err = store.CreateMessage(ctx, chat.MessageCreate{SessionID: session.ID, Sender: chat.BotSender, Text: "four", Role: chat.RoleBot})
	require.NoError(t, err)

	all, total, err := store.ListMessages(ctx, session.ID, chat.Page{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, all, 4)
	assert.Equal(t, "one", all[0].Text)
	assert.Equal(t, chat.RoleBot, all[3].Role)

	recent, err := store.RecentMessages(ctx, session.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Text)
	assert.Equal(t, "four", recent[1].Text)

	last, err := store.LastMessage(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "four", last.Text)
}

func TestCreateMessageRejectsUnknownSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.CreateMessage(ctx, chat.MessageCreate{SessionID: uuid.NewString(), Sender: "alice", Text: "hi", Role: chat.RoleUser})
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)

	_, err = store.CreateMessage(ctx, chat.MessageCreate{SessionID: uuid.NewString(), Sender: "", Text: "hi", Role: chat.RoleUser})
	assert.ErrorIs(t, err, chat.ErrValidation)
}

func TestPragmasApplyToEveryPooledConnection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	held, err := store.conn.Conn(ctx)
	require.NoError(t, err)
	defer held.Close()

	other, err := store.conn.Conn(ctx)
	require.NoError(t, err)
	defer other.Close()

	for name, c := range map[string]*sql.Conn{"held": held, "other": other} {
		var foreignKeys, busyTimeout int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys))
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, 1, foreignKeys, "foreign_keys on %s connection", name)
		assert.Equal(t, 5000, busyTimeout, "busy_timeout on %s connection", name)
	}
}

func TestCreateMessageRejectsUnknownSessionOnAnyConnection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Keep one connection checked out so the insert runs on another.
	held, err := store.conn.Conn(ctx)
	require.NoError(t, err)
	defer held.Close()

	_, err = store.CreateMessage(ctx, chat.MessageCreate{SessionID: uuid.NewString(), Sender: "alice", Text: "hi", Role: chat.RoleUser})
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)

	var orphans int
	require.NoError(t, held.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_messages").Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
